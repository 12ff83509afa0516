package app

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead_email_automation/internal/domain/automation"
	"lead_email_automation/internal/domain/lead"
)

func TestAutomationService_Initialize(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)

	t.Run("Success - second initialize is a no-op", func(t *testing.T) {
		h.clock.Advance(time.Hour)
		rec, created, err := h.svc.Initialize(h.ctx, 1, automation.StageQualified)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, automation.StageLead, rec.CurrentStage)
		assert.Equal(t, t0, rec.LeadProgress.NextEmailDue.Time)
	})

	t.Run("Error - unknown stage", func(t *testing.T) {
		_, _, err := h.svc.Initialize(h.ctx, 7, automation.Stage("Archived"))
		assert.ErrorIs(t, err, automation.ErrInvalidTransition)
	})
}

func TestAutomationService_InitializeAll(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)
	h.leads.Put(&lead.Lead{ID: 2, Name: "Grace", Email: "grace@example.com", Stage: automation.StageNegotiations})
	h.leads.Put(&lead.Lead{ID: 3, Name: "Linus", Email: "linus@example.com", Stage: automation.StageWon})
	h.leads.Put(&lead.Lead{ID: 4, Name: "Broken", Email: "broken@example.com", Stage: automation.Stage("???")})

	res, err := h.svc.InitializeAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Message, "Initialized 2 automations")

	won := h.record(t, 3)
	assert.False(t, won.IsActive)
	assert.Equal(t, automation.ReasonStageTerminal, won.PausedReason)

	again, err := h.svc.InitializeAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 3, again.Skipped)
}

func TestAutomationService_OnStageChanged(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)

	t.Run("Success - same stage is a no-op", func(t *testing.T) {
		before := h.record(t, 1)
		rec, err := h.svc.OnStageChanged(h.ctx, 1, automation.StageLead)
		require.NoError(t, err)
		assert.Equal(t, before.Version, rec.Version)
	})

	t.Run("Success - missing record is created at the new stage", func(t *testing.T) {
		rec, err := h.svc.OnStageChanged(h.ctx, 9, automation.StageQualified)
		require.NoError(t, err)
		assert.Equal(t, automation.StageQualified, rec.CurrentStage)
		assert.True(t, rec.IsActive)
	})

	t.Run("Success - won retires the automation", func(t *testing.T) {
		rec, err := h.svc.OnStageChanged(h.ctx, 1, automation.StageWon)
		require.NoError(t, err)
		assert.False(t, rec.IsActive)
		assert.Equal(t, automation.ReasonStageTerminal, rec.PausedReason)
		h.sweepAt(t0.Add(30 * day))
		assert.Empty(t, h.mailer.SentTo(1))
	})

	t.Run("Error - unknown stage", func(t *testing.T) {
		_, err := h.svc.OnStageChanged(h.ctx, 1, automation.Stage("Archived"))
		assert.ErrorIs(t, err, automation.ErrInvalidTransition)
	})
}

func TestAutomationService_PauseResume(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)

	t.Run("Error - resume unknown lead", func(t *testing.T) {
		_, err := h.svc.Resume(h.ctx, 42, "")
		assert.ErrorIs(t, err, automation.ErrNotFound)
	})

	t.Run("Error - resume active automation", func(t *testing.T) {
		before := h.record(t, 1)
		_, err := h.svc.Resume(h.ctx, 1, "")
		assert.ErrorIs(t, err, automation.ErrInvalidTransition)
		assert.Equal(t, before, h.record(t, 1))
	})

	t.Run("Error - resume after the lead sequence ran out", func(t *testing.T) {
		h := newHarness(t, SchedulerConfig{})
		h.addLead(t, 2, automation.StageLead)
		for i := 0; i < 5; i++ {
			h.sweepAt(t0.Add(time.Duration(i) * 2 * day))
		}
		before := h.record(t, 2)
		require.Equal(t, automation.ReasonNeverReplied, before.PausedReason)
		require.Len(t, h.mailer.SentTo(2), 5)

		_, err := h.svc.Resume(h.ctx, 2, "")
		assert.ErrorIs(t, err, automation.ErrInvalidTransition)
		assert.Equal(t, before, h.record(t, 2))
	})

	t.Run("Success - pause then resume", func(t *testing.T) {
		rec, err := h.svc.Pause(h.ctx, 1, "vacation")
		require.NoError(t, err)
		assert.False(t, rec.IsActive)
		assert.Equal(t, "vacation", rec.PausedReason)

		_, err = h.svc.Pause(h.ctx, 1, "again")
		assert.ErrorIs(t, err, automation.ErrInvalidTransition)

		rec, err = h.svc.Resume(h.ctx, 1, "back")
		require.NoError(t, err)
		assert.True(t, rec.IsActive)
		assert.Empty(t, rec.PausedReason)
	})

	t.Run("Success - resume after a reply pause sends again", func(t *testing.T) {
		_, err := h.svc.OnReplyDetected(h.ctx, 1)
		require.NoError(t, err)
		h.sweepAt(t0.Add(5 * day))
		require.Equal(t, automation.ReasonLeadReplied, h.record(t, 1).PausedReason)

		rec, err := h.svc.Resume(h.ctx, 1, "lead went quiet again")
		require.NoError(t, err)
		assert.False(t, rec.LeadReplied)
		assert.Equal(t, 1, h.sweepAt(rec.LeadProgress.NextEmailDue.Time).Sent)
	})
}

func TestAutomationService_OnReplyFromAddress(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)

	rec, err := h.svc.OnReplyFromAddress(h.ctx, " LEAD1@example.com ")
	require.NoError(t, err)
	assert.True(t, rec.LeadReplied)

	_, err = h.svc.OnReplyFromAddress(h.ctx, "stranger@example.com")
	assert.ErrorIs(t, err, lead.ErrNotFound)
}

func TestAutomationService_ProcessNow(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)

	first := h.svc.ProcessNow(h.ctx)
	second := h.svc.ProcessNow(h.ctx)
	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 0, second.Sent)
}

func TestAutomationService_Stats(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)
	h.addLead(t, 2, automation.StageLead)
	h.addLead(t, 3, automation.StageQualified)
	h.addLead(t, 4, automation.StageLost)

	h.sweepAt(t0)
	_, err := h.svc.OnReplyDetected(h.ctx, 2)
	require.NoError(t, err)
	_, err = h.svc.Pause(h.ctx, 1, "")
	require.NoError(t, err)

	before := h.record(t, 2)
	st, err := h.svc.Stats(h.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, before, h.record(t, 2))

	assert.Equal(t, 4, st.TotalAutomations)
	assert.Equal(t, 2, st.ActiveAutomations)
	assert.Equal(t, 1, st.PausedAutomations)
	assert.Equal(t, 1, st.RetiredAutomations)
	assert.Equal(t, st.TotalAutomations, st.ActiveAutomations+st.PausedAutomations+st.RetiredAutomations)
	assert.Equal(t, 1, st.LeadsReplied)

	require.Len(t, st.StageStats, len(automation.AllStages))
	assert.Equal(t, StageStat{Stage: automation.StageLead, Count: 2, Active: 1}, st.StageStats[0])
	assert.Equal(t, StageStat{Stage: automation.StageQualified, Count: 1, Active: 1}, st.StageStats[1])

	require.Len(t, st.EmailStats, 1)
	assert.Equal(t, "lead_intro", st.EmailStats[0].EmailType)
	assert.Equal(t, 2, st.EmailStats[0].Success)

	leads := st.LeadsByStage[automation.StageLead]
	require.Len(t, leads, 2)
	assert.Equal(t, int64(1), leads[0].LeadID)
	assert.Equal(t, "Lead 1", leads[0].LeadName)
	assert.Nil(t, leads[0].NextEmailDue)
	require.NotNil(t, leads[1].NextEmailDue)
	assert.Equal(t, t0.Add(2*day), *leads[1].NextEmailDue)

	assert.Len(t, st.RecentEmails, 2)
}

func TestAutomationService_LeadSummaryAndHistory(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)
	h.sweepAt(t0)

	sum, err := h.svc.LeadSummary(h.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "lead1@example.com", sum.LeadEmail)
	assert.Equal(t, 1000.0, sum.LeadValue)
	assert.Equal(t, 1, sum.EmailsSent)

	history, err := h.svc.EmailHistory(h.ctx, 1, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, "Thanks for your interest, Lead 1", history[0].Subject)

	_, err = h.svc.LeadSummary(h.ctx, 99)
	assert.ErrorIs(t, err, automation.ErrNotFound)

	// summaries survive a lead that vanished from the CRM
	h.leads.Put(&lead.Lead{ID: 5, Name: "Tmp", Email: "tmp@example.com", Company: sql.NullString{}, Stage: automation.StageLead})
	_, _, err = h.svc.Initialize(h.ctx, 5, automation.StageLead)
	require.NoError(t, err)
	h.leads.Delete(5)
	sum, err = h.svc.LeadSummary(h.ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, sum.LeadName)
}
