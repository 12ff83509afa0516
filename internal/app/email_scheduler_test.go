package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead_email_automation/internal/domain/automation"
	"lead_email_automation/internal/domain/mail"
)

func TestProcessDueEmails_LeadOnboarding(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)

	wantTypes := []string{"lead_intro", "lead_followup_1", "lead_followup_2", "lead_followup_3", "lead_followup_4"}
	for i, emailType := range wantTypes {
		now := t0.Add(time.Duration(i) * 2 * day)
		sum := h.sweepAt(now)
		assert.Equal(t, 1, sum.Sent, "tick %d", i)

		rec := h.record(t, 1)
		assert.Equal(t, i+1, rec.LeadProgress.EmailsSent)
		sent := h.mailer.SentTo(1)
		require.Len(t, sent, i+1)
		assert.Equal(t, emailType, sent[i].EmailType)
		assert.Equal(t, "lead1@example.com", sent[i].To)

		if i < len(wantTypes)-1 {
			require.True(t, rec.LeadProgress.NextEmailDue.Valid)
			assert.Equal(t, now.Add(2*day), rec.LeadProgress.NextEmailDue.Time)
			assert.True(t, rec.IsActive)
		}
	}

	rec := h.record(t, 1)
	assert.False(t, rec.IsActive)
	assert.Equal(t, automation.ReasonNeverReplied, rec.PausedReason)
	assert.False(t, rec.LeadProgress.NextEmailDue.Valid)

	sum := h.sweepAt(t0.Add(10 * day))
	assert.Equal(t, 0, sum.Selected)
	assert.Equal(t, 0, sum.Sent)
	assert.Len(t, h.mailer.SentTo(1), 5)
}

func TestProcessDueEmails_IdempotentAtSameNow(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)
	h.addLead(t, 2, automation.StageLead)

	first := h.sweepAt(t0)
	assert.Equal(t, 2, first.Selected)
	assert.Equal(t, 2, first.Sent)

	second := h.sweepAt(t0)
	assert.Equal(t, 0, second.Selected)
	assert.Equal(t, 0, second.Sent)
	assert.Len(t, h.mailer.Sent(), 2)
}

func TestProcessDueEmails_ConcurrentSweepsNeverDoubleSend(t *testing.T) {
	h := newHarness(t, SchedulerConfig{Concurrency: 4})
	for id := int64(1); id <= 25; id++ {
		h.addLead(t, id, automation.StageLead)
	}

	var wg sync.WaitGroup
	summaries := make([]SweepSummary, 6)
	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i] = h.engine.ProcessDueEmails(h.ctx, t0)
		}(i)
	}
	wg.Wait()

	total := 0
	for _, s := range summaries {
		total += s.Sent
		assert.Equal(t, 0, s.Errors)
	}
	assert.Equal(t, 25, total)
	require.Len(t, h.mailer.Sent(), 25)

	perLead := map[int64]int{}
	for _, msg := range h.mailer.Sent() {
		perLead[msg.LeadID]++
	}
	for id := int64(1); id <= 25; id++ {
		assert.Equal(t, 1, perLead[id], "lead %d", id)
		assert.Equal(t, 1, h.record(t, id).LeadProgress.EmailsSent)
	}
}

func TestProcessDueEmails_RetryOnFailure(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)
	h.addLead(t, 2, automation.StageLead)

	h.mailer.onSend = func(msg mail.Message) error {
		if msg.LeadID == 1 {
			return fmt.Errorf("smtp: 451 temporary failure")
		}
		return nil
	}

	sum := h.sweepAt(t0)
	assert.Equal(t, 2, sum.Selected)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, sum.Failed)

	rec := h.record(t, 1)
	assert.Equal(t, 0, rec.LeadProgress.EmailsSent)
	assert.Equal(t, t0, rec.LeadProgress.NextEmailDue.Time)
	assert.True(t, rec.IsActive)
	assert.False(t, rec.LeaseUntil.Valid)

	entries, err := h.logs.ListByLead(h.ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "smtp: 451 temporary failure", entries[0].FailureReason.String)
	assert.Equal(t, "Lead 1", entries[0].LeadName)

	// same now: the failed record is due again, the sent one is not
	h.mailer.onSend = nil
	sum = h.sweepAt(t0)
	assert.Equal(t, 1, sum.Selected)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 1, h.record(t, 1).LeadProgress.EmailsSent)
}

func TestProcessDueEmails_ResumeDoesNotFloodBacklog(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)
	h.sweepAt(t0)

	h.clock.Set(t0.Add(time.Hour))
	_, err := h.svc.Pause(h.ctx, 1, "")
	require.NoError(t, err)

	resumeAt := t0.Add(30 * day)
	h.clock.Set(resumeAt)
	rec, err := h.svc.Resume(h.ctx, 1, "back from holiday")
	require.NoError(t, err)
	assert.Equal(t, resumeAt.Add(2*day), rec.LeadProgress.NextEmailDue.Time)

	assert.Equal(t, 0, h.sweepAt(resumeAt).Sent)
	assert.Equal(t, 1, h.sweepAt(resumeAt.Add(2*day)).Sent)
	assert.Equal(t, 0, h.sweepAt(resumeAt.Add(2*day)).Sent)
	assert.Len(t, h.mailer.SentTo(1), 2)
}

func TestProcessDueEmails_IntervalLaw(t *testing.T) {
	for _, stage := range []automation.Stage{automation.StageQualified, automation.StageNegotiations} {
		t.Run(string(stage), func(t *testing.T) {
			h := newHarness(t, SchedulerConfig{})
			h.addLead(t, 1, stage)

			prev := h.record(t, 1).NextEmailDue()
			require.True(t, prev.Valid)
			assert.Equal(t, t0.Add(2*day), prev.Time)

			for i := 0; i < 6; i++ {
				sum := h.sweepAt(prev.Time)
				require.Equal(t, 1, sum.Sent)
				next := h.record(t, 1).NextEmailDue()
				require.True(t, next.Valid)
				assert.Equal(t, 2*day, next.Time.Sub(prev.Time))
				prev = next
			}

			sent := h.mailer.SentTo(1)
			require.Len(t, sent, 6)
			for _, msg := range sent {
				assert.Equal(t, mail.AudienceStaff, msg.Audience)
				assert.Equal(t, "sales@example.com", msg.To)
			}
		})
	}
}

func TestProcessDueEmails_ReplyMidSequencePausesLeadStage(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)
	h.sweepAt(t0)
	h.sweepAt(t0.Add(2 * day))
	require.Equal(t, 2, h.record(t, 1).LeadProgress.EmailsSent)

	_, err := h.svc.OnReplyDetected(h.ctx, 1)
	require.NoError(t, err)

	sum := h.sweepAt(t0.Add(100 * day))
	assert.Equal(t, 0, sum.Sent)
	assert.Equal(t, 1, sum.Skipped)
	assert.Len(t, h.mailer.SentTo(1), 2)

	rec := h.record(t, 1)
	assert.False(t, rec.IsActive)
	assert.Equal(t, automation.ReasonLeadReplied, rec.PausedReason)
	assert.Equal(t, 2, rec.LeadProgress.EmailsSent)
	assert.False(t, rec.LeadProgress.NextEmailDue.Valid)

	assert.Equal(t, 0, h.sweepAt(t0.Add(200*day)).Selected)
}

func TestProcessDueEmails_ReplyDuringProposalSkipsAndRearms(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageProposalSent)
	_, err := h.svc.OnReplyDetected(h.ctx, 1)
	require.NoError(t, err)

	now := t0.Add(day)
	sum := h.sweepAt(now)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Sent)

	rec := h.record(t, 1)
	assert.True(t, rec.IsActive)
	assert.Equal(t, 0, rec.ProposalSentProgress.EmailsSent)
	assert.Equal(t, now.Add(2*day), rec.ProposalSentProgress.NextEmailDue.Time)
	assert.Empty(t, h.mailer.Sent())
}

func TestProcessDueEmails_ReplyDoesNotStopStaffReminders(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageQualified)
	_, err := h.svc.OnReplyDetected(h.ctx, 1)
	require.NoError(t, err)

	sum := h.sweepAt(t0.Add(2 * day))
	assert.Equal(t, 1, sum.Sent)
	assert.True(t, h.record(t, 1).IsActive)
}

func TestProcessDueEmails_StageChangeResetsCadence(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 2, automation.StageQualified)
	t5 := h.record(t, 2).QualifiedProgress.NextEmailDue.Time

	t3 := t0.Add(3 * time.Hour)
	h.clock.Set(t3)
	rec, err := h.svc.OnStageChanged(h.ctx, 2, automation.StageProposalSent)
	require.NoError(t, err)
	assert.Equal(t, t3.Add(day), rec.ProposalSentProgress.NextEmailDue.Time)
	assert.Equal(t, 0, rec.QualifiedProgress.EmailsSent)
	assert.False(t, rec.QualifiedProgress.NextEmailDue.Valid)

	// the old qualified due time no longer matters
	assert.Equal(t, 1, h.sweepAt(t3.Add(day)).Sent)
	assert.Equal(t, 0, h.sweepAt(t5).Sent)

	sent := h.mailer.SentTo(2)
	require.Len(t, sent, 1)
	assert.Equal(t, "proposal_followup_1", sent[0].EmailType)
	assert.Equal(t, 0, h.record(t, 2).QualifiedProgress.EmailsSent)
}

func TestProcessDueEmails_ProposalRepeatsLastTemplate(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageProposalSent)

	now := t0.Add(day)
	for i := 0; i < 5; i++ {
		require.Equal(t, 1, h.sweepAt(now).Sent)
		now = now.Add(2 * day)
	}

	var types []string
	for _, msg := range h.mailer.SentTo(1) {
		types = append(types, msg.EmailType)
	}
	assert.Equal(t, []string{
		"proposal_followup_1", "proposal_followup_2", "proposal_followup_3",
		"proposal_followup_3", "proposal_followup_3",
	}, types)
	assert.True(t, h.record(t, 1).IsActive)
}

func TestProcessDueEmails_StageChangeWhileSending(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)

	h.mailer.onSend = func(msg mail.Message) error {
		_, err := h.svc.OnStageChanged(context.Background(), msg.LeadID, automation.StageQualified)
		return err
	}
	sum := h.sweepAt(t0)
	require.Equal(t, 1, sum.Sent)

	rec := h.record(t, 1)
	assert.Equal(t, automation.StageQualified, rec.CurrentStage)
	assert.Equal(t, 1, rec.LeadProgress.EmailsSent)
	assert.False(t, rec.LeadProgress.NextEmailDue.Valid)
	assert.Equal(t, 0, rec.QualifiedProgress.EmailsSent)
	assert.Equal(t, t0.Add(2*day), rec.QualifiedProgress.NextEmailDue.Time)
	assert.True(t, rec.IsActive)
	assert.False(t, rec.LeaseUntil.Valid)
}

func TestProcessDueEmails_MissingLeadPausesAutomation(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)
	h.leads.Delete(1)

	sum := h.sweepAt(t0)
	assert.Equal(t, 1, sum.Skipped)
	rec := h.record(t, 1)
	assert.False(t, rec.IsActive)
	assert.Equal(t, automation.ReasonLeadMissing, rec.PausedReason)
}

func TestProcessDueEmails_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.addLead(t, 1, automation.StageLead)
	h.addLead(t, 2, automation.StageLead)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := h.engine.ProcessDueEmails(ctx, t0)
	assert.Equal(t, 2, sum.Selected)
	assert.Equal(t, 2, sum.Deferred)
	assert.Equal(t, 0, sum.Sent)
	assert.True(t, h.record(t, 1).IsDue(t0))
}

func TestProcessDueEmails_CancelLetsInFlightFinish(t *testing.T) {
	h := newHarness(t, SchedulerConfig{Concurrency: 1})
	for id := int64(1); id <= 3; id++ {
		h.addLead(t, id, automation.StageLead)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	h.mailer.onSend = func(mail.Message) error {
		once.Do(cancel)
		return nil
	}

	sum := h.engine.ProcessDueEmails(ctx, t0)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 2, sum.Deferred)

	entries, err := h.logs.Recent(h.ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, h.record(t, entries[0].LeadID).LeadProgress.EmailsSent)
	for id := int64(1); id <= 3; id++ {
		rec := h.record(t, id)
		assert.False(t, rec.LeaseUntil.Valid)
		if id != entries[0].LeadID {
			assert.Equal(t, 0, rec.LeadProgress.EmailsSent)
			assert.True(t, rec.IsDue(t0))
		}
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	attempts map[string]int
	sweeps   []SweepSummary
}

func (o *recordingObserver) EmailAttempted(_ automation.Stage, emailType string, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts[emailType]++
}

func (o *recordingObserver) SweepFinished(s SweepSummary, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sweeps = append(o.sweeps, s)
}

func TestProcessDueEmails_Observer(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	obs := &recordingObserver{attempts: map[string]int{}}
	h.engine.SetObserver(obs)
	h.addLead(t, 1, automation.StageLead)

	sum := h.sweepAt(t0)
	assert.Equal(t, map[string]int{"lead_intro": 1}, obs.attempts)
	require.Len(t, obs.sweeps, 1)
	assert.Equal(t, sum, obs.sweeps[0])
	assert.Contains(t, sum.Message, "1 sent")
}
