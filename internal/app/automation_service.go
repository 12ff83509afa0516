package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lead_email_automation/internal/domain/automation"
	"lead_email_automation/internal/domain/clock"
	"lead_email_automation/internal/domain/emaillog"
	"lead_email_automation/internal/domain/lead"
)

// errUnchanged tells mutateRecord that fn decided to leave the record as is.
var errUnchanged = fmt.Errorf("automation record unchanged")

const maxMutateAttempts = 5

// mutateRecord is the read-modify-write loop every record change goes
// through. Conflicting writes are retried on a fresh read.
func mutateRecord(ctx context.Context, repo automation.Repository, leadID int64, fn func(*automation.Record) error) (*automation.Record, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		rec, err := repo.GetByLeadID(ctx, leadID)
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, errUnchanged) {
				return rec, nil
			}
			return nil, err
		}
		err = repo.Update(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, automation.ErrConcurrencyConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("lead %d: %w", leadID, automation.ErrConcurrencyConflict)
}

// AutomationService holds the control operations used by the admin surfaces
// and the CRM notifications.
type AutomationService struct {
	records   automation.Repository
	emailLog  emaillog.Repository
	leads     lead.Repository
	policy    automation.Policy
	clock     clock.Clock
	scheduler EmailScheduler
	logger    *logrus.Entry
}

func NewAutomationService(
	records automation.Repository,
	emailLog emaillog.Repository,
	leads lead.Repository,
	policy automation.Policy,
	clk clock.Clock,
	scheduler EmailScheduler,
	logger *logrus.Entry,
) *AutomationService {
	return &AutomationService{
		records:   records,
		emailLog:  emailLog,
		leads:     leads,
		policy:    policy,
		clock:     clk,
		scheduler: scheduler,
		logger:    logger.WithField("component", "automation_service"),
	}
}

// Initialize creates the record of a lead entering stage. It is a no-op
// returning the existing record when the lead already has one.
func (s *AutomationService) Initialize(ctx context.Context, leadID int64, stage automation.Stage) (rec *automation.Record, created bool, err error) {
	existing, err := s.records.GetByLeadID(ctx, leadID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, automation.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check existing automation: %w", err)
	}

	rec, err = automation.NewRecord(leadID, stage, s.policy, s.clock.Now())
	if err != nil {
		return nil, false, err
	}
	if err := s.records.Create(ctx, rec); err != nil {
		if errors.Is(err, automation.ErrAlreadyExists) {
			existing, getErr := s.records.GetByLeadID(ctx, leadID)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to load concurrently created automation: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create automation: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"lead_id": leadID, "stage": stage}).Info("Automation initialized")
	return rec, true, nil
}

// InitializeResult reports a back-fill run.
type InitializeResult struct {
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Message string `json:"message"`
}

// InitializeAll creates a record for every lead that lacks one, anchored to
// the lead's current stage. Leads that already have a record are skipped.
func (s *AutomationService) InitializeAll(ctx context.Context) (InitializeResult, error) {
	var res InitializeResult
	leads, err := s.leads.ListAll(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list leads: %w", err)
	}

	for _, ld := range leads {
		_, created, err := s.Initialize(ctx, ld.ID, ld.Stage)
		switch {
		case err != nil:
			res.Failed++
			s.logger.WithError(err).WithField("lead_id", ld.ID).Warn("Failed to initialize automation")
		case created:
			res.Created++
		default:
			res.Skipped++
		}
	}

	res.Message = fmt.Sprintf("Initialized %d automations (%d already existed", res.Created, res.Skipped)
	if res.Failed > 0 {
		res.Message += fmt.Sprintf(", %d failed", res.Failed)
	}
	res.Message += ")"
	s.logger.WithFields(logrus.Fields{
		"created": res.Created,
		"skipped": res.Skipped,
		"failed":  res.Failed,
	}).Info("Automation back-fill finished")
	return res, nil
}

// OnStageChanged applies a CRM stage change. A lead without a record gets one
// anchored to the new stage. Changing to the current stage is a no-op.
func (s *AutomationService) OnStageChanged(ctx context.Context, leadID int64, stage automation.Stage) (*automation.Record, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", automation.ErrInvalidTransition, stage)
	}
	logCtx := s.logger.WithFields(logrus.Fields{"lead_id": leadID, "stage": stage})

	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		rec, err := mutateRecord(ctx, s.records, leadID, func(r *automation.Record) error {
			changed, err := r.ChangeStage(stage, s.policy, s.clock.Now())
			if err != nil {
				return err
			}
			if !changed {
				return errUnchanged
			}
			return nil
		})
		if err == nil {
			logCtx.Info("Automation stage changed")
			return rec, nil
		}
		if !errors.Is(err, automation.ErrNotFound) {
			return nil, err
		}

		rec, created, err := s.Initialize(ctx, leadID, stage)
		if err != nil {
			return nil, err
		}
		if created {
			return rec, nil
		}
		// Someone created the record in between; apply the change to it.
	}
	return nil, fmt.Errorf("lead %d: %w", leadID, automation.ErrConcurrencyConflict)
}

// OnReplyDetected flags the lead as replied. The next sweep applies the
// stage's reply policy.
func (s *AutomationService) OnReplyDetected(ctx context.Context, leadID int64) (*automation.Record, error) {
	rec, err := mutateRecord(ctx, s.records, leadID, func(r *automation.Record) error {
		if !r.MarkReplied(s.clock.Now()) {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithField("lead_id", leadID).Info("Lead reply recorded")
	return rec, nil
}

// OnReplyFromAddress resolves an inbound sender address to a lead and records
// the reply. Returns lead.ErrNotFound for unknown senders.
func (s *AutomationService) OnReplyFromAddress(ctx context.Context, address string) (*automation.Record, error) {
	address = strings.TrimSpace(address)
	ld, err := s.leads.GetByEmail(ctx, address)
	if err != nil {
		return nil, err
	}
	return s.OnReplyDetected(ctx, ld.ID)
}

// Pause is the manual admin pause.
func (s *AutomationService) Pause(ctx context.Context, leadID int64, reason string) (*automation.Record, error) {
	rec, err := mutateRecord(ctx, s.records, leadID, func(r *automation.Record) error {
		return r.Pause(reason, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"lead_id": leadID, "reason": rec.PausedReason}).Info("Automation paused")
	return rec, nil
}

// Resume reactivates a paused automation. reason is only logged.
func (s *AutomationService) Resume(ctx context.Context, leadID int64, reason string) (*automation.Record, error) {
	rec, err := mutateRecord(ctx, s.records, leadID, func(r *automation.Record) error {
		return r.Resume(s.policy, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"lead_id": leadID, "reason": reason}).Info("Automation resumed")
	return rec, nil
}

// ProcessNow runs a sweep at the current time.
func (s *AutomationService) ProcessNow(ctx context.Context) SweepSummary {
	return s.scheduler.ProcessDueEmails(ctx, s.clock.Now())
}

// LeadSummary is the per-lead view shown in the admin UI.
type LeadSummary struct {
	LeadID       int64            `json:"leadId"`
	LeadName     string           `json:"leadName"`
	LeadEmail    string           `json:"leadEmail"`
	LeadValue    float64          `json:"leadValue"`
	CurrentStage automation.Stage `json:"currentStage"`
	EmailsSent   int              `json:"emailsSent"`
	NextEmailDue *time.Time       `json:"nextEmailDue"`
	IsActive     bool             `json:"isActive"`
	LeadReplied  bool             `json:"leadReplied"`
	PausedReason string           `json:"pausedReason"`
}

// EmailLogView is the JSON form of an email log entry.
type EmailLogView struct {
	ID            string    `json:"id"`
	LeadID        int64     `json:"leadId"`
	LeadName      string    `json:"leadName"`
	LeadEmail     string    `json:"leadEmail"`
	LeadValue     float64   `json:"leadValue"`
	EmailType     string    `json:"emailType"`
	Subject       string    `json:"subject"`
	SentAt        time.Time `json:"sentAt"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failureReason,omitempty"`
}

type StageStat struct {
	Stage  automation.Stage `json:"stage"`
	Count  int              `json:"count"`
	Active int              `json:"active"`
}

// Stats is the aggregated dashboard view. Building it never writes anything.
// Won and Lost records count as retired, not paused, so the three counters
// add up to TotalAutomations.
type Stats struct {
	TotalAutomations   int                                `json:"totalAutomations"`
	ActiveAutomations  int                                `json:"activeAutomations"`
	PausedAutomations  int                                `json:"pausedAutomations"`
	RetiredAutomations int                                `json:"retiredAutomations"`
	LeadsReplied       int                                `json:"leadsReplied"`
	StageStats         []StageStat                        `json:"stageStats"`
	EmailStats         []emaillog.TemplateStat            `json:"emailStats"`
	LeadsByStage       map[automation.Stage][]LeadSummary `json:"leadsByStage"`
	RecentEmails       []EmailLogView                     `json:"recentEmails"`
}

func summarize(rec *automation.Record, ld *lead.Lead) LeadSummary {
	sum := LeadSummary{
		LeadID:       rec.LeadID,
		CurrentStage: rec.CurrentStage,
		EmailsSent:   rec.EmailsSent(),
		IsActive:     rec.IsActive,
		LeadReplied:  rec.LeadReplied,
		PausedReason: rec.PausedReason,
	}
	if due := rec.NextEmailDue(); due.Valid {
		t := due.Time
		sum.NextEmailDue = &t
	}
	if ld != nil {
		sum.LeadName = ld.Name
		sum.LeadEmail = ld.Email
		sum.LeadValue = ld.Value
	}
	return sum
}

func viewEntry(e *emaillog.Entry) EmailLogView {
	return EmailLogView{
		ID:            e.ID.String(),
		LeadID:        e.LeadID,
		LeadName:      e.LeadName,
		LeadEmail:     e.LeadEmail,
		LeadValue:     e.LeadValue,
		EmailType:     e.EmailType,
		Subject:       e.Subject,
		SentAt:        e.SentAt,
		Success:       e.Success,
		FailureReason: e.FailureReason.String,
	}
}

// Stats aggregates the automation records and the email log. recentN caps the
// recent email list.
func (s *AutomationService) Stats(ctx context.Context, recentN int) (*Stats, error) {
	records, err := s.records.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	leads, err := s.leads.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	leadByID := make(map[int64]*lead.Lead, len(leads))
	for _, ld := range leads {
		leadByID[ld.ID] = ld
	}

	st := &Stats{
		TotalAutomations: len(records),
		LeadsByStage:     make(map[automation.Stage][]LeadSummary),
	}
	perStage := make(map[automation.Stage]*StageStat, len(automation.AllStages))
	for _, stage := range automation.AllStages {
		perStage[stage] = &StageStat{Stage: stage}
	}

	for _, rec := range records {
		switch {
		case rec.IsActive:
			st.ActiveAutomations++
		case rec.CurrentStage.IsTerminal():
			st.RetiredAutomations++
		default:
			st.PausedAutomations++
		}
		if rec.LeadReplied {
			st.LeadsReplied++
		}
		if ps, ok := perStage[rec.CurrentStage]; ok {
			ps.Count++
			if rec.IsActive {
				ps.Active++
			}
		}
		st.LeadsByStage[rec.CurrentStage] = append(st.LeadsByStage[rec.CurrentStage], summarize(rec, leadByID[rec.LeadID]))
	}
	for _, stage := range automation.AllStages {
		st.StageStats = append(st.StageStats, *perStage[stage])
	}
	for stage := range st.LeadsByStage {
		list := st.LeadsByStage[stage]
		sort.Slice(list, func(i, j int) bool { return list[i].LeadID < list[j].LeadID })
	}

	st.EmailStats, err = s.emailLog.TemplateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate email stats: %w", err)
	}
	recent, err := s.emailLog.Recent(ctx, recentN)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent emails: %w", err)
	}
	st.RecentEmails = make([]EmailLogView, 0, len(recent))
	for _, e := range recent {
		st.RecentEmails = append(st.RecentEmails, viewEntry(e))
	}
	return st, nil
}

// LeadSummary returns the admin view of one lead's automation.
func (s *AutomationService) LeadSummary(ctx context.Context, leadID int64) (*LeadSummary, error) {
	rec, err := s.records.GetByLeadID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return s.summaryFor(ctx, rec)
}

func (s *AutomationService) summaryFor(ctx context.Context, rec *automation.Record) (*LeadSummary, error) {
	ld, err := s.leads.GetByID(ctx, rec.LeadID)
	if err != nil && !errors.Is(err, lead.ErrNotFound) {
		return nil, fmt.Errorf("failed to load lead %d: %w", rec.LeadID, err)
	}
	sum := summarize(rec, ld)
	return &sum, nil
}

// SummaryOf renders an already loaded record, e.g. the result of Resume.
func (s *AutomationService) SummaryOf(ctx context.Context, rec *automation.Record) (*LeadSummary, error) {
	return s.summaryFor(ctx, rec)
}

// EmailHistory returns up to n log entries of a lead, newest first.
func (s *AutomationService) EmailHistory(ctx context.Context, leadID int64, n int) ([]EmailLogView, error) {
	entries, err := s.emailLog.ListByLead(ctx, leadID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load email history: %w", err)
	}
	views := make([]EmailLogView, 0, len(entries))
	for _, e := range entries {
		views = append(views, viewEntry(e))
	}
	return views, nil
}
