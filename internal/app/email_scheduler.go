// internal/app/email_scheduler.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"lead_email_automation/internal/domain/automation"
	"lead_email_automation/internal/domain/emaillog"
	"lead_email_automation/internal/domain/lead"
	"lead_email_automation/internal/domain/mail"
)

// EmailScheduler runs due-email sweeps. Implementations must be safe to call
// concurrently with themselves and with control operations.
type EmailScheduler interface {
	ProcessDueEmails(ctx context.Context, now time.Time) SweepSummary
}

// SweepSummary is the outcome of one sweep. A sweep never fails as a whole;
// problems are counted here instead.
type SweepSummary struct {
	Selected  int    `json:"selected"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Conflicts int    `json:"conflicts"` // records owned by a concurrent sweep
	Deferred  int    `json:"deferred"`  // not started because the sweep was cancelled
	Errors    int    `json:"errors"`    // storage errors, retried next tick
	Message   string `json:"message"`
}

// SweepObserver receives sweep telemetry. Used for metrics.
type SweepObserver interface {
	EmailAttempted(stage automation.Stage, emailType string, success bool)
	SweepFinished(summary SweepSummary, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) EmailAttempted(automation.Stage, string, bool) {}
func (noopObserver) SweepFinished(SweepSummary, time.Duration)     {}

// SchedulerConfig tunes the sweep.
type SchedulerConfig struct {
	Concurrency int           // max records processed in parallel
	Lease       time.Duration // how long a claimed record is hidden from other sweeps
	BatchLimit  int           // max records selected per sweep, 0 for all
	StaffEmail  string        // recipient of staff-facing templates
	StaffName   string
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.StaffName == "" {
		c.StaffName = "Sales team"
	}
	return c
}

// EmailSchedulerImpl implements EmailScheduler on top of the repositories.
type EmailSchedulerImpl struct {
	records  automation.Repository
	emailLog emaillog.Repository
	leads    lead.Repository
	mailer   mail.Mailer
	policy   automation.Policy
	cfg      SchedulerConfig
	observer SweepObserver
	logger   *logrus.Entry
}

func NewEmailSchedulerImpl(
	records automation.Repository,
	emailLog emaillog.Repository,
	leads lead.Repository,
	mailer mail.Mailer,
	policy automation.Policy,
	cfg SchedulerConfig,
	logger *logrus.Entry,
) *EmailSchedulerImpl {
	return &EmailSchedulerImpl{
		records:  records,
		emailLog: emailLog,
		leads:    leads,
		mailer:   mailer,
		policy:   policy,
		cfg:      cfg.withDefaults(),
		observer: noopObserver{},
		logger:   logger.WithField("component", "email_scheduler"),
	}
}

// SetObserver attaches sweep telemetry.
func (s *EmailSchedulerImpl) SetObserver(o SweepObserver) {
	if o == nil {
		o = noopObserver{}
	}
	s.observer = o
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeConflict
	outcomeError
	outcomeDeferred
)

// ProcessDueEmails sends every email due at now. Records are processed on a
// bounded worker group; once ctx is done no new record is started, while the
// ones already in flight finish their send, log and state update.
func (s *EmailSchedulerImpl) ProcessDueEmails(ctx context.Context, now time.Time) SweepSummary {
	started := time.Now()
	var summary SweepSummary

	due, err := s.records.ListDue(ctx, now, s.cfg.BatchLimit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to select due automations")
		summary.Errors++
		summary.Message = "Could not load due automations, will retry on next run"
		s.observer.SweepFinished(summary, time.Since(started))
		return summary
	}
	summary.Selected = len(due)

	var mu sync.Mutex
	tally := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeSent:
			summary.Sent++
		case outcomeFailed:
			summary.Failed++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeConflict:
			summary.Conflicts++
		case outcomeError:
			summary.Errors++
		case outcomeDeferred:
			summary.Deferred++
		}
	}

	// In-flight records must not be cut off halfway between send and update.
	workCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, rec := range due {
		if ctx.Err() != nil {
			mu.Lock()
			summary.Deferred += len(due) - i
			mu.Unlock()
			s.logger.WithField("deferred", len(due)-i).Warn("Sweep cancelled, remaining automations deferred")
			break
		}
		// Go blocks while all workers are busy, so cancellation is checked
		// again once the record actually gets a slot.
		rec := rec
		g.Go(func() error {
			if ctx.Err() != nil {
				tally(outcomeDeferred)
				return nil
			}
			tally(s.processRecord(workCtx, rec, now))
			return nil
		})
	}
	_ = g.Wait()

	summary.Message = fmt.Sprintf("Processed %d due automations: %d sent, %d failed, %d skipped",
		summary.Selected, summary.Sent, summary.Failed, summary.Skipped)
	s.logger.WithFields(logrus.Fields{
		"selected":  summary.Selected,
		"sent":      summary.Sent,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"conflicts": summary.Conflicts,
		"deferred":  summary.Deferred,
		"errors":    summary.Errors,
	}).Info("Sweep finished")
	s.observer.SweepFinished(summary, time.Since(started))
	return summary
}

func (s *EmailSchedulerImpl) processRecord(ctx context.Context, rec *automation.Record, now time.Time) outcome {
	logCtx := s.logger.WithFields(logrus.Fields{
		"lead_id": rec.LeadID,
		"stage":   rec.CurrentStage,
	})

	// Claim: a versioned write that leases the record. Losing the race means
	// another sweep owns it, which for us is the same as "not due".
	rec.LeaseUntil = sql.NullTime{Time: now.Add(s.cfg.Lease), Valid: true}
	if err := s.records.Update(ctx, rec); err != nil {
		if errors.Is(err, automation.ErrConcurrencyConflict) {
			logCtx.Debug("Automation claimed by a concurrent sweep, skipping")
			return outcomeConflict
		}
		logCtx.WithError(err).Error("Failed to claim automation")
		return outcomeError
	}

	stage := rec.CurrentStage
	position := rec.EmailsSent()
	sp, ok := s.policy.Stage(stage)
	if !ok {
		logCtx.Warn("Stage has no email sequence, releasing automation")
		s.finish(ctx, logCtx, rec.LeadID, releaseOnly)
		return outcomeSkipped
	}
	tmpl := sp.TemplateFor(position)
	logCtx = logCtx.WithField("email_type", tmpl.Key)

	if tmpl.Audience == mail.AudienceLead && rec.LeadReplied {
		if sp.OnReply == automation.ReplyPause {
			logCtx.Info("Lead replied, pausing automation")
			s.finish(ctx, logCtx, rec.LeadID, func(r *automation.Record) {
				if r.CurrentStage == stage && r.IsActive {
					r.Exhaust(automation.ReasonLeadReplied, now)
				}
			})
		} else {
			logCtx.Info("Lead replied, skipping lead-facing email")
			s.finish(ctx, logCtx, rec.LeadID, func(r *automation.Record) {
				if r.CurrentStage == stage && r.IsActive && r.EmailsSent() == position {
					r.Rearm(s.policy, now)
				}
			})
		}
		return outcomeSkipped
	}

	ld, err := s.leads.GetByID(ctx, rec.LeadID)
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			logCtx.Warn("Lead no longer exists, pausing automation")
			s.finish(ctx, logCtx, rec.LeadID, func(r *automation.Record) {
				if r.IsActive {
					r.Exhaust(automation.ReasonLeadMissing, now)
				}
			})
			return outcomeSkipped
		}
		logCtx.WithError(err).Error("Failed to load lead")
		s.finish(ctx, logCtx, rec.LeadID, releaseOnly)
		return outcomeError
	}

	entry := emaillog.NewEntry(rec.LeadID, tmpl.Key, "", now)
	entry.LeadName = ld.Name
	entry.LeadEmail = ld.Email
	entry.LeadValue = ld.Value

	msg, err := s.buildMessage(tmpl, ld, stage, position)
	if err == nil {
		entry.Subject = msg.Subject
		var receipt mail.Receipt
		receipt, err = s.mailer.Send(ctx, msg)
		if err == nil && receipt.ProviderID != "" {
			entry.ProviderID = sql.NullString{String: receipt.ProviderID, Valid: true}
		}
	}
	entry.Success = err == nil
	if err != nil {
		entry.FailureReason = sql.NullString{String: err.Error(), Valid: true}
	}

	// The log entry is written before the record moves on.
	if logErr := s.emailLog.Append(ctx, entry); logErr != nil {
		logCtx.WithError(logErr).Error("Failed to append email log entry")
	}
	s.observer.EmailAttempted(stage, tmpl.Key, entry.Success)

	if err != nil {
		logCtx.WithError(err).Warn("Email send failed, will retry on next sweep")
		s.finish(ctx, logCtx, rec.LeadID, releaseOnly)
		return outcomeFailed
	}

	logCtx.WithField("position", position).Info("Email sent")
	s.finish(ctx, logCtx, rec.LeadID, func(r *automation.Record) {
		applied, exhausted := r.CreditSend(s.policy, stage, position, now)
		if !applied {
			logCtx.Warn("Send already credited or record reset, leaving counters untouched")
		}
		if exhausted {
			logCtx.WithField("reason", r.PausedReason).Info("Email sequence exhausted")
		}
	})
	return outcomeSent
}

func releaseOnly(*automation.Record) {}

// finish applies fn to a fresh copy of the record and always drops the lease.
func (s *EmailSchedulerImpl) finish(ctx context.Context, logCtx *logrus.Entry, leadID int64, fn func(*automation.Record)) {
	_, err := mutateRecord(ctx, s.records, leadID, func(r *automation.Record) error {
		fn(r)
		r.LeaseUntil = sql.NullTime{}
		return nil
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to update automation after processing")
	}
}

func (s *EmailSchedulerImpl) buildMessage(tmpl automation.Template, ld *lead.Lead, stage automation.Stage, position int) (mail.Message, error) {
	subject, body, err := automation.Render(tmpl, automation.RenderData{
		LeadID:    ld.ID,
		LeadName:  ld.Name,
		LeadEmail: ld.Email,
		Company:   ld.Company.String,
		LeadValue: ld.Value,
		Stage:     stage,
		Position:  position,
	})
	if err != nil {
		return mail.Message{}, err
	}

	msg := mail.Message{
		LeadID:    ld.ID,
		EmailType: tmpl.Key,
		Audience:  tmpl.Audience,
		Subject:   subject,
		Body:      body,
	}
	switch tmpl.Audience {
	case mail.AudienceStaff:
		msg.To, msg.ToName = s.cfg.StaffEmail, s.cfg.StaffName
	default:
		msg.To, msg.ToName = ld.Email, ld.Name
	}
	// Staff mail may be routed to chat instead, so only a lead address is mandatory here.
	if msg.Audience == mail.AudienceLead && msg.To == "" {
		return mail.Message{}, fmt.Errorf("lead %d has no email address", ld.ID)
	}
	return msg, nil
}
