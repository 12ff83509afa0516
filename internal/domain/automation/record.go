// internal/domain/automation/record.go
package automation

import (
	"database/sql"
	"fmt"
	"time"
)

// Paused reasons written by the scheduler itself.
const (
	ReasonStageTerminal     = "stage terminal"
	ReasonNeverReplied      = "never replied"
	ReasonLeadReplied       = "lead replied"
	ReasonSequenceExhausted = "sequence exhausted"
	ReasonManualPause       = "paused manually"
	ReasonLeadMissing       = "lead missing"
)

// StageProgress is the per-stage counter and schedule. Only the progress of
// the current stage moves; the others are frozen history.
type StageProgress struct {
	EmailsSent   int
	NextEmailDue sql.NullTime
	EnteredAt    sql.NullTime
	LastSentAt   sql.NullTime
}

// Record is the automation state of one lead.
// Corresponds to the 'lead_automations' table.
type Record struct {
	LeadID       int64
	CurrentStage Stage
	IsActive     bool
	LeadReplied  bool
	PausedReason string

	LeadProgress         StageProgress
	QualifiedProgress    StageProgress
	ProposalSentProgress StageProgress
	NegotiationsProgress StageProgress

	// LeaseUntil is set while a sweep owns the record; due selection
	// ignores leased records until the lease runs out.
	LeaseUntil sql.NullTime
	// Version is bumped by every successful write (optimistic guard).
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func validTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

// NewRecord builds the record for a lead entering stage at now.
// The first email is scheduled through the policy and sent by a later sweep.
func NewRecord(leadID int64, stage Stage, p Policy, now time.Time) (*Record, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, stage)
	}
	r := &Record{LeadID: leadID, CreatedAt: now, UpdatedAt: now}
	if stage.IsTerminal() {
		r.CurrentStage = stage
		r.PausedReason = ReasonStageTerminal
		return r, nil
	}
	r.IsActive = true
	r.enter(stage, p, now)
	return r, nil
}

// Progress returns the progress block of s, or nil for stages without one.
func (r *Record) Progress(s Stage) *StageProgress {
	switch s {
	case StageLead:
		return &r.LeadProgress
	case StageQualified:
		return &r.QualifiedProgress
	case StageProposalSent:
		return &r.ProposalSentProgress
	case StageNegotiations:
		return &r.NegotiationsProgress
	}
	return nil
}

// Current is the progress of the current stage (nil when terminal).
func (r *Record) Current() *StageProgress {
	return r.Progress(r.CurrentStage)
}

func (r *Record) NextEmailDue() sql.NullTime {
	if cur := r.Current(); cur != nil {
		return cur.NextEmailDue
	}
	return sql.NullTime{}
}

func (r *Record) EmailsSent() int {
	if cur := r.Current(); cur != nil {
		return cur.EmailsSent
	}
	return 0
}

// Leased reports whether a sweep currently owns the record.
func (r *Record) Leased(now time.Time) bool {
	return r.LeaseUntil.Valid && r.LeaseUntil.Time.After(now)
}

// IsDue reports whether a sweep at now should pick the record.
func (r *Record) IsDue(now time.Time) bool {
	due := r.NextEmailDue()
	return r.IsActive && due.Valid && !due.Time.After(now) && !r.Leased(now)
}

func (r *Record) enter(stage Stage, p Policy, now time.Time) {
	r.CurrentStage = stage
	prog := r.Progress(stage)
	*prog = StageProgress{EnteredAt: validTime(now)}
	if due, ok := p.NextDue(stage, 0, time.Time{}, now); ok && r.IsActive {
		prog.NextEmailDue = validTime(due)
	}
}

func (r *Record) deactivate(reason string) {
	r.IsActive = false
	r.PausedReason = reason
	if cur := r.Current(); cur != nil {
		cur.NextEmailDue = sql.NullTime{}
	}
}

// ChangeStage moves the record to newStage. The old stage keeps its counter
// but loses its due time. A move to the same stage is a no-op (changed=false).
// Entering a tracked stage reactivates the automation; entering Won or Lost
// retires it. A lease held by a sweep survives the move and is dropped by that
// sweep once its send is settled.
func (r *Record) ChangeStage(newStage Stage, p Policy, now time.Time) (changed bool, err error) {
	if !newStage.Valid() {
		return false, fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, newStage)
	}
	if newStage == r.CurrentStage {
		return false, nil
	}
	if old := r.Current(); old != nil {
		old.NextEmailDue = sql.NullTime{}
	}
	r.UpdatedAt = now

	if newStage.IsTerminal() {
		r.CurrentStage = newStage
		r.deactivate(ReasonStageTerminal)
		return true, nil
	}
	r.IsActive = true
	r.PausedReason = ""
	r.enter(newStage, p, now)
	return true, nil
}

// MarkReplied flags that the lead answered. It does not deactivate anything
// by itself; the sweep applies the stage's reply policy.
func (r *Record) MarkReplied(now time.Time) (changed bool) {
	if r.LeadReplied {
		return false
	}
	r.LeadReplied = true
	r.UpdatedAt = now
	return true
}

// Exhaust deactivates the record when its sequence ran out or the reply
// policy says to stop.
func (r *Record) Exhaust(reason string, now time.Time) {
	r.deactivate(reason)
	r.UpdatedAt = now
}

// Pause is the manual admin pause.
func (r *Record) Pause(reason string, now time.Time) error {
	if !r.IsActive {
		return fmt.Errorf("%w: pause requires an active automation", ErrInvalidTransition)
	}
	if reason == "" {
		reason = ReasonManualPause
	}
	r.deactivate(reason)
	r.UpdatedAt = now
	return nil
}

// Resume reactivates a paused record. The next due time is computed from now,
// never from the stale schedule, so a long pause does not turn into a burst.
// Resuming a record that was paused because the lead replied also clears the
// reply flag, otherwise the next sweep would pause it again.
// A stage whose bounded sequence is used up cannot be resumed; it only moves
// again through a stage change.
func (r *Record) Resume(p Policy, now time.Time) error {
	if r.IsActive {
		return fmt.Errorf("%w: resume requires a paused automation", ErrInvalidTransition)
	}
	if r.CurrentStage.IsTerminal() {
		return fmt.Errorf("%w: stage %s is terminal", ErrInvalidTransition, r.CurrentStage)
	}
	cur := r.Current()
	due, ok := p.NextDue(r.CurrentStage, cur.EmailsSent, now, now)
	if !ok {
		return fmt.Errorf("%w: email sequence of stage %s is exhausted", ErrInvalidTransition, r.CurrentStage)
	}
	if r.PausedReason == ReasonLeadReplied {
		r.LeadReplied = false
	}
	r.IsActive = true
	r.PausedReason = ""
	r.UpdatedAt = now
	cur.NextEmailDue = validTime(due)
	return nil
}

// RecordSent applies a successful send at position EmailsSent of the current
// stage. It returns true when the send exhausted a bounded sequence, in which
// case the overflow reason is applied exactly once.
func (r *Record) RecordSent(p Policy, now time.Time) (exhausted bool) {
	cur := r.Current()
	if cur == nil {
		return false
	}
	cur.EmailsSent++
	cur.LastSentAt = validTime(now)
	r.UpdatedAt = now

	if sp, ok := p.Stage(r.CurrentStage); ok && sp.Exhausted(cur.EmailsSent) {
		if r.IsActive {
			r.deactivate(sp.OverflowReason)
		}
		return true
	}
	cur.NextEmailDue = sql.NullTime{}
	if !r.IsActive {
		return false
	}
	if due, ok := p.NextDue(r.CurrentStage, cur.EmailsSent, now, cur.EnteredAt.Time); ok {
		cur.NextEmailDue = validTime(due)
	}
	return false
}

// CreditSend applies a successful send that was started for (stage, position).
// When the record moved on while the mail was in flight, only the counter of
// the stage the email belonged to is bumped, and only if nobody credited that
// position already. applied is false when there was nothing to credit.
func (r *Record) CreditSend(p Policy, stage Stage, position int, now time.Time) (applied, exhausted bool) {
	prog := r.Progress(stage)
	if prog == nil || prog.EmailsSent != position {
		return false, false
	}
	if stage == r.CurrentStage {
		return true, r.RecordSent(p, now)
	}
	prog.EmailsSent++
	prog.LastSentAt = validTime(now)
	r.UpdatedAt = now
	return true, false
}

// Rearm pushes the current due time one interval past now without counting
// an email. Used when the reply policy skips a lead-facing send.
func (r *Record) Rearm(p Policy, now time.Time) {
	cur := r.Current()
	if cur == nil {
		return
	}
	cur.NextEmailDue = sql.NullTime{}
	if due, ok := p.Rearm(r.CurrentStage, now); ok {
		cur.NextEmailDue = validTime(due)
	}
	r.UpdatedAt = now
}
