// internal/domain/automation/policy.go
package automation

import (
	"fmt"
	"time"

	"lead_email_automation/internal/domain/mail"
)

// ReplyAction decides what a sweep does with a lead-facing email once the
// lead has replied. Staff-facing templates are never affected by a reply.
type ReplyAction int

const (
	// ReplyContinue keeps sending. Only meaningful for staff-facing stages.
	ReplyContinue ReplyAction = iota
	// ReplySkip drops the lead-facing email for this tick and re-arms the cadence.
	ReplySkip
	// ReplyPause deactivates the automation with ReasonLeadReplied.
	ReplyPause
)

func (a ReplyAction) String() string {
	switch a {
	case ReplyContinue:
		return "continue"
	case ReplySkip:
		return "skip"
	case ReplyPause:
		return "pause"
	}
	return fmt.Sprintf("ReplyAction(%d)", int(a))
}

// Template is one authored email. Key doubles as the EmailLog email type.
type Template struct {
	Key      string
	Audience mail.Audience
	Subject  string // text/template source
	Body     string // text/template source
}

// StagePolicy configures the sequence of a single tracked stage.
type StagePolicy struct {
	Stage      Stage
	Templates  []Template
	MaxEmails  int           // 0 means unbounded
	FirstDelay time.Duration // delay from stage entry to the first email
	Interval   time.Duration // delay between consecutive emails
	OnReply    ReplyAction
	// OverflowReason is the pausedReason used when a bounded sequence runs out.
	OverflowReason string
}

func (sp StagePolicy) Bounded() bool {
	return sp.MaxEmails > 0
}

// Exhausted reports whether position (emails already sent) is past the bound.
func (sp StagePolicy) Exhausted(position int) bool {
	return sp.Bounded() && position >= sp.MaxEmails
}

// TemplateFor returns the template for a zero-based sequence position.
// Positions past the last authored template repeat the last one.
func (sp StagePolicy) TemplateFor(position int) Template {
	if position < 0 {
		position = 0
	}
	if position >= len(sp.Templates) {
		position = len(sp.Templates) - 1
	}
	return sp.Templates[position]
}

// Policy is the immutable stage policy table. The zero value has no stages.
type Policy struct {
	stages map[Stage]StagePolicy
}

// NewPolicy validates and copies the given entries into a Policy.
func NewPolicy(entries ...StagePolicy) (Policy, error) {
	stages := make(map[Stage]StagePolicy, len(entries))
	for _, e := range entries {
		if !e.Stage.IsTracked() {
			return Policy{}, fmt.Errorf("policy: stage %q cannot carry a sequence", e.Stage)
		}
		if _, dup := stages[e.Stage]; dup {
			return Policy{}, fmt.Errorf("policy: duplicate entry for stage %s", e.Stage)
		}
		if len(e.Templates) == 0 {
			return Policy{}, fmt.Errorf("policy: stage %s has no templates", e.Stage)
		}
		if e.Interval <= 0 {
			return Policy{}, fmt.Errorf("policy: stage %s needs a positive interval", e.Stage)
		}
		if e.FirstDelay < 0 || e.MaxEmails < 0 {
			return Policy{}, fmt.Errorf("policy: stage %s has negative delay or bound", e.Stage)
		}
		if e.Bounded() && e.OverflowReason == "" {
			e.OverflowReason = ReasonSequenceExhausted
		}
		e.Templates = append([]Template(nil), e.Templates...)
		stages[e.Stage] = e
	}
	return Policy{stages: stages}, nil
}

// MustPolicy is NewPolicy for static tables; it panics on an invalid table.
func MustPolicy(entries ...StagePolicy) Policy {
	p, err := NewPolicy(entries...)
	if err != nil {
		panic(err)
	}
	return p
}

// Stage returns the entry for s. The returned value shares no mutable state
// with the table other than the template slice, which callers must not modify.
func (p Policy) Stage(s Stage) (StagePolicy, bool) {
	sp, ok := p.stages[s]
	return sp, ok
}

// NextDue computes when the email at position should go out. position is the
// number of emails already sent in the stage. ok is false when the stage has
// no sequence or a bounded sequence is exhausted.
func (p Policy) NextDue(stage Stage, position int, lastSentAt, stageEnteredAt time.Time) (due time.Time, ok bool) {
	sp, found := p.stages[stage]
	if !found || sp.Exhausted(position) {
		return time.Time{}, false
	}
	if position == 0 {
		return stageEnteredAt.Add(sp.FirstDelay), true
	}
	return lastSentAt.Add(sp.Interval), true
}

// Rearm is the next due time after a tick that satisfied the cadence without
// sending anything.
func (p Policy) Rearm(stage Stage, now time.Time) (time.Time, bool) {
	sp, found := p.stages[stage]
	if !found {
		return time.Time{}, false
	}
	return now.Add(sp.Interval), true
}

const day = 24 * time.Hour

// DefaultPolicy is the production stage table.
func DefaultPolicy() Policy {
	return MustPolicy(
		StagePolicy{
			Stage: StageLead,
			Templates: []Template{
				{Key: "lead_intro", Audience: mail.AudienceLead,
					Subject: "Thanks for your interest, {{.LeadName}}",
					Body:    "Hi {{.LeadName}},\n\nThanks for getting in touch{{if .Company}} on behalf of {{.Company}}{{end}}. We'd love to learn more about what you need. Just reply to this email and we'll set up a quick call.\n"},
				{Key: "lead_followup_1", Audience: mail.AudienceLead,
					Subject: "Following up, {{.LeadName}}",
					Body:    "Hi {{.LeadName}},\n\nI wanted to follow up on my previous note. Is there a good time this week to talk?\n"},
				{Key: "lead_followup_2", Audience: mail.AudienceLead,
					Subject: "A few ideas for {{if .Company}}{{.Company}}{{else}}you{{end}}",
					Body:    "Hi {{.LeadName}},\n\nI put together a few ideas I think could help. Happy to walk you through them whenever suits you.\n"},
				{Key: "lead_followup_3", Audience: mail.AudienceLead,
					Subject: "Still interested, {{.LeadName}}?",
					Body:    "Hi {{.LeadName}},\n\nI haven't heard back and don't want to crowd your inbox. If now isn't the right time, just let me know.\n"},
				{Key: "lead_followup_4", Audience: mail.AudienceLead,
					Subject: "Closing the loop",
					Body:    "Hi {{.LeadName}},\n\nThis is my last follow-up for now. If anything changes, reply here and I'll pick it right back up.\n"},
			},
			MaxEmails:      5,
			FirstDelay:     0,
			Interval:       2 * day,
			OnReply:        ReplyPause,
			OverflowReason: ReasonNeverReplied,
		},
		StagePolicy{
			Stage: StageQualified,
			Templates: []Template{
				{Key: "qualified_reminder", Audience: mail.AudienceStaff,
					Subject: "Reminder: qualified lead {{.LeadName}} needs a proposal",
					Body:    "{{.LeadName}} ({{.LeadEmail}}) has been qualified. Estimated value: {{printf \"%.2f\" .LeadValue}}. Prepare and send a proposal. Reminder #{{.Number}}.\n"},
			},
			FirstDelay: 2 * day,
			Interval:   2 * day,
			OnReply:    ReplyContinue,
		},
		StagePolicy{
			Stage: StageProposalSent,
			Templates: []Template{
				{Key: "proposal_followup_1", Audience: mail.AudienceLead,
					Subject: "Your proposal, {{.LeadName}}",
					Body:    "Hi {{.LeadName}},\n\nDid you get a chance to look at the proposal we sent over? Happy to answer any questions.\n"},
				{Key: "proposal_followup_2", Audience: mail.AudienceLead,
					Subject: "Any questions about the proposal?",
					Body:    "Hi {{.LeadName}},\n\nJust checking in on the proposal. If anything needs adjusting, we can revise it quickly.\n"},
				{Key: "proposal_followup_3", Audience: mail.AudienceLead,
					Subject: "Checking in on the proposal",
					Body:    "Hi {{.LeadName}},\n\nI'm checking in once more on our proposal. Let me know where things stand on your side.\n"},
			},
			FirstDelay: 1 * day,
			Interval:   2 * day,
			OnReply:    ReplySkip,
		},
		StagePolicy{
			Stage: StageNegotiations,
			Templates: []Template{
				{Key: "negotiations_reminder", Audience: mail.AudienceStaff,
					Subject: "Reminder: negotiation with {{.LeadName}} is open",
					Body:    "Negotiations with {{.LeadName}} ({{.LeadEmail}}) are still open. Estimated value: {{printf \"%.2f\" .LeadValue}}. Follow up to move the deal forward. Reminder #{{.Number}}.\n"},
			},
			FirstDelay: 2 * day,
			Interval:   2 * day,
			OnReply:    ReplyContinue,
		},
	)
}
