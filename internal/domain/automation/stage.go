// internal/domain/automation/stage.go
package automation

import (
	"fmt"
	"strings"
)

// Stage mirrors the CRM pipeline stage of a lead. The CRM owns the
// authoritative value; the scheduler is only notified of changes.
type Stage string

const (
	StageLead         Stage = "Lead"
	StageQualified    Stage = "Qualified"
	StageProposalSent Stage = "ProposalSent"
	StageNegotiations Stage = "Negotiations"
	StageWon          Stage = "Won"
	StageLost         Stage = "Lost"
)

// TrackedStages are the stages that carry an email sequence, in pipeline order.
var TrackedStages = []Stage{StageLead, StageQualified, StageProposalSent, StageNegotiations}

// AllStages lists every known stage in pipeline order.
var AllStages = []Stage{StageLead, StageQualified, StageProposalSent, StageNegotiations, StageWon, StageLost}

func (s Stage) Valid() bool {
	switch s {
	case StageLead, StageQualified, StageProposalSent, StageNegotiations, StageWon, StageLost:
		return true
	}
	return false
}

// IsTerminal reports whether the stage retires the automation.
func (s Stage) IsTerminal() bool {
	return s == StageWon || s == StageLost
}

func (s Stage) IsTracked() bool {
	return s.Valid() && !s.IsTerminal()
}

// ParseStage accepts the canonical names as well as the CRM display forms
// ("Proposal Sent", "proposal_sent", "negotiation").
func ParseStage(raw string) (Stage, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(normalized)
	switch normalized {
	case "lead", "new":
		return StageLead, nil
	case "qualified":
		return StageQualified, nil
	case "proposalsent", "proposal":
		return StageProposalSent, nil
	case "negotiations", "negotiation":
		return StageNegotiations, nil
	case "won", "closedwon":
		return StageWon, nil
	case "lost", "closedlost":
		return StageLost, nil
	}
	return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, raw)
}
