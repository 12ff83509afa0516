package telegram

import (
	"fmt"
	"strings"

	"lead_email_automation/internal/app"
)

const timeLayout = "2006-01-02 15:04 MST"

// parseLeadArgs reads "<LeadID> [reason words...]".
func parseLeadArgs(args []string) (int64, string, error) {
	if len(args) == 0 {
		return 0, "", fmt.Errorf("missing lead ID")
	}
	id, err := parseLeadID(args[0])
	if err != nil {
		return 0, "", err
	}
	return id, strings.Join(args[1:], " "), nil
}

func formatSweep(s app.SweepSummary) string {
	var b strings.Builder
	b.WriteString(s.Message)
	if s.Conflicts > 0 || s.Deferred > 0 || s.Errors > 0 {
		fmt.Fprintf(&b, "\n(%d owned by another run, %d deferred, %d storage errors)", s.Conflicts, s.Deferred, s.Errors)
	}
	return b.String()
}

func formatStats(st *app.Stats) string {
	var b strings.Builder
	b.WriteString("--- Automation stats ---\n")
	fmt.Fprintf(&b, "Total: %d, active: %d, paused: %d, retired: %d, replied: %d\n",
		st.TotalAutomations, st.ActiveAutomations, st.PausedAutomations, st.RetiredAutomations, st.LeadsReplied)

	b.WriteString("\nBy stage:\n")
	for _, ss := range st.StageStats {
		if ss.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %s: %d (%d active)\n", ss.Stage, ss.Count, ss.Active)
	}

	if len(st.EmailStats) > 0 {
		b.WriteString("\nEmails by template:\n")
		for _, es := range st.EmailStats {
			fmt.Fprintf(&b, "  %s: %d sent, %d ok\n", es.EmailType, es.Count, es.Success)
		}
	}

	if len(st.RecentEmails) > 0 {
		b.WriteString("\nRecent:\n")
		for _, e := range st.RecentEmails {
			b.WriteString("  " + formatLogLine(e) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatLead(sum *app.LeadSummary, history []app.EmailLogView) string {
	var b strings.Builder
	name := sum.LeadName
	if name == "" {
		name = "(unknown lead)"
	}
	fmt.Fprintf(&b, "Lead %d: %s <%s>\n", sum.LeadID, name, sum.LeadEmail)
	fmt.Fprintf(&b, "Stage: %s, emails sent: %d\n", sum.CurrentStage, sum.EmailsSent)
	switch {
	case sum.IsActive && sum.NextEmailDue != nil:
		fmt.Fprintf(&b, "Active, next email %s\n", sum.NextEmailDue.Format(timeLayout))
	case sum.IsActive:
		b.WriteString("Active, nothing scheduled\n")
	default:
		fmt.Fprintf(&b, "Paused: %s\n", sum.PausedReason)
	}
	if sum.LeadReplied {
		b.WriteString("Lead has replied\n")
	}
	for _, e := range history {
		b.WriteString("  " + formatLogLine(e) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatLogLine(e app.EmailLogView) string {
	status := "ok"
	if !e.Success {
		status = "FAILED"
		if e.FailureReason != "" {
			status += " (" + e.FailureReason + ")"
		}
	}
	return fmt.Sprintf("%s lead %d %s: %s", e.SentAt.Format(timeLayout), e.LeadID, e.EmailType, status)
}
