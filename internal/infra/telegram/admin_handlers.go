package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"lead_email_automation/internal/app"
	"lead_email_automation/internal/domain/automation"
)

// AutomationController is the part of the automation service the admin commands drive.
type AutomationController interface {
	ReplyRecorder
	Resume(ctx context.Context, leadID int64, reason string) (*automation.Record, error)
	ProcessNow(ctx context.Context) app.SweepSummary
	InitializeAll(ctx context.Context) (app.InitializeResult, error)
	Stats(ctx context.Context, recentN int) (*app.Stats, error)
	LeadSummary(ctx context.Context, leadID int64) (*app.LeadSummary, error)
	EmailHistory(ctx context.Context, leadID int64, n int) ([]app.EmailLogView, error)
}

const errUnauthorized = "Error: you are not allowed to run this command."

// RegisterAdminHandlers registers handlers for admin commands.
// Only adminTelegramID may run them.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, svc AutomationController, adminTelegramID int64, baseLogger *logrus.Entry) {
	admin := func(command string, h func(c telebot.Context, logCtx *logrus.Entry) error) {
		b.Handle(command, func(c telebot.Context) error {
			handlerLogger := baseLogger.WithFields(logrus.Fields{
				"handler":   command,
				"sender_id": c.Sender().ID,
			})
			handlerLogger.Info("Command received")

			if c.Sender().ID != adminTelegramID {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(errUnauthorized)
			}
			return h(c, handlerLogger)
		})
	}

	admin("/stats", func(c telebot.Context, logCtx *logrus.Entry) error {
		st, err := svc.Stats(ctx, 5)
		if err != nil {
			logCtx.WithError(err).Error("Failed to build stats")
			return c.Send(fmt.Sprintf("Could not load stats: %s", err.Error()))
		}
		return c.Send(formatStats(st))
	})

	admin("/process_due", func(c telebot.Context, logCtx *logrus.Entry) error {
		summary := svc.ProcessNow(ctx)
		logCtx.WithFields(logrus.Fields{"sent": summary.Sent, "failed": summary.Failed}).Info("Manual sweep finished")
		return c.Send(formatSweep(summary))
	})

	admin("/init_all", func(c telebot.Context, logCtx *logrus.Entry) error {
		res, err := svc.InitializeAll(ctx)
		if err != nil {
			logCtx.WithError(err).Error("Failed to initialize automations")
			return c.Send(fmt.Sprintf("Initialization failed: %s", err.Error()))
		}
		return c.Send(res.Message)
	})

	admin("/pause", func(c telebot.Context, logCtx *logrus.Entry) error {
		leadID, reason, err := parseLeadArgs(c.Args())
		if err != nil {
			logCtx.WithError(err).Warn("Invalid command format")
			return c.Send("Invalid format. Use: /pause <LeadID> [reason]")
		}
		logCtx = logCtx.WithField("lead_id", leadID)

		if _, err := svc.Pause(ctx, leadID, reason); err != nil {
			return c.Send(commandErrorText(logCtx, err, leadID))
		}
		logCtx.Info("Automation paused by admin")
		return c.Send(fmt.Sprintf("Automation for lead %d paused.", leadID))
	})

	admin("/resume", func(c telebot.Context, logCtx *logrus.Entry) error {
		leadID, reason, err := parseLeadArgs(c.Args())
		if err != nil {
			logCtx.WithError(err).Warn("Invalid command format")
			return c.Send("Invalid format. Use: /resume <LeadID> [reason]")
		}
		logCtx = logCtx.WithField("lead_id", leadID)

		rec, err := svc.Resume(ctx, leadID, reason)
		if err != nil {
			return c.Send(commandErrorText(logCtx, err, leadID))
		}
		logCtx.Info("Automation resumed by admin")
		msg := fmt.Sprintf("Automation for lead %d resumed.", leadID)
		if due := rec.NextEmailDue(); due.Valid {
			msg += fmt.Sprintf(" Next email due %s.", due.Time.Format(timeLayout))
		}
		return c.Send(msg)
	})

	admin("/lead", func(c telebot.Context, logCtx *logrus.Entry) error {
		leadID, _, err := parseLeadArgs(c.Args())
		if err != nil {
			return c.Send("Invalid format. Use: /lead <LeadID>")
		}
		logCtx = logCtx.WithField("lead_id", leadID)

		sum, err := svc.LeadSummary(ctx, leadID)
		if err != nil {
			return c.Send(commandErrorText(logCtx, err, leadID))
		}
		history, err := svc.EmailHistory(ctx, leadID, 5)
		if err != nil {
			logCtx.WithError(err).Error("Failed to load email history")
			history = nil
		}
		return c.Send(formatLead(sum, history))
	})
}

func commandErrorText(logCtx *logrus.Entry, err error, leadID int64) string {
	logWithError := logCtx.WithError(err)
	switch {
	case errors.Is(err, automation.ErrNotFound):
		logWithError.Warn("Automation not found")
		return fmt.Sprintf("No automation found for lead %d.", leadID)
	case errors.Is(err, automation.ErrInvalidTransition):
		logWithError.Warn("Transition rejected")
		return fmt.Sprintf("Not possible: %s", strings.TrimPrefix(err.Error(), automation.ErrInvalidTransition.Error()+": "))
	default:
		logWithError.Error("Command failed")
		return fmt.Sprintf("An error occurred: %s", err.Error())
	}
}
