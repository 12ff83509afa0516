package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"lead_email_automation/internal/domain/automation"
)

// ReplyRecorder is what the reminder buttons need from the automation service.
type ReplyRecorder interface {
	OnReplyDetected(ctx context.Context, leadID int64) (*automation.Record, error)
	Pause(ctx context.Context, leadID int64, reason string) (*automation.Record, error)
}

// RegisterStaffResponseHandlers wires the buttons under staff reminders.
func RegisterStaffResponseHandlers(ctx context.Context, b *telebot.Bot, svc ReplyRecorder, baseLogger *logrus.Entry) {
	b.Handle(&telebot.Btn{Unique: btnLeadReplied}, func(c telebot.Context) error {
		leadID, err := parseLeadID(c.Callback().Data)
		if err != nil {
			c.Bot().OnError(fmt.Errorf("invalid lead_replied callback: %w", err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Invalid lead ID."})
		}
		logCtx := baseLogger.WithFields(logrus.Fields{"handler": btnLeadReplied, "lead_id": leadID, "sender_id": c.Sender().ID})

		if _, err := svc.OnReplyDetected(ctx, leadID); err != nil {
			logCtx.WithError(err).Error("Failed to record reply")
			return c.Respond(&telebot.CallbackResponse{Text: callbackErrorText(err)})
		}
		logCtx.Info("Reply recorded from staff chat")
		return c.Respond(&telebot.CallbackResponse{Text: "Reply recorded."})
	})

	b.Handle(&telebot.Btn{Unique: btnPauseLead}, func(c telebot.Context) error {
		leadID, err := parseLeadID(c.Callback().Data)
		if err != nil {
			c.Bot().OnError(fmt.Errorf("invalid pause_lead callback: %w", err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Invalid lead ID."})
		}
		logCtx := baseLogger.WithFields(logrus.Fields{"handler": btnPauseLead, "lead_id": leadID, "sender_id": c.Sender().ID})

		if _, err := svc.Pause(ctx, leadID, "paused from staff chat"); err != nil {
			logCtx.WithError(err).Warn("Failed to pause automation")
			return c.Respond(&telebot.CallbackResponse{Text: callbackErrorText(err)})
		}
		logCtx.Info("Automation paused from staff chat")
		return c.Respond(&telebot.CallbackResponse{Text: "Automation paused."})
	})
}

func parseLeadID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lead ID must be a number, got %q", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("lead ID must be positive, got %d", id)
	}
	return id, nil
}

func callbackErrorText(err error) string {
	switch {
	case errors.Is(err, automation.ErrNotFound):
		return "No automation for this lead."
	case errors.Is(err, automation.ErrInvalidTransition):
		return "Automation is already paused."
	default:
		return "Something went wrong."
	}
}
