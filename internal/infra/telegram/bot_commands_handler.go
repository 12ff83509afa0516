// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	b *telebot.Bot,
	adminTelegramID int64,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			logCtx.Info("User identified as Admin")
			return c.Send(fmt.Sprintf("Hi %s! The lead email scheduler is running. Use /help for the command list.", c.Sender().FirstName))
		}

		logCtx.Info("User is not the admin")
		return c.Send("Hi! I post sales reminders for the team. Reminder buttons work for everyone in the staff chat; commands are admin only.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID != adminTelegramID {
			return c.Send("No commands are available to you. Use the buttons under reminders to report a reply or pause a lead.")
		}
		return c.Send(adminHelpText(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func adminHelpText() string {
	var helpText strings.Builder
	helpText.WriteString("Admin commands:\n\n")
	helpText.WriteString("`/stats`\n - Automation and email statistics.\n\n")
	helpText.WriteString("`/process_due`\n - Send every email that is due now.\n\n")
	helpText.WriteString("`/init_all`\n - Create automations for leads that have none.\n\n")
	helpText.WriteString("`/pause <LeadID> [reason]`\n - Stop emails for a lead.\n\n")
	helpText.WriteString("`/resume <LeadID> [reason]`\n - Restart a paused lead from now.\n\n")
	helpText.WriteString("`/lead <LeadID>`\n - Show a lead's automation and recent emails.\n\n")
	helpText.WriteString("`/help`\n - Show this message.")
	return helpText.String()
}
