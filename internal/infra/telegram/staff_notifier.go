package telegram

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"lead_email_automation/internal/domain/mail"
	"lead_email_automation/internal/domain/telegram"
)

// Callback uniques of the buttons attached to staff reminders.
const (
	btnLeadReplied = "lead_replied"
	btnPauseLead   = "pause_lead"
)

// StaffNotifier delivers staff-facing automation emails as chat messages.
// It implements mail.Mailer so the scheduler does not know the difference.
type StaffNotifier struct {
	client telegram.Client
	chatID int64
	logger *logrus.Entry
}

func NewStaffNotifier(client telegram.Client, chatID int64, logger *logrus.Entry) *StaffNotifier {
	return &StaffNotifier{
		client: client,
		chatID: chatID,
		logger: logger.WithField("component", "staff_notifier"),
	}
}

func (n *StaffNotifier) Send(ctx context.Context, msg mail.Message) (mail.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return mail.Receipt{}, err
	}

	text := fmt.Sprintf("%s\n\n%s", msg.Subject, msg.Body)

	leadID := strconv.FormatInt(msg.LeadID, 10)
	replyMarkup := &telebot.ReplyMarkup{}
	btnReplied := replyMarkup.Data("Lead replied", btnLeadReplied, leadID)
	btnPause := replyMarkup.Data("Pause automation", btnPauseLead, leadID)
	replyMarkup.Inline(replyMarkup.Row(btnReplied, btnPause))

	messageID, err := n.client.SendMessage(n.chatID, text, &telebot.SendOptions{ReplyMarkup: replyMarkup})
	if err != nil {
		return mail.Receipt{}, fmt.Errorf("error posting staff reminder to chat %d: %w", n.chatID, err)
	}

	n.logger.WithFields(logrus.Fields{
		"lead_id":    msg.LeadID,
		"email_type": msg.EmailType,
		"message_id": messageID,
	}).Debug("Staff reminder posted")
	return mail.Receipt{ProviderID: fmt.Sprintf("telegram:%d:%d", n.chatID, messageID)}, nil
}
