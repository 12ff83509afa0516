package mailer

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lead_email_automation/internal/domain/mail"
)

// LogMailer only logs messages. Used when no SMTP server is configured.
type LogMailer struct {
	logger *logrus.Entry
}

func NewLogMailer(logger *logrus.Entry) *LogMailer {
	return &LogMailer{logger: logger.WithField("component", "log_mailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg mail.Message) (mail.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return mail.Receipt{}, err
	}
	id := "log-" + uuid.NewString()
	m.logger.WithFields(logrus.Fields{
		"lead_id":    msg.LeadID,
		"email_type": msg.EmailType,
		"audience":   msg.Audience,
		"to":         msg.To,
		"message_id": id,
	}).Infof("Email not sent (no SMTP configured): %s", msg.Subject)
	return mail.Receipt{ProviderID: id}, nil
}
