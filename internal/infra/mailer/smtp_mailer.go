package mailer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"lead_email_automation/internal/domain/mail"
)

// Dialer is the part of gomail.Dialer the SMTP mailer uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// SMTPMailer delivers automation emails over SMTP.
type SMTPMailer struct {
	dialer    Dialer
	fromEmail string
	fromName  string
	logger    *logrus.Entry
}

func NewSMTPMailer(cfg SMTPConfig, logger *logrus.Entry) *SMTPMailer {
	return NewSMTPMailerWithDialer(
		gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		cfg.FromEmail, cfg.FromName, logger,
	)
}

func NewSMTPMailerWithDialer(d Dialer, fromEmail, fromName string, logger *logrus.Entry) *SMTPMailer {
	return &SMTPMailer{
		dialer:    d,
		fromEmail: fromEmail,
		fromName:  fromName,
		logger:    logger.WithField("component", "smtp_mailer"),
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg mail.Message) (mail.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return mail.Receipt{}, err
	}
	if msg.To == "" {
		return mail.Receipt{}, fmt.Errorf("no recipient for %s email to lead %d", msg.EmailType, msg.LeadID)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(m.fromEmail))

	gm := gomail.NewMessage()
	gm.SetHeader("From", gm.FormatAddress(m.fromEmail, m.fromName))
	if msg.ToName != "" {
		gm.SetHeader("To", gm.FormatAddress(msg.To, msg.ToName))
	} else {
		gm.SetHeader("To", msg.To)
	}
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("Message-ID", messageID)
	gm.SetHeader("X-Lead-ID", strconv.FormatInt(msg.LeadID, 10))
	gm.SetHeader("X-Email-Type", msg.EmailType)
	gm.SetBody("text/plain", msg.Body)

	if err := m.dialer.DialAndSend(gm); err != nil {
		return mail.Receipt{}, fmt.Errorf("error sending email: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"lead_id":    msg.LeadID,
		"email_type": msg.EmailType,
		"message_id": messageID,
	}).Debug("Email handed to SMTP server")
	return mail.Receipt{ProviderID: messageID}, nil
}

func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
