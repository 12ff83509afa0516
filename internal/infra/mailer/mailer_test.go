package mailer

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"lead_email_automation/internal/domain/mail"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

type recordingMailer struct {
	name string
	got  []mail.Message
}

func (r *recordingMailer) Send(_ context.Context, msg mail.Message) (mail.Receipt, error) {
	r.got = append(r.got, msg)
	return mail.Receipt{ProviderID: r.name}, nil
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func leadMessage() mail.Message {
	return mail.Message{
		LeadID:    42,
		EmailType: "lead_intro",
		Audience:  mail.AudienceLead,
		To:        "ada@example.com",
		ToName:    "Ada",
		Subject:   "Hello Ada",
		Body:      "Thanks for reaching out.",
	}
}

func TestSMTPMailer_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - headers and receipt", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewSMTPMailerWithDialer(d, "sales@acme.io", "Acme Sales", quietLogger())

		receipt, err := m.Send(ctx, leadMessage())
		require.NoError(t, err)
		require.Len(t, d.sent, 1)

		gm := d.sent[0]
		assert.Equal(t, []string{`"Acme Sales" <sales@acme.io>`}, gm.GetHeader("From"))
		assert.Equal(t, []string{`"Ada" <ada@example.com>`}, gm.GetHeader("To"))
		assert.Equal(t, []string{"Hello Ada"}, gm.GetHeader("Subject"))
		assert.Equal(t, []string{"42"}, gm.GetHeader("X-Lead-ID"))
		assert.Equal(t, []string{receipt.ProviderID}, gm.GetHeader("Message-ID"))
		assert.Regexp(t, `^<[0-9a-f-]{36}@acme\.io>$`, receipt.ProviderID)
	})

	t.Run("Error - transport failure", func(t *testing.T) {
		d := &fakeDialer{err: errors.New("connection refused")}
		m := NewSMTPMailerWithDialer(d, "sales@acme.io", "", quietLogger())

		_, err := m.Send(ctx, leadMessage())
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("Error - no recipient", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewSMTPMailerWithDialer(d, "sales@acme.io", "", quietLogger())
		msg := leadMessage()
		msg.To = ""

		_, err := m.Send(ctx, msg)
		assert.Error(t, err)
		assert.Empty(t, d.sent)
	})

	t.Run("Error - cancelled context", func(t *testing.T) {
		d := &fakeDialer{}
		m := NewSMTPMailerWithDialer(d, "sales@acme.io", "", quietLogger())
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := m.Send(cctx, leadMessage())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRoutingMailer_Send(t *testing.T) {
	ctx := context.Background()
	smtp := &recordingMailer{name: "smtp"}
	chat := &recordingMailer{name: "chat"}
	r := NewRoutingMailer(smtp).Route(mail.AudienceStaff, chat)

	staff := leadMessage()
	staff.Audience = mail.AudienceStaff

	receipt, err := r.Send(ctx, staff)
	require.NoError(t, err)
	assert.Equal(t, "chat", receipt.ProviderID)

	receipt, err = r.Send(ctx, leadMessage())
	require.NoError(t, err)
	assert.Equal(t, "smtp", receipt.ProviderID)

	assert.Len(t, smtp.got, 1)
	assert.Len(t, chat.got, 1)

	_, err = NewRoutingMailer(nil).Send(ctx, leadMessage())
	assert.Error(t, err)
}

func TestLogMailer_Send(t *testing.T) {
	receipt, err := NewLogMailer(quietLogger()).Send(context.Background(), leadMessage())
	require.NoError(t, err)
	assert.Contains(t, receipt.ProviderID, "log-")
}
