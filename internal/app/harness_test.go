package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"lead_email_automation/internal/domain/automation"
	"lead_email_automation/internal/domain/clock"
	"lead_email_automation/internal/domain/lead"
	"lead_email_automation/internal/domain/mail"
	"lead_email_automation/internal/infra/memstore"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fakeMailer struct {
	mu     sync.Mutex
	sent   []mail.Message
	onSend func(mail.Message) error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) (mail.Receipt, error) {
	if m.onSend != nil {
		if err := m.onSend(msg); err != nil {
			return mail.Receipt{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return mail.Receipt{ProviderID: fmt.Sprintf("msg-%d", len(m.sent))}, nil
}

func (m *fakeMailer) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

func (m *fakeMailer) SentTo(leadID int64) []mail.Message {
	var out []mail.Message
	for _, msg := range m.Sent() {
		if msg.LeadID == leadID {
			out = append(out, msg)
		}
	}
	return out
}

type harness struct {
	ctx     context.Context
	clock   *clock.Manual
	records *memstore.AutomationStore
	logs    *memstore.EmailLogStore
	leads   *memstore.LeadStore
	mailer  *fakeMailer
	engine  *EmailSchedulerImpl
	svc     *AutomationService
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newHarness(t *testing.T, cfg SchedulerConfig) *harness {
	t.Helper()
	if cfg.StaffEmail == "" {
		cfg.StaffEmail = "sales@example.com"
	}
	h := &harness{
		ctx:     context.Background(),
		clock:   clock.NewManual(t0),
		records: memstore.NewAutomationStore(),
		logs:    memstore.NewEmailLogStore(),
		leads:   memstore.NewLeadStore(),
		mailer:  &fakeMailer{},
	}
	policy := automation.DefaultPolicy()
	h.engine = NewEmailSchedulerImpl(h.records, h.logs, h.leads, h.mailer, policy, cfg, quietLogger())
	h.svc = NewAutomationService(h.records, h.logs, h.leads, policy, h.clock, h.engine, quietLogger())
	return h
}

// addLead registers a CRM lead and initializes its automation at the current clock time.
func (h *harness) addLead(t *testing.T, id int64, stage automation.Stage) {
	t.Helper()
	h.leads.Put(&lead.Lead{
		ID:      id,
		Name:    fmt.Sprintf("Lead %d", id),
		Email:   fmt.Sprintf("lead%d@example.com", id),
		Company: sql.NullString{String: "Acme", Valid: true},
		Value:   1000 * float64(id),
		Stage:   stage,
	})
	_, created, err := h.svc.Initialize(h.ctx, id, stage)
	require.NoError(t, err)
	require.True(t, created)
}

func (h *harness) record(t *testing.T, id int64) *automation.Record {
	t.Helper()
	rec, err := h.records.GetByLeadID(h.ctx, id)
	require.NoError(t, err)
	return rec
}

// sweepAt moves the clock to now and runs a sweep.
func (h *harness) sweepAt(now time.Time) SweepSummary {
	h.clock.Set(now)
	return h.engine.ProcessDueEmails(h.ctx, now)
}
