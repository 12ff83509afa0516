// internal/infra/database/postgres_automation_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq" // For pq.Array

	"lead_email_automation/internal/domain/automation"
)

type PostgresAutomationRepository struct {
	db *sql.DB
}

func NewPostgresAutomationRepository(db *sql.DB) *PostgresAutomationRepository {
	return &PostgresAutomationRepository{db: db}
}

// stagePrefixes maps a tracked stage to its column prefix.
var stagePrefixes = []struct {
	stage  automation.Stage
	prefix string
}{
	{automation.StageLead, "lead"},
	{automation.StageQualified, "qualified"},
	{automation.StageProposalSent, "proposal_sent"},
	{automation.StageNegotiations, "negotiations"},
}

// automationColumns is the write order used by insert, update and scan.
var automationColumns = func() []string {
	cols := []string{"lead_id", "current_stage", "is_active", "lead_replied", "paused_reason"}
	for _, sp := range stagePrefixes {
		cols = append(cols,
			sp.prefix+"_emails_sent",
			sp.prefix+"_next_email_due",
			sp.prefix+"_entered_at",
			sp.prefix+"_last_sent_at",
		)
	}
	return append(cols, "lease_until", "created_at", "updated_at")
}()

// dueExpr selects the due column of the current stage.
var dueExpr = func() string {
	var b strings.Builder
	b.WriteString("CASE current_stage")
	for _, sp := range stagePrefixes {
		fmt.Fprintf(&b, " WHEN '%s' THEN %s_next_email_due", sp.stage, sp.prefix)
	}
	b.WriteString(" END")
	return b.String()
}()

var (
	selectAutomationSQL = "SELECT " + strings.Join(automationColumns, ", ") + ", version FROM lead_automations"

	insertAutomationSQL = func() string {
		ph := make([]string, len(automationColumns))
		for i := range ph {
			ph[i] = fmt.Sprintf("$%d", i+1)
		}
		return "INSERT INTO lead_automations (" + strings.Join(automationColumns, ", ") + ", version) VALUES (" +
			strings.Join(ph, ", ") + ", 1) ON CONFLICT (lead_id) DO NOTHING RETURNING version"
	}()

	updateAutomationSQL = func() string {
		sets := make([]string, 0, len(automationColumns)-1)
		for i, col := range automationColumns[1:] {
			sets = append(sets, fmt.Sprintf("%s = $%d", col, i+2))
		}
		return "UPDATE lead_automations SET " + strings.Join(sets, ", ") + ", version = version + 1" +
			fmt.Sprintf(" WHERE lead_id = $1 AND version = $%d RETURNING version", len(automationColumns)+1)
	}()

	listDueSQL = selectAutomationSQL +
		" WHERE is_active AND current_stage = ANY($2) AND (lease_until IS NULL OR lease_until <= $1)" +
		" AND " + dueExpr + " <= $1" +
		" ORDER BY " + dueExpr + ", lead_id LIMIT $3"
)

func automationValues(rec *automation.Record) []any {
	vals := []any{rec.LeadID, string(rec.CurrentStage), rec.IsActive, rec.LeadReplied, rec.PausedReason}
	for _, sp := range stagePrefixes {
		p := rec.Progress(sp.stage)
		vals = append(vals, p.EmailsSent, p.NextEmailDue, p.EnteredAt, p.LastSentAt)
	}
	return append(vals, rec.LeaseUntil, rec.CreatedAt, rec.UpdatedAt)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*automation.Record, error) {
	rec := &automation.Record{}
	var stage string
	dest := []any{&rec.LeadID, &stage, &rec.IsActive, &rec.LeadReplied, &rec.PausedReason}
	for _, sp := range stagePrefixes {
		p := rec.Progress(sp.stage)
		dest = append(dest, &p.EmailsSent, &p.NextEmailDue, &p.EnteredAt, &p.LastSentAt)
	}
	dest = append(dest, &rec.LeaseUntil, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.CurrentStage = automation.Stage(stage)
	return rec, nil
}

func scanAutomations(rows *sql.Rows) ([]*automation.Record, error) {
	records := make([]*automation.Record, 0)
	for rows.Next() {
		rec, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning automation row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automation rows: %w", err)
	}
	return records, nil
}

func (r *PostgresAutomationRepository) Create(ctx context.Context, rec *automation.Record) error {
	err := r.db.QueryRowContext(ctx, insertAutomationSQL, automationValues(rec)...).Scan(&rec.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return automation.ErrAlreadyExists
		}
		return fmt.Errorf("error creating automation: %w", err)
	}
	return nil
}

func (r *PostgresAutomationRepository) GetByLeadID(ctx context.Context, leadID int64) (*automation.Record, error) {
	rec, err := scanAutomation(r.db.QueryRowContext(ctx, selectAutomationSQL+" WHERE lead_id = $1", leadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, automation.ErrNotFound
		}
		return nil, fmt.Errorf("error getting automation by lead ID: %w", err)
	}
	return rec, nil
}

func (r *PostgresAutomationRepository) ListAll(ctx context.Context) ([]*automation.Record, error) {
	rows, err := r.db.QueryContext(ctx, selectAutomationSQL+" ORDER BY lead_id")
	if err != nil {
		return nil, fmt.Errorf("error querying automations: %w", err)
	}
	defer rows.Close()
	return scanAutomations(rows)
}

func (r *PostgresAutomationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*automation.Record, error) {
	stages := make([]string, 0, len(automation.TrackedStages))
	for _, s := range automation.TrackedStages {
		stages = append(stages, string(s))
	}
	rows, err := r.db.QueryContext(ctx, listDueSQL, now, pq.Array(stages), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("error querying due automations: %w", err)
	}
	defer rows.Close()
	return scanAutomations(rows)
}

func (r *PostgresAutomationRepository) Update(ctx context.Context, rec *automation.Record) error {
	args := append(automationValues(rec), rec.Version)
	var version int64
	err := r.db.QueryRowContext(ctx, updateAutomationSQL, args...).Scan(&version)
	if err == nil {
		rec.Version = version
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("error updating automation: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM lead_automations WHERE lead_id = $1)`, rec.LeadID).Scan(&exists); err != nil {
		return fmt.Errorf("error checking automation after failed update: %w", err)
	}
	if !exists {
		return automation.ErrNotFound
	}
	return automation.ErrConcurrencyConflict
}
