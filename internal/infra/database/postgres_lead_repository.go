package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lead_email_automation/internal/domain/automation"
	"lead_email_automation/internal/domain/lead"
)

// PostgresLeadRepository reads the CRM lead table.
type PostgresLeadRepository struct {
	db *sql.DB
}

func NewPostgresLeadRepository(db *sql.DB) *PostgresLeadRepository {
	return &PostgresLeadRepository{db: db}
}

const leadColumns = `id, name, email, company, value, stage, created_at, updated_at`

func scanLead(row rowScanner) (*lead.Lead, error) {
	l := &lead.Lead{}
	var stage string
	if err := row.Scan(&l.ID, &l.Name, &l.Email, &l.Company, &l.Value, &stage, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	// The CRM may store display names ("Proposal Sent"); unknown values are kept
	// as-is so callers can report them.
	if parsed, err := automation.ParseStage(stage); err == nil {
		l.Stage = parsed
	} else {
		l.Stage = automation.Stage(stage)
	}
	return l, nil
}

func (r *PostgresLeadRepository) GetByID(ctx context.Context, id int64) (*lead.Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lead.ErrNotFound
		}
		return nil, fmt.Errorf("error getting lead by ID: %w", err)
	}
	return l, nil
}

func (r *PostgresLeadRepository) GetByEmail(ctx context.Context, email string) (*lead.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE LOWER(email) = LOWER($1) ORDER BY id LIMIT 1`
	l, err := scanLead(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lead.ErrNotFound
		}
		return nil, fmt.Errorf("error getting lead by email: %w", err)
	}
	return l, nil
}

func (r *PostgresLeadRepository) ListAll(ctx context.Context) ([]*lead.Lead, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error querying leads: %w", err)
	}
	defer rows.Close()

	leads := make([]*lead.Lead, 0)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning lead row: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lead rows: %w", err)
	}
	return leads, nil
}
