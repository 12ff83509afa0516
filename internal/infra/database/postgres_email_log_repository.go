package database

import (
	"context"
	"database/sql"
	"fmt"

	"lead_email_automation/internal/domain/emaillog"
)

type PostgresEmailLogRepository struct {
	db *sql.DB
}

func NewPostgresEmailLogRepository(db *sql.DB) *PostgresEmailLogRepository {
	return &PostgresEmailLogRepository{db: db}
}

const emailLogColumns = `id, lead_id, lead_name, lead_email, lead_value, email_type, subject, sent_at, success, failure_reason, provider_id`

func (r *PostgresEmailLogRepository) Append(ctx context.Context, e *emaillog.Entry) error {
	query := `INSERT INTO email_logs (` + emailLogColumns + `)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.LeadID, e.LeadName, e.LeadEmail, e.LeadValue, e.EmailType, e.Subject,
		e.SentAt, e.Success, e.FailureReason, e.ProviderID,
	)
	if err != nil {
		return fmt.Errorf("error appending email log entry: %w", err)
	}
	return nil
}

func scanEmailLogs(rows *sql.Rows) ([]*emaillog.Entry, error) {
	entries := make([]*emaillog.Entry, 0)
	for rows.Next() {
		e := emaillog.Entry{}
		if err := rows.Scan(
			&e.ID, &e.LeadID, &e.LeadName, &e.LeadEmail, &e.LeadValue, &e.EmailType, &e.Subject,
			&e.SentAt, &e.Success, &e.FailureReason, &e.ProviderID,
		); err != nil {
			return nil, fmt.Errorf("error scanning email log row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email log rows: %w", err)
	}
	return entries, nil
}

func (r *PostgresEmailLogRepository) Recent(ctx context.Context, n int) ([]*emaillog.Entry, error) {
	query := `SELECT ` + emailLogColumns + ` FROM email_logs ORDER BY sent_at DESC, id LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limitArg(n))
	if err != nil {
		return nil, fmt.Errorf("error querying recent email logs: %w", err)
	}
	defer rows.Close()
	return scanEmailLogs(rows)
}

func (r *PostgresEmailLogRepository) ListByLead(ctx context.Context, leadID int64, n int) ([]*emaillog.Entry, error) {
	query := `SELECT ` + emailLogColumns + ` FROM email_logs WHERE lead_id = $1 ORDER BY sent_at DESC, id LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, leadID, limitArg(n))
	if err != nil {
		return nil, fmt.Errorf("error querying email logs by lead: %w", err)
	}
	defer rows.Close()
	return scanEmailLogs(rows)
}

func (r *PostgresEmailLogRepository) TemplateStats(ctx context.Context) ([]emaillog.TemplateStat, error) {
	query := `SELECT email_type, COUNT(*), COUNT(*) FILTER (WHERE success)
               FROM email_logs GROUP BY email_type ORDER BY email_type`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error aggregating email logs: %w", err)
	}
	defer rows.Close()

	stats := make([]emaillog.TemplateStat, 0)
	for rows.Next() {
		var st emaillog.TemplateStat
		if err := rows.Scan(&st.EmailType, &st.Count, &st.Success); err != nil {
			return nil, fmt.Errorf("error scanning template stat row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template stat rows: %w", err)
	}
	return stats, nil
}
