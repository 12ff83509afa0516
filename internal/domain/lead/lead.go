package lead

import (
	"database/sql"
	"time"

	"lead_email_automation/internal/domain/automation"
)

// Lead is the CRM prospect. The CRM owns it; the scheduler only reads the
// fields it needs to address and render emails.
type Lead struct {
	ID        int64
	Name      string
	Email     string
	Company   sql.NullString
	Value     float64
	Stage     automation.Stage
	CreatedAt time.Time
	UpdatedAt time.Time
}
