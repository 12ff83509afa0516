// internal/domain/emaillog/entry.go
package emaillog

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Entry is one send attempt. Entries are immutable once appended.
// Corresponds to the 'email_logs' table.
type Entry struct {
	ID            uuid.UUID
	LeadID        int64
	LeadName      string
	LeadEmail     string
	LeadValue     float64
	EmailType     string // template key, e.g. lead_followup_2
	Subject       string
	SentAt        time.Time
	Success       bool
	FailureReason sql.NullString
	ProviderID    sql.NullString
}

// NewEntry assigns a fresh ID.
func NewEntry(leadID int64, emailType, subject string, sentAt time.Time) *Entry {
	return &Entry{
		ID:        uuid.New(),
		LeadID:    leadID,
		EmailType: emailType,
		Subject:   subject,
		SentAt:    sentAt,
	}
}

// TemplateStat aggregates attempts per email type.
type TemplateStat struct {
	EmailType string `json:"emailType"`
	Count     int    `json:"count"`
	Success   int    `json:"success"`
}
