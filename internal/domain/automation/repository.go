// internal/domain/automation/repository.go
package automation

import (
	"context"
	"time"
)

// Repository persists automation records. Implementations must hand out
// copies: mutating a returned record never changes stored state until Update.
type Repository interface {
	// Create stores a new record. Returns ErrAlreadyExists if the lead has one.
	Create(ctx context.Context, rec *Record) error
	GetByLeadID(ctx context.Context, leadID int64) (*Record, error)
	ListAll(ctx context.Context) ([]*Record, error)
	// ListDue returns active, unleased records whose current-stage due time is
	// at or before now, oldest due first. limit <= 0 means no limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Record, error)
	// Update writes rec if the stored version still equals rec.Version and
	// bumps rec.Version on success. Returns ErrConcurrencyConflict otherwise.
	Update(ctx context.Context, rec *Record) error
}
