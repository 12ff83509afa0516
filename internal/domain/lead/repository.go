package lead

import (
	"context"
	"fmt"
)

var ErrNotFound = fmt.Errorf("lead not found")

// Repository is read-only access to the CRM lead table.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Lead, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*Lead, error)
	ListAll(ctx context.Context) ([]*Lead, error)
}
