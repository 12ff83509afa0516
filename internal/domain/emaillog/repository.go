package emaillog

import "context"

// Repository is the append-only email log.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	// Recent returns the latest n entries, newest first.
	Recent(ctx context.Context, n int) ([]*Entry, error)
	ListByLead(ctx context.Context, leadID int64, n int) ([]*Entry, error)
	// TemplateStats is ordered by email type.
	TemplateStats(ctx context.Context) ([]TemplateStat, error)
}
