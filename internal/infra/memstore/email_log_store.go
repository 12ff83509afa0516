package memstore

import (
	"context"
	"sort"
	"sync"

	"lead_email_automation/internal/domain/emaillog"
)

// EmailLogStore is an append-only in-memory email log.
type EmailLogStore struct {
	mu      sync.RWMutex
	entries []emaillog.Entry
}

func NewEmailLogStore() *EmailLogStore {
	return &EmailLogStore{}
}

func (s *EmailLogStore) Append(_ context.Context, e *emaillog.Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, *e)
	s.mu.Unlock()
	return nil
}

// newestFirst walks the log backwards and keeps entries accepted by keep.
func (s *EmailLogStore) newestFirst(n int, keep func(*emaillog.Entry) bool) []*emaillog.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*emaillog.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if n > 0 && len(out) == n {
			break
		}
		e := s.entries[i]
		if keep(&e) {
			out = append(out, &e)
		}
	}
	return out
}

func (s *EmailLogStore) Recent(_ context.Context, n int) ([]*emaillog.Entry, error) {
	return s.newestFirst(n, func(*emaillog.Entry) bool { return true }), nil
}

func (s *EmailLogStore) ListByLead(_ context.Context, leadID int64, n int) ([]*emaillog.Entry, error) {
	return s.newestFirst(n, func(e *emaillog.Entry) bool { return e.LeadID == leadID }), nil
}

func (s *EmailLogStore) TemplateStats(_ context.Context) ([]emaillog.TemplateStat, error) {
	s.mu.RLock()
	byType := make(map[string]*emaillog.TemplateStat)
	for _, e := range s.entries {
		st, ok := byType[e.EmailType]
		if !ok {
			st = &emaillog.TemplateStat{EmailType: e.EmailType}
			byType[e.EmailType] = st
		}
		st.Count++
		if e.Success {
			st.Success++
		}
	}
	s.mu.RUnlock()

	out := make([]emaillog.TemplateStat, 0, len(byType))
	for _, st := range byType {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmailType < out[j].EmailType })
	return out, nil
}
