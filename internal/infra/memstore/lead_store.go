package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"lead_email_automation/internal/domain/lead"
)

// LeadStore stands in for the CRM lead table when no database is configured.
type LeadStore struct {
	mu    sync.RWMutex
	leads map[int64]lead.Lead
}

func NewLeadStore(leads ...*lead.Lead) *LeadStore {
	s := &LeadStore{leads: make(map[int64]lead.Lead)}
	for _, l := range leads {
		s.Put(l)
	}
	return s
}

// Put inserts or replaces a lead.
func (s *LeadStore) Put(l *lead.Lead) {
	s.mu.Lock()
	s.leads[l.ID] = *l
	s.mu.Unlock()
}

// Delete removes a lead, as the CRM would on hard delete.
func (s *LeadStore) Delete(id int64) {
	s.mu.Lock()
	delete(s.leads, id)
	s.mu.Unlock()
}

func (s *LeadStore) GetByID(_ context.Context, id int64) (*lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, lead.ErrNotFound
	}
	return &l, nil
}

func (s *LeadStore) GetByEmail(_ context.Context, email string) (*lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var match *lead.Lead
	for _, l := range s.leads {
		if strings.EqualFold(l.Email, email) && (match == nil || l.ID < match.ID) {
			l := l
			match = &l
		}
	}
	if match == nil {
		return nil, lead.ErrNotFound
	}
	return match, nil
}

func (s *LeadStore) ListAll(_ context.Context) ([]*lead.Lead, error) {
	s.mu.RLock()
	out := make([]*lead.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		l := l
		out = append(out, &l)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
