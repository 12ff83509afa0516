// internal/infra/memstore/automation_store.go
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"lead_email_automation/internal/domain/automation"
)

// AutomationStore keeps automation records in memory, one slot per lead.
// The map lock only guards the set of slots; each slot has its own lock, so
// writers to different leads never wait on each other.
type AutomationStore struct {
	mu    sync.RWMutex
	slots map[int64]*slot
}

type slot struct {
	mu  sync.Mutex
	rec automation.Record
}

func NewAutomationStore() *AutomationStore {
	return &AutomationStore{slots: make(map[int64]*slot)}
}

func (s *AutomationStore) Create(_ context.Context, rec *automation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[rec.LeadID]; ok {
		return automation.ErrAlreadyExists
	}
	rec.Version = 1
	s.slots[rec.LeadID] = &slot{rec: *rec}
	return nil
}

func (s *AutomationStore) lookup(leadID int64) (*slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slots[leadID]
	return sl, ok
}

func (s *AutomationStore) GetByLeadID(_ context.Context, leadID int64) (*automation.Record, error) {
	sl, ok := s.lookup(leadID)
	if !ok {
		return nil, automation.ErrNotFound
	}
	sl.mu.Lock()
	rec := sl.rec
	sl.mu.Unlock()
	return &rec, nil
}

func (s *AutomationStore) snapshot() []*automation.Record {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	out := make([]*automation.Record, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		rec := sl.rec
		sl.mu.Unlock()
		out = append(out, &rec)
	}
	return out
}

func (s *AutomationStore) ListAll(_ context.Context) ([]*automation.Record, error) {
	out := s.snapshot()
	sort.Slice(out, func(i, j int) bool { return out[i].LeadID < out[j].LeadID })
	return out, nil
}

func (s *AutomationStore) ListDue(_ context.Context, now time.Time, limit int) ([]*automation.Record, error) {
	var due []*automation.Record
	for _, rec := range s.snapshot() {
		if rec.IsDue(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextEmailDue().Time, due[j].NextEmailDue().Time
		if !a.Equal(b) {
			return a.Before(b)
		}
		return due[i].LeadID < due[j].LeadID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *AutomationStore) Update(_ context.Context, rec *automation.Record) error {
	sl, ok := s.lookup(rec.LeadID)
	if !ok {
		return automation.ErrNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.rec.Version != rec.Version {
		return automation.ErrConcurrencyConflict
	}
	rec.Version++
	sl.rec = *rec
	return nil
}
