package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"academycal/internal/model"
)

// MemoryStore is an in-memory Store. It backs tests and the "memory" driver.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*model.Event
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*model.Event),
		now:    time.Now,
	}
}

// Len returns the number of stored rows, live or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("find %q: %w", id, ErrNotFound)
	}
	return ev.Clone(), nil
}

func (s *MemoryStore) FindInRange(_ context.Context, start, end time.Time, f RangeFilter) ([]*model.Event, error) {
	out := s.collect(func(ev *model.Event) bool {
		return MatchesRange(ev, start, end, f)
	})
	sortByStart(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) FindRecurringParentsBefore(_ context.Context, end time.Time) ([]*model.Event, error) {
	out := s.collect(func(ev *model.Event) bool {
		return ev.IsLive() && ev.IsRecurring && !ev.StartDateTime.After(end)
	})
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) ListLive(_ context.Context) ([]*model.Event, error) {
	out := s.collect(func(ev *model.Event) bool {
		return ev.IsLive() && !ev.IsOccurrence
	})
	sortByStart(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, ev *model.Event) error {
	if err := CheckSavable(ev); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
		ev.CreatedAt = now
	} else if _, ok := s.events[ev.ID]; !ok {
		return fmt.Errorf("save %q: %w", ev.ID, ErrNotFound)
	}
	ev.UpdatedAt = now
	s.events[ev.ID] = ev.Clone()
	return nil
}

// Insert stores ev as-is, keeping its ID. It exists for seeding fixtures
// and imports that carry their own ids.
func (s *MemoryStore) Insert(ev *model.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("insert: event id is empty")
	}
	if err := CheckSavable(ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev.Clone()
	return nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return fmt.Errorf("soft delete %q: %w", id, ErrNotFound)
	}
	markDeleted(ev, at)
	return nil
}

func (s *MemoryStore) SoftDeleteByParent(_ context.Context, parentID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ev := range s.events {
		if ev.ParentEventID == parentID {
			markDeleted(ev, at)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteByParent(_ context.Context, parentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, ev := range s.events {
		if ev.ParentEventID == parentID {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) collect(keep func(*model.Event) bool) []*model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Event, 0)
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, ev.Clone())
		}
	}
	return out
}

func markDeleted(ev *model.Event, at time.Time) {
	t := at.UTC()
	ev.DeletedAt = &t
	ev.IsActive = false
	ev.UpdatedAt = t
}

// sortByStart orders by start ascending, breaking ties by id so results do
// not depend on map iteration order.
func sortByStart(events []*model.Event) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.StartDateTime.Equal(b.StartDateTime) {
			return a.StartDateTime.Before(b.StartDateTime)
		}
		return a.ID < b.ID
	})
}
