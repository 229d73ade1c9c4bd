package calendar

import (
	"context"
	"fmt"
	"strings"
	"sync"

	appLog "academycal/internal/log"
	"academycal/internal/model"
)

// EventInput is create input: event fields plus an optional template name
// whose defaults the fields override.
type EventInput struct {
	model.EventPatch
	Template string `json:"template,omitempty"`
}

// UpdateResult is returned by Update.
type UpdateResult struct {
	Scope Scope        `json:"updated"`
	Event *model.Event `json:"event"`
}

// DeleteResult is returned by Delete and DeleteOccurrence.
type DeleteResult struct {
	Scope Scope `json:"deleted"`
	// Count is always 1, even when child rows were also deleted.
	Count int `json:"count"`
}

// Create persists a new event. A known Template supplies defaults; fields
// set on in win over the template. An unknown template name is ignored.
func (s *Service) Create(ctx context.Context, in EventInput, creatorID string) (*model.Event, error) {
	ev := &model.Event{IsActive: true}

	if in.Template != "" {
		if tpl, ok := model.LookupTemplate(in.Template); ok {
			tpl.Patch().Apply(ev)
		}
	}
	in.EventPatch.Apply(ev)
	ev.CreatedByAdminID = creatorID
	ev.ApplyDefaults(s.opts.EventTimezone)
	if !ev.IsRecurring {
		ev.RecurrencePattern = nil
	}

	if ev.MeetingProvider == model.ProviderZoom && ev.MeetingLink == "" {
		link, err := s.opts.Linker.MeetingLink(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("generate meeting link: %w", err)
		}
		ev.MeetingLink = link
	}

	if err := s.store.Save(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	appLog.Info("event created",
		"id", ev.ID,
		"type", ev.EventType,
		"recurring", ev.IsRecurring,
		"template", in.Template,
	)
	return ev, nil
}

// CreateFromTemplate creates an event from a named template. Unlike Create,
// the template must exist.
func (s *Service) CreateFromTemplate(ctx context.Context, template string, overrides model.EventPatch, creatorID string) (*model.Event, error) {
	if template == "" {
		return nil, fmt.Errorf("%w: template name is required", ErrInvalidInput)
	}
	if _, ok := model.LookupTemplate(template); !ok {
		return nil, fmt.Errorf("%w: unknown template %q (known: %s)", ErrInvalidInput, template, strings.Join(model.TemplateNames(), ", "))
	}
	return s.Create(ctx, EventInput{EventPatch: overrides, Template: template}, creatorID)
}

// Update applies patch to an event. With updateSeries on a recurring parent
// the parent is patched and every persisted row referencing it is removed,
// since occurrences are regenerated from the parent on the next read.
func (s *Service) Update(ctx context.Context, id string, patch model.EventPatch, updateSeries bool) (*UpdateResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	ev, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}

	series := updateSeries && ev.IsRecurring
	patch.Apply(ev)
	if err := s.store.Save(ctx, ev); err != nil {
		return nil, fmt.Errorf("update event %q: %w", id, err)
	}

	if !series {
		appLog.Info("event updated", "id", id, "scope", ScopeSingle)
		return &UpdateResult{Scope: ScopeSingle, Event: ev}, nil
	}

	purged, err := s.store.DeleteByParent(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("purge rows of series %q: %w", id, err)
	}
	appLog.Info("event updated", "id", id, "scope", ScopeSeries, "purged_rows", purged)
	return &UpdateResult{Scope: ScopeSeries, Event: ev}, nil
}

// Delete soft-deletes an event. With deleteSeries on a recurring parent it
// also soft-deletes every row referencing the parent.
func (s *Service) Delete(ctx context.Context, id string, deleteSeries bool) (*DeleteResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	ev, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	if err := s.store.SoftDelete(ctx, ev.ID, now); err != nil {
		return nil, fmt.Errorf("delete event %q: %w", id, err)
	}

	if !(deleteSeries && ev.IsRecurring) {
		appLog.Info("event deleted", "id", id, "scope", ScopeSingle)
		return &DeleteResult{Scope: ScopeSingle, Count: 1}, nil
	}

	children, err := s.store.SoftDeleteByParent(ctx, ev.ID, now)
	if err != nil {
		return nil, fmt.Errorf("delete rows of series %q: %w", id, err)
	}
	appLog.Info("event deleted", "id", id, "scope", ScopeSeries, "child_rows", children)
	return &DeleteResult{Scope: ScopeSeries, Count: 1}, nil
}

// DeleteOccurrence cancels one occurrence of a recurring parent by adding
// its day to the parent's CancelledDates. Repeating the call for the same
// day changes nothing.
func (s *Service) DeleteOccurrence(ctx context.Context, parentID, occurrenceDate string) (*DeleteResult, error) {
	unlock := s.locks.lock(parentID)
	defer unlock()

	parent, err := s.loadLive(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("parent recurring event not found: %w", err)
	}
	if !parent.IsRecurring {
		return nil, fmt.Errorf("parent recurring event not found: event %q is not recurring: %w", parentID, ErrPreconditionFailed)
	}

	day, err := model.NormalizeDay(occurrenceDate)
	if err != nil {
		return nil, err
	}

	if parent.CancelDay(day) {
		if err := s.store.Save(ctx, parent); err != nil {
			return nil, fmt.Errorf("cancel occurrence %s of %q: %w", day, parentID, err)
		}
	}
	appLog.Info("occurrence cancelled", "parent_id", parentID, "day", day)
	return &DeleteResult{Scope: ScopeOccurrence, Count: 1}, nil
}

// keyedMutex serializes read-modify-write cycles per event id within one
// process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
