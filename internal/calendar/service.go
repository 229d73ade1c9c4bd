package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	appLog "academycal/internal/log"
	"academycal/internal/model"
	"academycal/internal/store"
)

const (
	defaultUpcomingLimit = 10
	defaultHorizonMonths = 3
	defaultEventTimezone = "America/Los_Angeles"
)

// Scope reports what a mutation touched.
type Scope string

const (
	ScopeSingle     Scope = "single"
	ScopeSeries     Scope = "series"
	ScopeOccurrence Scope = "occurrence"
)

// Admin is the creator record resolved through an AdminDirectory.
type Admin struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AdminDirectory resolves admin ids. User management lives elsewhere; the
// engine only reads through this interface.
type AdminDirectory interface {
	LookupAdmin(ctx context.Context, id string) (*Admin, error)
}

// Options configures a Service. Zero values get sensible defaults.
type Options struct {
	// Location is the zone month windows are computed in. Default UTC.
	Location *time.Location
	// EventTimezone is stored on new events that do not name a zone.
	EventTimezone string
	// UpcomingHorizonMonths bounds UpcomingEvents. Default 3.
	UpcomingHorizonMonths int
	Linker                MeetingLinker
	Admins                AdminDirectory
	Now                   func() time.Time
}

// Service is the recurrence engine: it expands recurring parents into
// occurrences on every read and applies single-vs-series mutation policy.
type Service struct {
	store store.Store
	opts  Options
	locks keyedMutex
}

// New creates a Service over st.
func New(st store.Store, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.EventTimezone == "" {
		opts.EventTimezone = defaultEventTimezone
	}
	if opts.UpcomingHorizonMonths <= 0 {
		opts.UpcomingHorizonMonths = defaultHorizonMonths
	}
	if opts.Linker == nil {
		opts.Linker = ZoomPlaceholder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: st, opts: opts}
}

// Location returns the zone used for month windows.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// MonthWindow returns the first instant and the last second of a month.
// month is zero-based; out-of-range values normalize like time.Date.
func (s *Service) MonthWindow(year, month int) (time.Time, time.Time) {
	loc := s.opts.Location
	start := time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, loc)
	end := time.Date(year, time.Month(month+2), 0, 23, 59, 59, 0, loc)
	return start, end
}

// EventsInMonth returns standalone events and occurrences in a month.
func (s *Service) EventsInMonth(ctx context.Context, year, month int) ([]*model.Event, error) {
	start, end := s.MonthWindow(year, month)
	return s.EventsInRange(ctx, start, end)
}

// EventsInRange merges standalone rows and expanded occurrences within
// [start, end], sorted by start.
func (s *Service) EventsInRange(ctx context.Context, start, end time.Time) ([]*model.Event, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range end is before range start", ErrInvalidInput)
	}
	standalone, err := s.store.FindInRange(ctx, start, end, store.RangeFilter{ExcludeRecurring: true})
	if err != nil {
		return nil, fmt.Errorf("find standalone events: %w", err)
	}
	return s.mergeOccurrences(ctx, standalone, start, end)
}

// UpcomingEvents returns at most limit events starting between now and the
// upcoming horizon. The standalone query is limited on its own before the
// merge; the merged list is truncated afterwards.
func (s *Service) UpcomingEvents(ctx context.Context, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = defaultUpcomingLimit
	}
	now := s.opts.Now()
	end := now.AddDate(0, s.opts.UpcomingHorizonMonths, 0)

	standalone, err := s.store.FindInRange(ctx, now, end, store.RangeFilter{ExcludeRecurring: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("find upcoming events: %w", err)
	}
	all, err := s.mergeOccurrences(ctx, standalone, now, end)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// StoredEventsInRange returns live stored rows starting in [start, end]
// without expanding recurring parents.
func (s *Service) StoredEventsInRange(ctx context.Context, start, end time.Time) ([]*model.Event, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range end is before range start", ErrInvalidInput)
	}
	return s.store.FindInRange(ctx, start, end, store.RangeFilter{})
}

func (s *Service) mergeOccurrences(ctx context.Context, standalone []*model.Event, start, end time.Time) ([]*model.Event, error) {
	parents, err := s.store.FindRecurringParentsBefore(ctx, end)
	if err != nil {
		return nil, fmt.Errorf("find recurring parents: %w", err)
	}

	all := make([]*model.Event, 0, len(standalone))
	all = append(all, standalone...)
	for _, parent := range parents {
		all = append(all, ExpandOccurrences(parent, start, end)...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].StartDateTime.Before(all[j].StartDateTime)
	})
	return all, nil
}

// Detail is an event with its references resolved.
type Detail struct {
	Event   *model.Event `json:"event"`
	Parent  *model.Event `json:"parent,omitempty"`
	Creator *Admin       `json:"creator,omitempty"`
}

// GetByID loads a live event and resolves its parent and creator.
func (s *Service) GetByID(ctx context.Context, id string) (*Detail, error) {
	ev, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Event: ev}

	if ev.ParentEventID != "" {
		parent, err := s.store.FindByID(ctx, ev.ParentEventID)
		switch {
		case err == nil:
			d.Parent = parent
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("load parent %q: %w", ev.ParentEventID, err)
		}
	}

	if s.opts.Admins != nil && ev.CreatedByAdminID != "" {
		admin, err := s.opts.Admins.LookupAdmin(ctx, ev.CreatedByAdminID)
		if err != nil {
			appLog.Warn("admin lookup failed", "admin_id", ev.CreatedByAdminID, "err", err)
		} else {
			d.Creator = admin
		}
	}
	return d, nil
}

// ListAll returns every live stored row, newest first.
func (s *Service) ListAll(ctx context.Context) ([]*model.Event, error) {
	return s.store.ListLive(ctx)
}

// Templates returns the named event templates.
func (s *Service) Templates() map[string]model.Template {
	return model.Templates()
}

func (s *Service) loadLive(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event id is empty", ErrInvalidInput)
	}
	ev, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ev.IsLive() {
		return nil, fmt.Errorf("event %q is deleted: %w", id, ErrNotFound)
	}
	return ev, nil
}
