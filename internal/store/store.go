// Package store is the persistence boundary for calendar events. It holds no
// business policy: recurrence expansion and mutation rules live in
// internal/calendar.
package store

import (
	"context"
	"errors"
	"time"

	"academycal/internal/model"
)

var (
	// ErrNotFound is returned when an id does not resolve to a row.
	ErrNotFound = errors.New("event not found")

	// ErrOccurrenceRow is returned when asked to persist an ephemeral
	// occurrence. Only standalone and recurring parent rows are stored.
	ErrOccurrenceRow = errors.New("occurrences are not persisted")
)

// RangeFilter narrows FindInRange.
type RangeFilter struct {
	RecurringOnly    bool
	ExcludeRecurring bool
	// Limit caps the number of rows; zero means no cap.
	Limit int
}

// Store provides durable CRUD for calendar events.
type Store interface {
	// FindByID returns the row with the given id, live or not.
	FindByID(ctx context.Context, id string) (*model.Event, error)

	// FindInRange returns live rows whose start is within [start, end],
	// ordered by start ascending.
	FindInRange(ctx context.Context, start, end time.Time, f RangeFilter) ([]*model.Event, error)

	// FindRecurringParentsBefore returns live recurring rows starting at or
	// before end.
	FindRecurringParentsBefore(ctx context.Context, end time.Time) ([]*model.Event, error)

	// ListLive returns live, non-occurrence rows ordered by start descending.
	ListLive(ctx context.Context) ([]*model.Event, error)

	// Save inserts ev when its ID is empty (assigning ID and timestamps) and
	// updates the existing row otherwise.
	Save(ctx context.Context, ev *model.Event) error

	// SoftDelete marks one row deleted at the given time.
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// SoftDeleteByParent marks every row referencing parentID deleted.
	SoftDeleteByParent(ctx context.Context, parentID string, at time.Time) (int, error)

	// DeleteByParent removes every row referencing parentID.
	DeleteByParent(ctx context.Context, parentID string) (int, error)

	Close() error
}

// CheckSavable runs the checks every backend applies before writing.
func CheckSavable(ev *model.Event) error {
	if ev == nil {
		return errors.New("event is nil")
	}
	if ev.Kind() == model.KindOccurrence {
		return ErrOccurrenceRow
	}
	return ev.Validate()
}

// MatchesRange reports whether a live row satisfies a range query.
func MatchesRange(ev *model.Event, start, end time.Time, f RangeFilter) bool {
	if !ev.IsLive() {
		return false
	}
	if ev.StartDateTime.Before(start) || ev.StartDateTime.After(end) {
		return false
	}
	if f.RecurringOnly && !ev.IsRecurring {
		return false
	}
	if f.ExcludeRecurring && ev.IsRecurring {
		return false
	}
	return true
}
