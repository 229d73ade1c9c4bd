package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"academycal/internal/model"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newEvent(title string, start time.Time, recurring bool) *model.Event {
	ev := &model.Event{
		Title:           title,
		EventType:       model.EventTypeWorkshop,
		StartDateTime:   start,
		DurationMinutes: 60,
		IsActive:        true,
		IsRecurring:     recurring,
	}
	if recurring {
		ev.RecurrencePattern = &model.RecurrencePattern{
			Frequency: model.FrequencyWeekly,
			Interval:  1,
			EndType:   model.EndNever,
		}
	}
	return ev
}

func TestMemoryStoreSaveAssignsID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ev := newEvent("a", base, false)
	if err := s.Save(ctx, ev); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ev.ID == "" || ev.CreatedAt.IsZero() {
		t.Fatalf("Save did not assign id/timestamps: %+v", ev)
	}

	got, err := s.FindByID(ctx, ev.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	got.Title = "mutated"
	again, _ := s.FindByID(ctx, ev.ID)
	if again.Title != "a" {
		t.Fatal("FindByID returned a shared pointer")
	}
}

func TestMemoryStoreSaveUnknownID(t *testing.T) {
	s := NewMemoryStore()
	ev := newEvent("a", base, false)
	ev.ID = "missing"
	if err := s.Save(context.Background(), ev); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Save = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreRejectsOccurrences(t *testing.T) {
	s := NewMemoryStore()
	ev := newEvent("a", base, false)
	ev.IsOccurrence = true
	if err := s.Save(context.Background(), ev); !errors.Is(err, ErrOccurrenceRow) {
		t.Fatalf("Save = %v, want ErrOccurrenceRow", err)
	}
	if err := s.Save(context.Background(), newEvent("", base, false)); !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("Save = %v, want ErrInvalid", err)
	}
}

func TestMemoryStoreFindInRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	early := newEvent("early", base.AddDate(0, 0, 2), false)
	late := newEvent("late", base.AddDate(0, 0, 1), false)
	parent := newEvent("parent", base.AddDate(0, 0, 3), true)
	outside := newEvent("outside", base.AddDate(0, 2, 0), false)
	gone := newEvent("gone", base.AddDate(0, 0, 4), false)
	for _, ev := range []*model.Event{early, late, parent, outside, gone} {
		if err := s.Save(ctx, ev); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := s.SoftDelete(ctx, gone.ID, base); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	end := base.AddDate(0, 1, 0)
	got, _ := s.FindInRange(ctx, base, end, RangeFilter{ExcludeRecurring: true})
	if len(got) != 2 || got[0].Title != "late" || got[1].Title != "early" {
		t.Fatalf("ExcludeRecurring got %v", titles(got))
	}

	got, _ = s.FindInRange(ctx, base, end, RangeFilter{RecurringOnly: true})
	if len(got) != 1 || got[0].Title != "parent" {
		t.Fatalf("RecurringOnly got %v", titles(got))
	}

	got, _ = s.FindInRange(ctx, base, end, RangeFilter{Limit: 1})
	if len(got) != 1 || got[0].Title != "late" {
		t.Fatalf("Limit got %v", titles(got))
	}

	parents, _ := s.FindRecurringParentsBefore(ctx, base.AddDate(0, 0, 3))
	if len(parents) != 1 {
		t.Fatalf("parents at boundary = %d, want 1", len(parents))
	}
	parents, _ = s.FindRecurringParentsBefore(ctx, base.AddDate(0, 0, 2))
	if len(parents) != 0 {
		t.Fatalf("parents before anchor = %d, want 0", len(parents))
	}
}

func TestMemoryStoreParentOperations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	parent := newEvent("parent", base, true)
	_ = s.Save(ctx, parent)
	for i := 0; i < 3; i++ {
		child := newEvent("child", base.AddDate(0, 0, 7*i), false)
		child.ParentEventID = parent.ID
		_ = s.Save(ctx, child)
	}

	n, err := s.SoftDeleteByParent(ctx, parent.ID, base)
	if err != nil || n != 3 {
		t.Fatalf("SoftDeleteByParent = %d, %v", n, err)
	}
	live, _ := s.ListLive(ctx)
	if len(live) != 1 || live[0].ID != parent.ID {
		t.Fatalf("ListLive after soft delete = %v", titles(live))
	}

	n, err = s.DeleteByParent(ctx, parent.ID)
	if err != nil || n != 3 {
		t.Fatalf("DeleteByParent = %d, %v", n, err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestMemoryStoreListLiveOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < 3; i++ {
		_ = s.Save(ctx, newEvent(string(rune('a'+i)), base.AddDate(0, 0, i), false))
	}
	live, _ := s.ListLive(ctx)
	if got := titles(live); got[0] != "c" || got[2] != "a" {
		t.Fatalf("ListLive order = %v, want newest first", got)
	}
}

func titles(events []*model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Title)
	}
	return out
}
