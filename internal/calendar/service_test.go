package calendar

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"academycal/internal/model"
	"academycal/internal/store"
)

var fixedNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := New(st, Options{
		Now:    func() time.Time { return fixedNow },
		Linker: ZoomPlaceholder{BaseURL: "https://zoom.test/j/"},
	})
	return svc, st
}

func seed(t *testing.T, st *store.MemoryStore, ev *model.Event) {
	t.Helper()
	if ev.CancelledDates == nil {
		ev.CancelledDates = []string{}
	}
	if ev.EventType == "" {
		ev.EventType = model.EventTypeWorkshop
	}
	if ev.DurationMinutes == 0 {
		ev.DurationMinutes = 60
	}
	ev.IsActive = true
	if err := st.Insert(ev); err != nil {
		t.Fatalf("seed %s: %v", ev.ID, err)
	}
}

func standalone(id string, start time.Time) *model.Event {
	return &model.Event{ID: id, Title: id, StartDateTime: start}
}

func ids(events []*model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

func TestEventsInMonthMergesAndSorts(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seed(t, st, officeHours())
	seed(t, st, standalone("s1", time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)))
	seed(t, st, standalone("feb", time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)))

	got, err := svc.EventsInMonth(ctx, 2025, 0)
	if err != nil {
		t.Fatalf("EventsInMonth: %v", err)
	}
	want := []string{"p1_2025-01-02", "p1_2025-01-09", "s1", "p1_2025-01-16", "p1_2025-01-23", "p1_2025-01-30"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartDateTime.Before(got[i-1].StartDateTime) {
			t.Fatalf("result not sorted at %d", i)
		}
	}
}

func TestEventsInRangeRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.EventsInRange(context.Background(), day(2025, 2, 1), day(2025, 1, 1))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestEventsInRangeIgnoresDeletedParent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seed(t, st, officeHours())

	if _, err := svc.Delete(ctx, "p1", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := svc.EventsInMonth(ctx, 2025, 0)
	if err != nil {
		t.Fatalf("EventsInMonth: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want nothing", ids(got))
	}
}

func TestMonthWindow(t *testing.T) {
	svc, _ := newTestService(t)

	start, end := svc.MonthWindow(2024, 1)
	if !start.Equal(day(2024, 2, 1)) {
		t.Fatalf("start = %v", start)
	}
	if want := time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC); !end.Equal(want) {
		t.Fatalf("end = %v, want %v", end, want)
	}

	start, end = svc.MonthWindow(2024, 11)
	if !start.Equal(day(2024, 12, 1)) || !end.Equal(time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("december window = %v .. %v", start, end)
	}
}

func TestMonthWindowUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*3600)
	svc := New(store.NewMemoryStore(), Options{Location: loc})

	start, _ := svc.MonthWindow(2025, 0)
	if want := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Fatalf("start = %v, want %v", start.UTC(), want)
	}
}

func TestUpcomingEventsLimit(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seed(t, st, officeHours())
	seed(t, st, standalone("s1", time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC)))
	seed(t, st, standalone("past", time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC)))

	got, err := svc.UpcomingEvents(ctx, 3)
	if err != nil {
		t.Fatalf("UpcomingEvents: %v", err)
	}
	want := []string{"p1_2025-01-02", "s1", "p1_2025-01-09"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}

	got, err = svc.UpcomingEvents(ctx, 0)
	if err != nil {
		t.Fatalf("UpcomingEvents: %v", err)
	}
	if len(got) != defaultUpcomingLimit {
		t.Fatalf("len = %d, want %d", len(got), defaultUpcomingLimit)
	}
}

func TestUpcomingEventsRespectsHorizon(t *testing.T) {
	svc, st := newTestService(t)
	seed(t, st, standalone("late", time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)))

	got, err := svc.UpcomingEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("UpcomingEvents: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v beyond the horizon", ids(got))
	}
}

func TestStoredEventsInRangeDoesNotExpand(t *testing.T) {
	svc, st := newTestService(t)
	seed(t, st, officeHours())
	seed(t, st, standalone("s1", time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)))

	got, err := svc.StoredEventsInRange(context.Background(), day(2025, 1, 1), day(2025, 2, 1))
	if err != nil {
		t.Fatalf("StoredEventsInRange: %v", err)
	}
	if want := []string{"p1", "s1"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc, st := newTestService(t)

	ev, err := svc.Create(context.Background(), EventInput{EventPatch: model.EventPatch{
		Title:         model.Ptr("Kickoff"),
		EventType:     model.Ptr(model.EventTypeWorkshop),
		StartDateTime: model.Ptr(time.Date(2025, 2, 1, 17, 0, 0, 0, time.UTC)),
	}}, "admin-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.ID == "" || st.Len() != 1 {
		t.Fatalf("event not persisted: id=%q len=%d", ev.ID, st.Len())
	}
	if ev.DurationMinutes != 60 || ev.MeetingProvider != model.ProviderZoom || ev.Timezone != defaultEventTimezone {
		t.Fatalf("defaults not applied: %+v", ev)
	}
	if !strings.HasPrefix(ev.MeetingLink, "https://zoom.test/j/") || len(ev.MeetingLink) != len("https://zoom.test/j/")+11 {
		t.Fatalf("meeting link = %q", ev.MeetingLink)
	}
	if ev.CreatedByAdminID != "admin-1" || !ev.IsActive {
		t.Fatalf("creator/active not set: %+v", ev)
	}
}

func TestCreateKeepsExplicitLink(t *testing.T) {
	svc, _ := newTestService(t)
	ev, err := svc.Create(context.Background(), EventInput{EventPatch: model.EventPatch{
		Title:           model.Ptr("Pairing"),
		EventType:       model.Ptr(model.EventTypeCoaching),
		StartDateTime:   model.Ptr(fixedNow.Add(time.Hour)),
		MeetingProvider: model.Ptr(model.ProviderCustom),
		MeetingLink:     model.Ptr("https://meet.example.com/x"),
	}}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.MeetingLink != "https://meet.example.com/x" {
		t.Fatalf("meeting link = %q", ev.MeetingLink)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	svc, st := newTestService(t)
	_, err := svc.Create(context.Background(), EventInput{EventPatch: model.EventPatch{
		EventType:     model.Ptr(model.EventTypeWorkshop),
		StartDateTime: model.Ptr(fixedNow),
	}}, "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if st.Len() != 0 {
		t.Fatal("invalid event persisted")
	}
}

func TestCreateFromTemplate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 17, 0, 0, 0, time.UTC)

	ev, err := svc.CreateFromTemplate(ctx, "workshop", model.EventPatch{
		StartDateTime: model.Ptr(start),
		Title:         model.Ptr("Go Workshop"),
	}, "admin-1")
	if err != nil {
		t.Fatalf("CreateFromTemplate: %v", err)
	}
	if ev.Title != "Go Workshop" || ev.DurationMinutes != 90 || !ev.IsRecurring {
		t.Fatalf("template not applied: %+v", ev)
	}
	p := ev.RecurrencePattern
	if p == nil || p.EndType != model.EndAfterOccurrences || p.Occurrences != 8 {
		t.Fatalf("pattern = %+v", p)
	}

	got, err := svc.EventsInRange(ctx, day(2025, 1, 1), day(2026, 1, 1))
	if err != nil {
		t.Fatalf("EventsInRange: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}

	_, err = svc.CreateFromTemplate(ctx, "nope", model.EventPatch{}, "")
	if !errors.Is(err, ErrInvalidInput) || !strings.Contains(err.Error(), "known: coaching, community_call, office_hours, workshop") {
		t.Fatalf("unknown template err = %v", err)
	}
	if _, err := svc.CreateFromTemplate(ctx, "", model.EventPatch{}, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty template err = %v", err)
	}
}

func TestCreateNonRecurringDropsPattern(t *testing.T) {
	svc, _ := newTestService(t)
	ev, err := svc.Create(context.Background(), EventInput{
		Template: "coaching",
		EventPatch: model.EventPatch{
			StartDateTime:     model.Ptr(fixedNow.Add(24 * time.Hour)),
			RecurrencePattern: &model.RecurrencePattern{Frequency: model.FrequencyDaily},
		},
	}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.IsRecurring || ev.RecurrencePattern != nil {
		t.Fatalf("standalone event kept a pattern: %+v", ev)
	}
}

func TestUpdateSingle(t *testing.T) {
	svc, st := newTestService(t)
	seed(t, st, standalone("s1", time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)))

	res, err := svc.Update(context.Background(), "s1", model.EventPatch{Title: model.Ptr("Renamed")}, true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Scope != ScopeSingle || res.Event.Title != "Renamed" {
		t.Fatalf("result = %+v", res)
	}
	stored, _ := st.FindByID(context.Background(), "s1")
	if stored.Title != "Renamed" {
		t.Fatalf("stored title = %q", stored.Title)
	}
}

func TestUpdateSeriesPurgesChildRows(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seed(t, st, officeHours())
	child := standalone("legacy", time.Date(2025, 1, 9, 18, 0, 0, 0, time.UTC))
	child.ParentEventID = "p1"
	seed(t, st, child)

	res, err := svc.Update(ctx, "p1", model.EventPatch{Title: model.Ptr("Office Hours v2")}, true)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Scope != ScopeSeries {
		t.Fatalf("scope = %q", res.Scope)
	}
	if _, err := st.FindByID(ctx, "legacy"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("child row survived: %v", err)
	}

	got, err := svc.EventsInMonth(ctx, 2025, 0)
	if err != nil {
		t.Fatalf("EventsInMonth: %v", err)
	}
	for _, ev := range got {
		if ev.Title != "Office Hours v2" {
			t.Fatalf("occurrence %s has title %q", ev.ID, ev.Title)
		}
	}
}

func TestUpdateWithoutSeriesKeepsChildRows(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seed(t, st, officeHours())
	child := standalone("legacy", time.Date(2025, 1, 9, 18, 0, 0, 0, time.UTC))
	child.ParentEventID = "p1"
	seed(t, st, child)

	res, err := svc.Update(ctx, "p1", model.EventPatch{Description: model.Ptr("x")}, false)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Scope != ScopeSingle {
		t.Fatalf("scope = %q", res.Scope)
	}
	if _, err := st.FindByID(ctx, "legacy"); err != nil {
		t.Fatalf("child row removed: %v", err)
	}
}

func TestUpdateErrors(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seed(t, st, standalone("s1", fixedNow))

	if _, err := svc.Update(ctx, "missing", model.EventPatch{}, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	if _, err := svc.Update(ctx, "", model.EventPatch{}, false); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty id err = %v", err)
	}
	if _, err := svc.Update(ctx, "s1", model.EventPatch{DurationMinutes: model.Ptr(0)}, false); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid patch err = %v", err)
	}
	if _, err := svc.Delete(ctx, "s1", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Update(ctx, "s1", model.EventPatch{Title: model.Ptr("x")}, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted err = %v", err)
	}
}

func TestDeleteSeries(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	seed(t, st, officeHours())
	for _, id := range []string{"c1", "c2"} {
		c := standalone(id, time.Date(2025, 1, 9, 18, 0, 0, 0, time.UTC))
		c.ParentEventID = "p1"
		seed(t, st, c)
	}

	res, err := svc.Delete(ctx, "p1", true)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Scope != ScopeSeries || res.Count != 1 {
		t.Fatalf("result = %+v", res)
	}
	for _, id := range []string{"p1", "c1", "c2"} {
		ev, err := st.FindByID(ctx, id)
		if err != nil {
			t.Fatalf("FindByID(%s): %v", id, err)
		}
		if ev.IsLive() {
			t.Fatalf("%s still live", id)
		}
	}
	if _, err := svc.GetByID(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID after delete err = %v", err)
	}
}

func TestDeleteSingleOnNonRecurringIgnoresSeriesFlag(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seed(t, st, standalone("s1", fixedNow))

	res, err := svc.Delete(ctx, "s1", true)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.Scope != ScopeSingle || res.Count != 1 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := svc.Delete(ctx, "s1", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestDeleteOccurrenceIsIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seed(t, st, officeHours())
	rows := st.Len()

	for i := 0; i < 2; i++ {
		res, err := svc.DeleteOccurrence(ctx, "p1", "2025-01-16T18:00:00Z")
		if err != nil {
			t.Fatalf("DeleteOccurrence #%d: %v", i, err)
		}
		if res.Scope != ScopeOccurrence || res.Count != 1 {
			t.Fatalf("result = %+v", res)
		}
	}

	parent, _ := st.FindByID(ctx, "p1")
	if !reflect.DeepEqual(parent.CancelledDates, []string{"2025-01-16"}) {
		t.Fatalf("cancelled = %v", parent.CancelledDates)
	}
	if st.Len() != rows {
		t.Fatalf("row count changed: %d -> %d", rows, st.Len())
	}

	got, err := svc.EventsInMonth(ctx, 2025, 0)
	if err != nil {
		t.Fatalf("EventsInMonth: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
}

func TestDeleteOccurrenceErrors(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	seed(t, st, officeHours())
	seed(t, st, standalone("s1", fixedNow))

	_, err := svc.DeleteOccurrence(ctx, "missing", "2025-01-16")
	if !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "parent recurring event not found") {
		t.Fatalf("missing parent err = %v", err)
	}

	_, err = svc.DeleteOccurrence(ctx, "s1", "2025-01-16")
	if !errors.Is(err, ErrPreconditionFailed) || !strings.Contains(err.Error(), "parent recurring event not found") {
		t.Fatalf("standalone err = %v", err)
	}

	for _, bad := range []string{"", "2025-1-6", "not-a-date"} {
		if _, err := svc.DeleteOccurrence(ctx, "p1", bad); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("date %q err = %v", bad, err)
		}
	}
}

type stubAdmins map[string]*Admin

func (s stubAdmins) LookupAdmin(_ context.Context, id string) (*Admin, error) {
	if a, ok := s[id]; ok {
		return a, nil
	}
	return nil, errors.New("no such admin")
}

func TestGetByIDResolvesReferences(t *testing.T) {
	st := store.NewMemoryStore()
	svc := New(st, Options{Admins: stubAdmins{"a1": {ID: "a1", Name: "James"}}})
	ctx := context.Background()

	parent := officeHours()
	parent.CreatedByAdminID = "a1"
	seed(t, st, parent)
	child := standalone("legacy", fixedNow)
	child.ParentEventID = "p1"
	child.CreatedByAdminID = "ghost"
	seed(t, st, child)

	d, err := svc.GetByID(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if d.Creator == nil || d.Creator.Name != "James" || d.Parent != nil {
		t.Fatalf("detail = %+v", d)
	}

	d, err = svc.GetByID(ctx, "legacy")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if d.Parent == nil || d.Parent.ID != "p1" || d.Creator != nil {
		t.Fatalf("detail = %+v", d)
	}
}

func TestListAllNewestFirst(t *testing.T) {
	svc, st := newTestService(t)
	seed(t, st, standalone("old", day(2024, 1, 1)))
	seed(t, st, standalone("new", day(2025, 1, 1)))

	got, err := svc.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if want := []string{"new", "old"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	var k keyedMutex
	unlock := k.lock("a")
	unlock2 := k.lock("b")
	unlock()
	unlock2()
	if len(k.locks) != 0 {
		t.Fatalf("locks leaked: %d", len(k.locks))
	}
}
