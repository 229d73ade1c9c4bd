package ics

import (
	"context"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"academycal/internal/calendar"
	appLog "academycal/internal/log"
	"academycal/internal/model"
)

const (
	productID = "-//academycal//calendar feed//EN"

	// propEventType carries the event type so a re-import can restore it.
	propEventType = ical.ComponentProperty("X-ACADEMY-EVENT-TYPE")
)

// FeedOptions controls BuildFeed and Export.
type FeedOptions struct {
	Name string
	// Expand writes one VEVENT per occurrence. Otherwise recurring parents
	// are written once with an RRULE.
	Expand bool
	// WindowStart and WindowEnd bound the exported events.
	WindowStart time.Time
	WindowEnd   time.Time
	// Now stamps DTSTAMP. Zero means time.Now.
	Now time.Time
}

// EventSource is the part of the engine the feed reads from.
type EventSource interface {
	EventsInRange(ctx context.Context, start, end time.Time) ([]*model.Event, error)
	ListAll(ctx context.Context) ([]*model.Event, error)
}

// Export reads the window from src and renders it as an ICS document.
func Export(ctx context.Context, src EventSource, opts FeedOptions) (string, error) {
	if opts.WindowEnd.Before(opts.WindowStart) {
		return "", fmt.Errorf("%w: feed window end is before start", model.ErrInvalid)
	}

	if opts.Expand {
		events, err := src.EventsInRange(ctx, opts.WindowStart, opts.WindowEnd)
		if err != nil {
			return "", err
		}
		return BuildFeed(opts, events), nil
	}

	rows, err := src.ListAll(ctx)
	if err != nil {
		return "", err
	}
	events := make([]*model.Event, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		ev := rows[i]
		switch {
		case ev.IsRecurring:
			if !ev.StartDateTime.After(opts.WindowEnd) {
				events = append(events, ev)
			}
		case !ev.StartDateTime.Before(opts.WindowStart) && !ev.StartDateTime.After(opts.WindowEnd):
			events = append(events, ev)
		}
	}
	return BuildFeed(opts, events), nil
}

// BuildFeed renders events as a PUBLISH calendar.
func BuildFeed(opts FeedOptions, events []*model.Event) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, ev := range events {
		if ev.IsRecurring && !opts.Expand {
			if rule, ok := RRuleFor(ev); ok {
				vev := addEvent(cal, ev, now)
				vev.AddProperty(ical.ComponentPropertyRrule, rule)
				for _, ex := range ExDates(ev) {
					vev.AddProperty(ical.ComponentPropertyExdate, ex)
				}
				continue
			}
			appLog.Debug("ics: exporting parent as occurrences", "id", ev.ID)
			for _, occ := range calendar.ExpandOccurrences(ev, opts.WindowStart, opts.WindowEnd) {
				addEvent(cal, occ, now)
			}
			continue
		}
		addEvent(cal, ev, now)
	}

	return cal.Serialize()
}

func addEvent(cal *ical.Calendar, ev *model.Event, now time.Time) *ical.VEvent {
	vev := cal.AddEvent(ev.ID)
	vev.SetDtStampTime(now)
	if !ev.CreatedAt.IsZero() {
		vev.SetCreatedTime(ev.CreatedAt)
	}
	if !ev.UpdatedAt.IsZero() {
		vev.SetModifiedAt(ev.UpdatedAt)
	}
	vev.SetStartAt(ev.StartDateTime)
	vev.SetEndAt(ev.EndDateTime())
	vev.SetSummary(ev.Title)
	if ev.Description != "" {
		vev.SetDescription(ev.Description)
	}
	if ev.MeetingLink != "" {
		vev.SetURL(ev.MeetingLink)
		vev.SetLocation(ev.MeetingLink)
	}
	vev.AddProperty(propEventType, string(ev.EventType))
	return vev
}
