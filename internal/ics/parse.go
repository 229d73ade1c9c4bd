package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"academycal/internal/calendar"
	appLog "academycal/internal/log"
	"academycal/internal/model"
)

// ImportOptions fills fields an ICS feed does not carry.
type ImportOptions struct {
	// EventType is used when a VEVENT has no X-ACADEMY-EVENT-TYPE.
	EventType model.EventType
	// Timezone is used when DTSTART has no TZID. Empty leaves the engine
	// default.
	Timezone string
}

// ParseFeed converts the VEVENTs of an ICS document into create inputs.
//
// VEVENTs without a summary or start, RECURRENCE-ID overrides and rules
// with unsupported frequencies are skipped and logged; the rest of the feed
// is still returned.
func ParseFeed(body []byte, opts ImportOptions) ([]calendar.EventInput, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if opts.EventType == "" {
		opts.EventType = model.EventTypeWorkshop
	}
	if !opts.EventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", model.ErrInvalid, opts.EventType)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	out := make([]calendar.EventInput, 0)
	for _, ve := range cal.Events() {
		in, err := parseVEvent(ve, opts)
		if err != nil {
			appLog.Warn("ics: vevent skipped", "uid", uidOf(ve), "reason", err.Error())
			continue
		}
		out = append(out, in)
	}

	appLog.Info("ics parse completed", "vevents", len(cal.Events()), "imported", len(out))
	return out, nil
}

func uidOf(ve *ical.VEvent) string {
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		return p.Value
	}
	return ""
}

func parseVEvent(ve *ical.VEvent, opts ImportOptions) (calendar.EventInput, error) {
	var in calendar.EventInput

	if ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")) != nil {
		return in, errors.New("recurrence overrides are not supported")
	}

	summary := propValue(ve, ical.ComponentPropertySummary)
	if strings.TrimSpace(summary) == "" {
		return in, errors.New("missing SUMMARY")
	}
	in.Title = &summary
	if d := propValue(ve, ical.ComponentPropertyDescription); d != "" {
		in.Description = &d
	}

	start, err := ve.GetStartAt()
	if err != nil {
		start, err = ve.GetAllDayStartAt()
	}
	if err != nil {
		return in, fmt.Errorf("DTSTART: %w", err)
	}
	start = start.UTC()
	in.StartDateTime = &start

	if end, err := ve.GetEndAt(); err == nil && end.After(start) {
		minutes := int(end.Sub(start) / time.Minute)
		if minutes > 0 {
			in.DurationMinutes = &minutes
		}
	}

	tz := opts.Timezone
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			tz = tzs[0]
		}
	}
	if tz != "" {
		in.Timezone = &tz
	}

	et := model.EventType(propValue(ve, propEventType))
	if !et.Valid() {
		et = opts.EventType
	}
	in.EventType = &et

	link := propValue(ve, ical.ComponentPropertyUrl)
	if link == "" {
		if loc := propValue(ve, ical.ComponentPropertyLocation); looksLikeURL(loc) {
			link = loc
		}
	}
	provider := providerFor(link)
	in.MeetingProvider = &provider
	if link != "" {
		in.MeetingLink = &link
	}

	if rule := propValue(ve, ical.ComponentPropertyRrule); rule != "" {
		pattern, err := PatternFromRRule(rule)
		if err != nil {
			return in, err
		}
		recurring := true
		in.IsRecurring = &recurring
		in.RecurrencePattern = pattern
		in.CancelledDates = exDays(ve, start)
	}
	return in, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// exDays collects EXDATE values as UTC days. EXDATE may repeat and may hold
// comma-separated lists. Values without a TZID are read in the DTSTART zone,
// and DATE values take the time of day of start in that zone.
func exDays(ve *ical.VEvent, start time.Time) []string {
	anchor := start.In(propLocation(ve.GetProperty(ical.ComponentPropertyDtStart), time.UTC))
	var out []string
	seen := make(map[string]bool)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := propLocation(p, anchor.Location())
		for _, part := range strings.Split(p.Value, ",") {
			t, err := parseICSTime(part, loc)
			if err != nil {
				continue
			}
			if isDateValue(part) {
				h, m, sec := anchor.Clock()
				t = time.Date(t.Year(), t.Month(), t.Day(), h, m, sec, 0, loc)
			}
			day := model.DayString(t)
			if !seen[day] {
				seen[day] = true
				out = append(out, day)
			}
		}
	}
	return out
}

// propLocation returns the zone named by the TZID parameter of p, or def.
func propLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if p == nil {
		return def
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			return l
		}
	}
	return def
}

func isDateValue(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.Contains(v, "T")
}

// parseICSTime parses a DATE or DATE-TIME value. Floating times are read
// in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse(icsUTCLayout, v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func looksLikeURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func providerFor(link string) model.MeetingProvider {
	if link == "" {
		return model.ProviderNone
	}
	u, err := url.Parse(link)
	if err != nil {
		return model.ProviderCustom
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "zoom.us" || strings.HasSuffix(host, ".zoom.us"):
		return model.ProviderZoom
	case host == "meet.google.com":
		return model.ProviderGoogleMeet
	default:
		return model.ProviderCustom
	}
}

// EventCreator is the part of the engine an import writes through.
type EventCreator interface {
	Create(ctx context.Context, in calendar.EventInput, creatorID string) (*model.Event, error)
}

// Import parses body and creates every importable event. It stops at the
// first failed create and reports how many were created before it.
func Import(ctx context.Context, dst EventCreator, body []byte, opts ImportOptions, adminID string) (int, error) {
	inputs, err := ParseFeed(body, opts)
	if err != nil {
		return 0, err
	}
	for i, in := range inputs {
		if _, err := dst.Create(ctx, in, adminID); err != nil {
			return i, fmt.Errorf("import event %d (%s): %w", i, *in.Title, err)
		}
	}
	return len(inputs), nil
}
