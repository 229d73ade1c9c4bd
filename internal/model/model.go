package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is returned (wrapped) when an event or an argument fails validation.
var ErrInvalid = errors.New("invalid input")

// DayLayout is the calendar-day format used for cancelled dates and occurrence ids.
const DayLayout = "2006-01-02"

// EventType is a descriptive tag; it never affects recurrence.
type EventType string

const (
	EventTypeOfficeHours   EventType = "office_hours"
	EventTypeCommunityCall EventType = "community_call"
	EventTypeWorkshop      EventType = "workshop"
	EventTypeCoaching      EventType = "coaching"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeOfficeHours, EventTypeCommunityCall, EventTypeWorkshop, EventTypeCoaching:
		return true
	}
	return false
}

// MeetingProvider names where the meeting happens. Informational only.
type MeetingProvider string

const (
	ProviderZoom       MeetingProvider = "zoom"
	ProviderGoogleMeet MeetingProvider = "google_meet"
	ProviderCustom     MeetingProvider = "custom"
	ProviderNone       MeetingProvider = "none"
)

func (p MeetingProvider) Valid() bool {
	switch p {
	case ProviderZoom, ProviderGoogleMeet, ProviderCustom, ProviderNone:
		return true
	}
	return false
}

// Frequency drives the recurrence step function.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// EndType decides how a series terminates.
type EndType string

const (
	EndNever            EndType = "never"
	EndAfterOccurrences EndType = "after_occurrences"
	EndByDate           EndType = "by_date"
)

func (e EndType) Valid() bool {
	switch e {
	case EndNever, EndAfterOccurrences, EndByDate:
		return true
	}
	return false
}

// RecurrencePattern describes how a recurring parent repeats.
//
// DaysOfWeek is stored and round-tripped but the step function never reads
// it: occurrences are produced by stepping the anchor by Frequency/Interval.
type RecurrencePattern struct {
	Frequency  Frequency `json:"frequency" yaml:"frequency"`
	Interval   int       `json:"interval" yaml:"interval"`
	DaysOfWeek []int     `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`
	EndType    EndType   `json:"end_type" yaml:"end_type"`
	// Occurrences is the emitted-occurrence budget for after_occurrences.
	// Zero means the default budget.
	Occurrences int        `json:"occurrences,omitempty" yaml:"occurrences,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (p *RecurrencePattern) Clone() *RecurrencePattern {
	if p == nil {
		return nil
	}
	out := *p
	if p.DaysOfWeek != nil {
		out.DaysOfWeek = append([]int(nil), p.DaysOfWeek...)
	}
	if p.EndDate != nil {
		d := *p.EndDate
		out.EndDate = &d
	}
	return &out
}

func (p *RecurrencePattern) validate() error {
	if !p.Frequency.Valid() {
		return fmt.Errorf("%w: unknown recurrence frequency %q", ErrInvalid, p.Frequency)
	}
	if p.Interval < 0 {
		return fmt.Errorf("%w: recurrence interval must not be negative", ErrInvalid)
	}
	if !p.EndType.Valid() {
		return fmt.Errorf("%w: unknown recurrence end type %q", ErrInvalid, p.EndType)
	}
	if p.Occurrences < 0 {
		return fmt.Errorf("%w: recurrence occurrences must not be negative", ErrInvalid)
	}
	for _, d := range p.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: day of week %d out of range 0-6", ErrInvalid, d)
		}
	}
	return nil
}

// Kind distinguishes the three shapes an Event can take.
type Kind string

const (
	KindStandalone Kind = "standalone"
	KindRecurring  Kind = "recurring"
	// KindOccurrence is an ephemeral instance produced by expansion; it is
	// never persisted.
	KindOccurrence Kind = "occurrence"
)

// Event is a calendar event: a standalone row, a recurring parent row, or an
// ephemeral occurrence of a parent.
type Event struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	EventType       EventType       `json:"event_type"`
	StartDateTime   time.Time       `json:"start_datetime"`
	DurationMinutes int             `json:"duration_minutes"`
	Timezone        string          `json:"timezone"`
	MeetingLink     string          `json:"meeting_link"`
	MeetingProvider MeetingProvider `json:"meeting_provider"`

	IsRecurring       bool               `json:"is_recurring"`
	RecurrencePattern *RecurrencePattern `json:"recurrence_pattern,omitempty"`
	// CancelledDates holds YYYY-MM-DD days of cancelled occurrences.
	CancelledDates []string `json:"cancelled_dates"`

	ParentEventID string `json:"parent_event_id,omitempty"`
	IsOccurrence  bool   `json:"is_occurrence"`

	CreatedByAdminID string     `json:"created_by_admin_id"`
	IsActive         bool       `json:"is_active"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Kind reports which shape e has.
func (e *Event) Kind() Kind {
	switch {
	case e.IsOccurrence:
		return KindOccurrence
	case e.IsRecurring:
		return KindRecurring
	default:
		return KindStandalone
	}
}

// IsLive reports whether the row is visible to default queries.
func (e *Event) IsLive() bool {
	return e.IsActive && e.DeletedAt == nil
}

// EndDateTime is StartDateTime plus the duration.
func (e *Event) EndDateTime() time.Time {
	return e.StartDateTime.Add(time.Duration(e.DurationMinutes) * time.Minute)
}

func (e *Event) IsHappeningNow(now time.Time) bool {
	return !now.Before(e.StartDateTime) && !now.After(e.EndDateTime())
}

func (e *Event) IsFuture(now time.Time) bool {
	return e.StartDateTime.After(now)
}

func (e *Event) IsPast(now time.Time) bool {
	return e.EndDateTime().Before(now)
}

// IsCancelledOn reports whether day (YYYY-MM-DD) is in CancelledDates.
// Membership is exact string equality.
func (e *Event) IsCancelledOn(day string) bool {
	for _, d := range e.CancelledDates {
		if d == day {
			return true
		}
	}
	return false
}

// CancelDay adds day to CancelledDates. It reports false when the day was
// already present.
func (e *Event) CancelDay(day string) bool {
	if e.IsCancelledOn(day) {
		return false
	}
	e.CancelledDates = append(e.CancelledDates, day)
	return true
}

// Clone returns a deep copy of e.
func (e *Event) Clone() *Event {
	out := *e
	out.RecurrencePattern = e.RecurrencePattern.Clone()
	if e.CancelledDates != nil {
		out.CancelledDates = append([]string(nil), e.CancelledDates...)
	}
	if e.DeletedAt != nil {
		d := *e.DeletedAt
		out.DeletedAt = &d
	}
	return &out
}

// ApplyDefaults fills zero values the way a freshly created row expects.
func (e *Event) ApplyDefaults(timezone string) {
	if e.DurationMinutes == 0 {
		e.DurationMinutes = 60
	}
	if e.Timezone == "" {
		e.Timezone = timezone
	}
	if e.MeetingProvider == "" {
		e.MeetingProvider = ProviderZoom
	}
	if e.CancelledDates == nil {
		e.CancelledDates = []string{}
	}
	if p := e.RecurrencePattern; p != nil {
		if p.Interval == 0 {
			p.Interval = 1
		}
		if p.EndType == "" {
			p.EndType = EndNever
		}
	}
}

// Validate checks the persisted-row invariants.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalid, e.EventType)
	}
	if e.StartDateTime.IsZero() {
		return fmt.Errorf("%w: start_datetime is required", ErrInvalid)
	}
	if e.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration_minutes must be positive", ErrInvalid)
	}
	if e.MeetingProvider != "" && !e.MeetingProvider.Valid() {
		return fmt.Errorf("%w: unknown meeting provider %q", ErrInvalid, e.MeetingProvider)
	}
	if e.IsRecurring {
		if e.RecurrencePattern == nil {
			return fmt.Errorf("%w: recurring event requires a recurrence pattern", ErrInvalid)
		}
		if err := e.RecurrencePattern.validate(); err != nil {
			return err
		}
	}
	for _, d := range e.CancelledDates {
		if _, err := time.Parse(DayLayout, d); err != nil {
			return fmt.Errorf("%w: cancelled date %q is not YYYY-MM-DD", ErrInvalid, d)
		}
	}
	return nil
}

// DayString returns the UTC calendar day of t as YYYY-MM-DD.
func DayString(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// NormalizeDay reduces an ISO date or date-time to its YYYY-MM-DD prefix.
func NormalizeDay(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(DayLayout) {
		return "", fmt.Errorf("%w: invalid occurrence date %q", ErrInvalid, s)
	}
	day := s[:len(DayLayout)]
	if _, err := time.Parse(DayLayout, day); err != nil {
		return "", fmt.Errorf("%w: invalid occurrence date %q", ErrInvalid, s)
	}
	return day, nil
}
