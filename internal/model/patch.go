package model

import "time"

// EventPatch is a partial set of event fields. Nil fields are left alone.
// It is used both as create input and as an update patch.
type EventPatch struct {
	Title             *string            `json:"title,omitempty"`
	Description       *string            `json:"description,omitempty"`
	EventType         *EventType         `json:"event_type,omitempty"`
	StartDateTime     *time.Time         `json:"start_datetime,omitempty"`
	DurationMinutes   *int               `json:"duration_minutes,omitempty"`
	Timezone          *string            `json:"timezone,omitempty"`
	MeetingLink       *string            `json:"meeting_link,omitempty"`
	MeetingProvider   *MeetingProvider   `json:"meeting_provider,omitempty"`
	IsRecurring       *bool              `json:"is_recurring,omitempty"`
	RecurrencePattern *RecurrencePattern `json:"recurrence_pattern,omitempty"`
	CancelledDates    []string           `json:"cancelled_dates,omitempty"`
}

// Apply copies every set field of p onto e.
func (p EventPatch) Apply(e *Event) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.EventType != nil {
		e.EventType = *p.EventType
	}
	if p.StartDateTime != nil {
		e.StartDateTime = *p.StartDateTime
	}
	if p.DurationMinutes != nil {
		e.DurationMinutes = *p.DurationMinutes
	}
	if p.Timezone != nil {
		e.Timezone = *p.Timezone
	}
	if p.MeetingLink != nil {
		e.MeetingLink = *p.MeetingLink
	}
	if p.MeetingProvider != nil {
		e.MeetingProvider = *p.MeetingProvider
	}
	if p.IsRecurring != nil {
		e.IsRecurring = *p.IsRecurring
	}
	if p.RecurrencePattern != nil {
		e.RecurrencePattern = p.RecurrencePattern.Clone()
	}
	if p.CancelledDates != nil {
		e.CancelledDates = append([]string(nil), p.CancelledDates...)
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
