package model

import "sort"

// Template is a named bundle of event defaults.
type Template struct {
	Title             string             `json:"title" yaml:"title"`
	Description       string             `json:"description" yaml:"description"`
	EventType         EventType          `json:"event_type" yaml:"event_type"`
	DurationMinutes   int                `json:"duration_minutes" yaml:"duration_minutes"`
	MeetingProvider   MeetingProvider    `json:"meeting_provider" yaml:"meeting_provider"`
	IsRecurring       bool               `json:"is_recurring" yaml:"is_recurring"`
	RecurrencePattern *RecurrencePattern `json:"recurrence_pattern,omitempty" yaml:"recurrence_pattern,omitempty"`
}

// Patch expresses the template as an EventPatch so that caller input can be
// layered on top of it.
func (t Template) Patch() EventPatch {
	return EventPatch{
		Title:             Ptr(t.Title),
		Description:       Ptr(t.Description),
		EventType:         Ptr(t.EventType),
		DurationMinutes:   Ptr(t.DurationMinutes),
		MeetingProvider:   Ptr(t.MeetingProvider),
		IsRecurring:       Ptr(t.IsRecurring),
		RecurrencePattern: t.RecurrencePattern.Clone(),
	}
}

var templates = map[string]Template{
	"office_hours": {
		Title:           "Office Hours with James",
		Description:     "Weekly office hours for Q&A and coaching",
		EventType:       EventTypeOfficeHours,
		DurationMinutes: 60,
		MeetingProvider: ProviderZoom,
		IsRecurring:     true,
		RecurrencePattern: &RecurrencePattern{
			Frequency:  FrequencyWeekly,
			Interval:   1,
			DaysOfWeek: []int{4},
			EndType:    EndNever,
		},
	},
	"community_call": {
		Title:           "Community Call",
		Description:     "Weekly community gathering and discussion",
		EventType:       EventTypeCommunityCall,
		DurationMinutes: 60,
		MeetingProvider: ProviderZoom,
		IsRecurring:     true,
		RecurrencePattern: &RecurrencePattern{
			Frequency:  FrequencyWeekly,
			Interval:   1,
			DaysOfWeek: []int{6},
			EndType:    EndNever,
		},
	},
	"workshop": {
		Title:           "Workshop",
		Description:     "Interactive workshop session",
		EventType:       EventTypeWorkshop,
		DurationMinutes: 90,
		MeetingProvider: ProviderZoom,
		IsRecurring:     true,
		RecurrencePattern: &RecurrencePattern{
			Frequency:   FrequencyWeekly,
			Interval:    1,
			DaysOfWeek:  []int{1},
			EndType:     EndAfterOccurrences,
			Occurrences: 8,
		},
	},
	"coaching": {
		Title:           "Dark JK Group Coaching",
		Description:     "Group coaching session",
		EventType:       EventTypeCoaching,
		DurationMinutes: 45,
		MeetingProvider: ProviderZoom,
		IsRecurring:     false,
	},
}

// LookupTemplate returns a copy of the named template.
func LookupTemplate(name string) (Template, bool) {
	t, ok := templates[name]
	if !ok {
		return Template{}, false
	}
	t.RecurrencePattern = t.RecurrencePattern.Clone()
	return t, true
}

// Templates returns copies of all templates keyed by name.
func Templates() map[string]Template {
	out := make(map[string]Template, len(templates))
	for name := range templates {
		out[name], _ = LookupTemplate(name)
	}
	return out
}

// TemplateNames returns the template names in sorted order.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
