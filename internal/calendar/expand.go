package calendar

import (
	"time"

	appLog "academycal/internal/log"
	"academycal/internal/model"
)

const (
	// defaultOccurrenceBudget applies to after_occurrences patterns that do
	// not set Occurrences.
	defaultOccurrenceBudget = 52

	// maxOccurrencesPerExpansion caps one expansion regardless of pattern.
	maxOccurrencesPerExpansion = 365
)

// ExpandOccurrences materializes the occurrences of a recurring parent that
// start within [windowStart, windowEnd].
//
// The walk always begins at the parent's anchor. Instances before
// windowStart are stepped over without being counted or checked against
// CancelledDates. Cancelled instances inside the window are skipped without
// consuming the after_occurrences budget.
func ExpandOccurrences(parent *model.Event, windowStart, windowEnd time.Time) []*model.Event {
	out := make([]*model.Event, 0)
	if parent == nil || !parent.IsRecurring || parent.RecurrencePattern == nil {
		return out
	}
	pattern := parent.RecurrencePattern

	endBoundary := windowEnd
	if pattern.EndType == model.EndByDate && pattern.EndDate != nil && pattern.EndDate.Before(endBoundary) {
		endBoundary = *pattern.EndDate
	}

	budget := pattern.Occurrences
	if budget <= 0 {
		budget = defaultOccurrenceBudget
	}

	cursor := parent.StartDateTime.UTC()
	emitted := 0

	for !cursor.After(endBoundary) {
		if pattern.EndType == model.EndAfterOccurrences && emitted >= budget {
			break
		}

		if !cursor.Before(windowStart) {
			day := model.DayString(cursor)
			if !parent.IsCancelledOn(day) {
				out = append(out, newOccurrence(parent, cursor, day))
				emitted++

				if len(out) >= maxOccurrencesPerExpansion {
					appLog.Warn("expand: occurrence cap reached, truncating",
						"parent_id", parent.ID,
						"cap", maxOccurrencesPerExpansion,
					)
					break
				}
			}
		}

		cursor = NextOccurrence(cursor, pattern)
	}

	return out
}

// NextOccurrence steps current forward by one period of pattern.
//
// Monthly steps use calendar-month arithmetic with Go's normalization, so
// Jan 31 plus one month lands on Mar 3 (or Mar 2 in leap years).
func NextOccurrence(current time.Time, pattern *model.RecurrencePattern) time.Time {
	interval := pattern.Interval
	if interval <= 0 {
		interval = 1
	}

	switch pattern.Frequency {
	case model.FrequencyDaily:
		return current.AddDate(0, 0, interval)
	case model.FrequencyWeekly:
		return current.AddDate(0, 0, 7*interval)
	case model.FrequencyBiweekly:
		return current.AddDate(0, 0, 14)
	case model.FrequencyMonthly:
		return current.AddDate(0, interval, 0)
	default:
		return current.AddDate(0, 0, 7)
	}
}

// newOccurrence builds the ephemeral instance of parent starting at start.
// Only fields meaningful to a concrete occurrence are copied; parent-only
// state such as the parent's CancelledDates stays on the parent.
func newOccurrence(parent *model.Event, start time.Time, day string) *model.Event {
	return &model.Event{
		ID:               parent.ID + "_" + day,
		Title:            parent.Title,
		Description:      parent.Description,
		EventType:        parent.EventType,
		StartDateTime:    start,
		DurationMinutes:  parent.DurationMinutes,
		Timezone:         parent.Timezone,
		MeetingLink:      parent.MeetingLink,
		MeetingProvider:  parent.MeetingProvider,
		ParentEventID:    parent.ID,
		IsOccurrence:     true,
		IsRecurring:      false,
		CancelledDates:   []string{},
		CreatedByAdminID: parent.CreatedByAdminID,
		IsActive:         true,
		CreatedAt:        parent.CreatedAt,
		UpdatedAt:        parent.UpdatedAt,
	}
}
