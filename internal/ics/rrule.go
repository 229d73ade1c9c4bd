package ics

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"academycal/internal/calendar"
	appLog "academycal/internal/log"
	"academycal/internal/model"
)

const icsUTCLayout = "20060102T150405Z"

// RRuleFor renders the RRULE value of a recurring parent. ok is false when
// the engine's stepping cannot be expressed as an RRULE; such parents are
// exported as individual occurrences instead.
//
// Monthly steps use Go date normalization (Jan 31 + 1 month = Mar 3) and
// drift afterwards, which RRULE has no equivalent for, so monthly anchors
// past the 28th are not representable.
func RRuleFor(ev *model.Event) (rule string, ok bool) {
	p := ev.RecurrencePattern
	if !ev.IsRecurring || p == nil {
		return "", false
	}

	opt := rrule.ROption{Interval: p.Interval}
	if opt.Interval <= 0 {
		opt.Interval = 1
	}

	switch p.Frequency {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case model.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
	case model.FrequencyBiweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
	case model.FrequencyMonthly:
		if ev.StartDateTime.UTC().Day() > 28 {
			return "", false
		}
		opt.Freq = rrule.MONTHLY
	default:
		return "", false
	}

	switch p.EndType {
	case model.EndAfterOccurrences:
		// Cancelled days do not consume the budget, so with cancellations
		// the series ends later than COUNT would say. Pin the last start.
		if len(ev.CancelledDates) == 0 {
			opt.Count = p.Occurrences
			if opt.Count <= 0 {
				opt.Count = 52
			}
		} else {
			last, found := lastOccurrence(ev)
			if !found {
				return "", false
			}
			opt.Until = last
		}
	case model.EndByDate:
		if p.EndDate != nil {
			opt.Until = p.EndDate.UTC()
		}
	}

	return opt.RRuleString(), true
}

func lastOccurrence(ev *model.Event) (time.Time, bool) {
	start := ev.StartDateTime.UTC()
	occ := calendar.ExpandOccurrences(ev, start, start.AddDate(100, 0, 0))
	if len(occ) == 0 {
		return time.Time{}, false
	}
	return occ[len(occ)-1].StartDateTime.UTC(), true
}

// ExDates returns the EXDATE values for a parent's cancelled days, carrying
// the anchor's UTC time of day so they match generated instances.
func ExDates(ev *model.Event) []string {
	anchor := ev.StartDateTime.UTC()
	out := make([]string, 0, len(ev.CancelledDates))
	for _, d := range ev.CancelledDates {
		day, err := time.Parse(model.DayLayout, d)
		if err != nil {
			continue
		}
		t := time.Date(day.Year(), day.Month(), day.Day(),
			anchor.Hour(), anchor.Minute(), anchor.Second(), 0, time.UTC)
		out = append(out, t.Format(icsUTCLayout))
	}
	return out
}

// PatternFromRRule converts an RRULE value into a RecurrencePattern.
// Only DAILY, WEEKLY and MONTHLY rules are supported. BYDAY is kept as
// DaysOfWeek (0 = Sunday) but does not drive stepping.
func PatternFromRRule(value string) (*model.RecurrencePattern, error) {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return nil, fmt.Errorf("%w: rrule %q: %v", model.ErrInvalid, value, err)
	}

	p := &model.RecurrencePattern{Interval: opt.Interval, EndType: model.EndNever}
	if p.Interval <= 0 {
		p.Interval = 1
	}

	switch opt.Freq {
	case rrule.DAILY:
		p.Frequency = model.FrequencyDaily
	case rrule.WEEKLY:
		p.Frequency = model.FrequencyWeekly
	case rrule.MONTHLY:
		p.Frequency = model.FrequencyMonthly
	default:
		return nil, fmt.Errorf("%w: unsupported rrule frequency in %q", model.ErrInvalid, value)
	}

	switch {
	case opt.Count > 0:
		p.EndType = model.EndAfterOccurrences
		p.Occurrences = opt.Count
	case !opt.Until.IsZero():
		p.EndType = model.EndByDate
		until := opt.Until.UTC()
		p.EndDate = &until
	}

	for _, wd := range opt.Byweekday {
		// rrule-go numbers Monday as 0.
		p.DaysOfWeek = append(p.DaysOfWeek, (wd.Day()+1)%7)
	}
	if len(opt.Byweekday) > 1 || len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 {
		appLog.Warn("ics: rrule simplified to fixed-step recurrence", "rrule", value)
	}
	return p, nil
}
