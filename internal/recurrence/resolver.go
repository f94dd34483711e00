// Package recurrence translates a rule's frequency policy and time windows
// into concrete recurrence descriptors, and computes next occurrences for
// cyclical descriptors.
package recurrence

import (
	"fmt"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/guardbook/guardbook/internal/schema"
)

// Resolve maps (frequency policy, time windows, calendar fields) to a set of
// recurrence descriptors in the tenant's zone. Each descriptor fires at a
// window's end time: that is the earliest instant at which the window can be
// judged unfulfilled.
//
// The authoring surface validates rules before they reach the engine, but
// malformed input is still rejected here rather than silently materialized
// into meaningless jobs.
func Resolve(rule schema.NotificationRule, scope schema.TenantScope) ([]schema.Recurrence, error) {
	if len(rule.TimeWindows) == 0 {
		return nil, &schema.ValidationError{Field: "timeWindows", Reason: "at least one time window is required"}
	}
	loc, err := scope.Location()
	if err != nil {
		return nil, err
	}
	tz := loc.String()

	switch rule.FrequencyPolicy {
	case schema.EveryDay:
		out := make([]schema.Recurrence, 0, len(rule.TimeWindows))
		for _, w := range rule.TimeWindows {
			out = append(out, cyclical(w, nil, tz))
		}
		return out, nil

	case schema.SingleDay:
		if rule.SingleDay == nil {
			return nil, &schema.ValidationError{Field: "singleDay", Reason: "required for a single-day rule"}
		}
		out := make([]schema.Recurrence, 0, len(rule.TimeWindows))
		for _, w := range rule.TimeWindows {
			out = append(out, oneOff(*rule.SingleDay, w, loc))
		}
		return out, nil

	case schema.MultipleDays:
		if len(rule.Days) == 0 {
			return nil, &schema.ValidationError{Field: "days", Reason: "at least one day is required"}
		}
		out := make([]schema.Recurrence, 0, len(rule.Days)*len(rule.TimeWindows))
		for _, day := range rule.Days {
			for _, w := range rule.TimeWindows {
				out = append(out, oneOff(day, w, loc))
			}
		}
		return out, nil

	case schema.WeeklyByWeekday:
		if len(rule.Weekdays) == 0 {
			return nil, &schema.ValidationError{Field: "weekdays", Reason: "at least one weekday is required"}
		}
		for _, wd := range rule.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return nil, &schema.ValidationError{Field: "weekdays", Reason: fmt.Sprintf("weekday %d out of range", wd)}
			}
		}
		out := make([]schema.Recurrence, 0, len(rule.TimeWindows))
		for _, w := range rule.TimeWindows {
			out = append(out, cyclical(w, rule.Weekdays, tz))
		}
		return out, nil

	default:
		return nil, &schema.ValidationError{Field: "frequencyPolicy", Reason: fmt.Sprintf("unknown policy %q", rule.FrequencyPolicy)}
	}
}

func cyclical(w schema.TimeWindow, weekdays []time.Weekday, tz string) schema.Recurrence {
	return schema.Recurrence{
		Kind:     schema.RecurrenceCyclical,
		Minute:   w.End.Minute,
		Hour:     w.End.Hour,
		Weekdays: append([]time.Weekday(nil), weekdays...),
		Window:   w,
		Timezone: tz,
	}
}

func oneOff(day schema.Date, w schema.TimeWindow, loc *time.Location) schema.Recurrence {
	return schema.Recurrence{
		Kind:     schema.RecurrenceOneOff,
		At:       time.Date(day.Year, day.Month, day.Day, w.End.Hour, w.End.Minute, 0, 0, loc),
		Window:   w,
		Timezone: loc.String(),
	}
}

// Next returns the next fire instant strictly after the given time, or nil
// for a one-off whose instant has already passed.
func Next(r schema.Recurrence, after time.Time) (*time.Time, error) {
	switch r.Kind {
	case schema.RecurrenceOneOff:
		if r.At.After(after) {
			at := r.At
			return &at, nil
		}
		return nil, nil

	case schema.RecurrenceCyclical:
		loc, err := r.Location()
		if err != nil {
			return nil, err
		}
		parser := robfigcron.NewParser(
			robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow,
		)
		// CRON_TZ pins the schedule itself to the descriptor zone; the
		// wrapper below keeps the query instant in the same zone.
		spec := fmt.Sprintf("CRON_TZ=%s %s", r.Timezone, r.CronExpr())
		sched, err := parser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", spec, err)
		}
		next := withLocation(sched, loc).Next(after)
		return &next, nil

	default:
		return nil, fmt.Errorf("unknown recurrence kind %q", r.Kind)
	}
}

// locSchedule wraps a cron schedule to evaluate in a fixed location,
// regardless of the caller's zone.
type locSchedule struct {
	inner robfigcron.Schedule
	loc   *time.Location
}

func (l locSchedule) Next(t time.Time) time.Time {
	return l.inner.Next(t.In(l.loc))
}

func withLocation(s robfigcron.Schedule, loc *time.Location) robfigcron.Schedule {
	return locSchedule{inner: s, loc: loc}
}
