// Package schema defines the value types and collaborator interfaces shared
// across the scheduling engine. Interfaces for external collaborators live
// here so that reconcile, evaluate and scheduler can depend on them without
// import cycles.
package schema

import (
	"fmt"
	"time"
)

// RuleKind distinguishes reactive rules from scheduled ones.
type RuleKind string

const (
	// KindRecurrent rules fire reactively when a matching event is filed.
	// They never produce scheduled jobs.
	KindRecurrent RuleKind = "recurrent"
	// KindObligatory rules demand that an event exists inside each time
	// window; the engine schedules jobs to verify that.
	KindObligatory RuleKind = "obligatory"
)

// FrequencyPolicy selects how a rule's time windows map onto the calendar.
type FrequencyPolicy string

const (
	EveryDay        FrequencyPolicy = "every_day"
	SingleDay       FrequencyPolicy = "single_day"
	MultipleDays    FrequencyPolicy = "multiple_days"
	WeeklyByWeekday FrequencyPolicy = "weekly_by_weekday"
)

// NotificationRule is one declarative compliance policy: "a report of type
// EventTypeID must be filed during each time window, or the audience groups
// get escalated to".
type NotificationRule struct {
	ID          string `json:"id" yaml:"id"`
	TenantID    string `json:"tenantId" yaml:"tenantId"`
	Description string `json:"description" yaml:"description"`
	IsActive    bool   `json:"isActive" yaml:"isActive"`

	Kind            RuleKind        `json:"kind" yaml:"kind"`
	FrequencyPolicy FrequencyPolicy `json:"frequencyPolicy" yaml:"frequencyPolicy"`

	TimeWindows []TimeWindow `json:"timeWindows" yaml:"timeWindows"`

	// SingleDay is required when FrequencyPolicy is SingleDay.
	SingleDay *Date `json:"singleDay,omitempty" yaml:"singleDay,omitempty"`
	// Days is required when FrequencyPolicy is MultipleDays.
	Days []Date `json:"days,omitempty" yaml:"days,omitempty"`
	// Weekdays (0 = Sunday … 6 = Saturday) is required when FrequencyPolicy
	// is WeeklyByWeekday.
	Weekdays []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`

	EventTypeID    string   `json:"eventTypeId" yaml:"eventTypeId"`
	AudienceGroups []string `json:"audienceGroups" yaml:"audienceGroups"`

	// MaterializedJobIDs mirrors the job ids currently installed in the
	// registry for this rule. Written only by the reconciler.
	MaterializedJobIDs []string `json:"materializedJobIds" yaml:"materializedJobIds"`
}

// ClockTime is a wall-clock time of day without a date, tenant-local.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	var c ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d", &c.Hour, &c.Minute); err != nil {
		return ClockTime{}, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return ClockTime{}, fmt.Errorf("clock time %q out of range", s)
	}
	return c, nil
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Minutes returns minutes since midnight, used for ordering.
func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

// MarshalText / UnmarshalText make ClockTime round-trip as "HH:MM" in both
// JSON and YAML.
func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeWindow is a start/end wall-clock pair defining when a qualifying event
// is expected. End may be earlier than Start, in which case the window runs
// past midnight into the next day.
type TimeWindow struct {
	Start ClockTime `json:"start" yaml:"start"`
	End   ClockTime `json:"end" yaml:"end"`
}

func (w TimeWindow) String() string { return w.Start.String() + "-" + w.End.String() }

// Bounds resolves the window to concrete instants in the given location. The
// day anchors the window's end, which is when compliance is judged; a
// midnight-spanning window therefore starts on the previous day.
func (w TimeWindow) Bounds(day Date, loc *time.Location) (from, to time.Time) {
	from = time.Date(day.Year, day.Month, day.Day, w.Start.Hour, w.Start.Minute, 0, 0, loc)
	to = time.Date(day.Year, day.Month, day.Day, w.End.Hour, w.End.Minute, 59, int(time.Second-time.Nanosecond), loc)
	if to.Before(from) {
		from = from.AddDate(0, 0, -1)
	}
	return from, to
}

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
