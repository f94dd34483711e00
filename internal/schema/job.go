package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecurrenceKind distinguishes cyclical descriptors from one-off fire instants.
type RecurrenceKind string

const (
	RecurrenceCyclical RecurrenceKind = "cyclical"
	RecurrenceOneOff   RecurrenceKind = "oneoff"
)

// Recurrence is a firing specification produced by the recurrence resolver.
// A cyclical descriptor fixes minute and hour (and optionally a weekday set);
// a one-off descriptor carries a concrete fire instant. The tenant's IANA
// zone is stored explicitly so no consumer ever falls back to the process
// default zone.
type Recurrence struct {
	Kind RecurrenceKind `json:"kind" yaml:"kind"`

	// Cyclical fields.
	Minute   int            `json:"minute" yaml:"minute"`
	Hour     int            `json:"hour" yaml:"hour"`
	Weekdays []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"` // empty = every day

	// One-off field: the fire instant, already resolved in the tenant zone.
	At time.Time `json:"at,omitempty" yaml:"at,omitempty"`

	// Window is the time window this firing verifies. The evaluator receives
	// it at fire time alongside the rule id.
	Window TimeWindow `json:"window" yaml:"window"`

	// Timezone is the tenant's IANA zone name.
	Timezone string `json:"timezone" yaml:"timezone"`
}

// CronExpr renders a cyclical descriptor as a five-field cron expression
// (minute hour dom month dow).
func (r Recurrence) CronExpr() string {
	dow := "*"
	if len(r.Weekdays) > 0 {
		parts := make([]string, len(r.Weekdays))
		for i, wd := range r.Weekdays {
			parts[i] = strconv.Itoa(int(wd))
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d * * %s", r.Minute, r.Hour, dow)
}

// Location resolves the descriptor's zone.
func (r Recurrence) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

// JobState is the registry-side lifecycle of a scheduled job.
type JobState string

const (
	// JobPending jobs are installed and waiting for their due instant.
	JobPending JobState = "pending"
	// JobFired jobs are being evaluated right now. Cyclical jobs return to
	// pending with a new due instant; one-off jobs retire.
	JobFired JobState = "fired"
	// JobRetired jobs are finished and removed from the registry. A retired
	// job is never re-armed; the reconciler materializes a fresh one instead.
	JobRetired JobState = "retired"
)

// ScheduledJob is one concrete firing instruction in the shared registry.
// The payload is only the rule id: the evaluator re-reads the rule at fire
// time so it always observes the latest active/audience state.
type ScheduledJob struct {
	ID          string     `json:"id" db:"id"`
	OwnerTenant string     `json:"ownerTenant" db:"owner_tenant"`
	RuleID      string     `json:"ruleId" db:"rule_id"`
	Recurrence  Recurrence `json:"recurrence" db:"-"`
	OneOff      bool       `json:"oneOff" db:"one_off"`
	State       JobState   `json:"state" db:"state"`
	NextRunAt   *time.Time `json:"nextRunAt,omitempty" db:"next_run_at"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty" db:"last_run_at"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}
