// Package evaluate implements the job payload executed at fire time: check
// whether a qualifying event was filed in the window at each active location,
// and escalate per location when it was not.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guardbook/guardbook/internal/schema"
)

// Evaluator re-enters a tenant's data scope at fire time and runs the
// compliance check. All collaborators are read-only except the notifier.
type Evaluator struct {
	rules     schema.RuleStore
	events    schema.EventStore
	locations schema.LocationDirectory
	members   schema.MembershipDirectory
	notifier  schema.Notifier
}

// New wires an evaluator from its collaborators.
func New(
	rules schema.RuleStore,
	events schema.EventStore,
	locations schema.LocationDirectory,
	members schema.MembershipDirectory,
	notifier schema.Notifier,
) *Evaluator {
	return &Evaluator{
		rules:     rules,
		events:    events,
		locations: locations,
		members:   members,
		notifier:  notifier,
	}
}

// Evaluate checks one rule against one time window, dated by the fire instant
// in the tenant's zone. The caller passes the instant the job was claimed, so
// a job fired late still checks the window that actually lapsed rather than
// whatever day the wall clock has reached. A rule that disappeared or was
// disabled since the job was installed is a logged no-op, never an error: a
// scheduled firing must not crash the scheduler.
func (e *Evaluator) Evaluate(ctx context.Context, scope schema.TenantScope, ruleID string, window schema.TimeWindow, at time.Time) error {
	rule, err := e.rules.Get(ctx, scope, ruleID)
	if errors.Is(err, schema.ErrRuleNotFound) {
		slog.Warn("evaluate: rule vanished, skipping", "tenant", scope.ID, "rule", ruleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("evaluate rule %s: read rule: %w", ruleID, err)
	}
	if !rule.IsActive {
		slog.Info("evaluate: rule inactive, skipping", "tenant", scope.ID, "rule", ruleID)
		return nil
	}

	loc, err := scope.Location()
	if err != nil {
		return fmt.Errorf("evaluate rule %s: %w", ruleID, err)
	}
	today := schema.DateOf(at.In(loc))
	from, to := window.Bounds(today, loc)

	eventType, err := e.events.DescribeType(ctx, scope, rule.EventTypeID)
	if err != nil {
		return fmt.Errorf("evaluate rule %s: describe event type %s: %w", ruleID, rule.EventTypeID, err)
	}

	sites, err := e.locations.ListActive(ctx, scope)
	if err != nil {
		return fmt.Errorf("evaluate rule %s: list locations: %w", ruleID, err)
	}

	audience, err := e.members.MembersOf(ctx, scope, rule.AudienceGroups)
	if err != nil {
		return fmt.Errorf("evaluate rule %s: resolve audience: %w", ruleID, err)
	}

	for _, site := range sites {
		fulfilled, err := e.events.Exists(ctx, scope, rule.EventTypeID, site.ID, from, to)
		if err != nil {
			// One unreachable location must not block the rest.
			slog.Error("evaluate: event query failed",
				"tenant", scope.ID, "rule", ruleID, "location", site.ID, "window", window.String(), "err", err)
			continue
		}
		if fulfilled {
			continue
		}

		recipients := filterForLocation(audience, site.ID)
		if len(recipients) == 0 {
			slog.Warn("evaluate: no recipients for unfulfilled window",
				"tenant", scope.ID, "rule", ruleID, "location", site.Name)
			continue
		}

		body := rule.Description + " - NOT FULFILLED AT " + site.Name
		if err := e.notifier.Send(ctx, eventType.Description, body, recipients); err != nil {
			slog.Error("evaluate: escalation send failed",
				"tenant", scope.ID, "rule", ruleID, "location", site.Name, "err", err)
			continue
		}
		slog.Info("evaluate: escalated unfulfilled window",
			"tenant", scope.ID, "rule", ruleID, "location", site.Name,
			"window", window.String(), "recipients", len(recipients))
	}
	return nil
}

// EvaluateReactive notifies audiences of active recurrent rules when a
// matching event is filed. Recurrent rules have no schedule: the event itself
// is the trigger, and the whole audience receives the notice.
func (e *Evaluator) EvaluateReactive(ctx context.Context, scope schema.TenantScope, event schema.EventRecord) error {
	matching, err := e.rules.ListReactive(ctx, scope, event.EventTypeID)
	if err != nil {
		return fmt.Errorf("reactive notify for event %s: %w", event.ID, err)
	}
	if len(matching) == 0 {
		return nil
	}

	eventType, err := e.events.DescribeType(ctx, scope, event.EventTypeID)
	if err != nil {
		return fmt.Errorf("reactive notify for event %s: %w", event.ID, err)
	}

	for _, rule := range matching {
		recipients, err := e.members.MembersOf(ctx, scope, rule.AudienceGroups)
		if err != nil {
			slog.Error("evaluate: reactive audience lookup failed",
				"tenant", scope.ID, "rule", rule.ID, "err", err)
			continue
		}
		if len(recipients) == 0 {
			continue
		}
		if err := e.notifier.Send(ctx, eventType.Description, rule.Description, recipients); err != nil {
			slog.Error("evaluate: reactive send failed",
				"tenant", scope.ID, "rule", rule.ID, "err", err)
		}
	}
	return nil
}

// filterForLocation keeps superusers plus members assigned to the location.
func filterForLocation(audience []schema.Recipient, locationID string) []schema.Recipient {
	var out []schema.Recipient
	for _, r := range audience {
		if r.IsSuperuser || r.AssignedTo(locationID) {
			out = append(out, r)
		}
	}
	return out
}
