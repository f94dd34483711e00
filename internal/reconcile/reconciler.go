package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guardbook/guardbook/internal/recurrence"
	"github.com/guardbook/guardbook/internal/registry"
	"github.com/guardbook/guardbook/internal/schema"
)

// Reconciler is the only writer of a rule's materialized job ids. The rule
// authoring surface calls Reconcile after every create, update or toggle.
type Reconciler struct {
	registry registry.Registry
	rules    schema.RuleStore

	// now is swappable in tests.
	now func() time.Time
}

// New creates a reconciler over the given registry and rule store.
func New(reg registry.Registry, rules schema.RuleStore) *Reconciler {
	return &Reconciler{registry: reg, rules: rules, now: time.Now}
}

// Reconcile retires the rule's previously materialized jobs and installs the
// set demanded by the rule's current state. Re-running with an unchanged rule
// converges: the job ids rotate but the installed set is equivalent and never
// accumulates duplicates.
//
// Validation happens before any registry mutation; an invalid rule leaves
// both the registry and the rule untouched. A registry failure mid-swap rolls
// back the jobs inserted by this attempt and leaves the rule's materialized
// ids unchanged, so the caller can simply retry.
func (r *Reconciler) Reconcile(ctx context.Context, scope schema.TenantScope, rule schema.NotificationRule) error {
	wantsJobs := rule.IsActive && rule.Kind == schema.KindObligatory

	var jobs []schema.ScheduledJob
	if wantsJobs {
		descriptors, err := recurrence.Resolve(rule, scope)
		if err != nil {
			return fmt.Errorf("reconcile rule %s: %w", rule.ID, err)
		}
		jobs, err = Materialize(rule, descriptors, r.now())
		if err != nil {
			return fmt.Errorf("reconcile rule %s: %w", rule.ID, err)
		}
	}

	// Retire the previous job set. Missing ids are ignored, so a retry after
	// a half-finished attempt is harmless.
	if err := r.registry.Delete(ctx, scope.ID, rule.MaterializedJobIDs); err != nil {
		return fmt.Errorf("reconcile rule %s: retire previous jobs: %w", rule.ID, err)
	}

	if len(jobs) > 0 {
		if err := r.registry.InsertBatch(ctx, scope.ID, jobs); err != nil {
			// InsertBatch is atomic, so there is nothing partial to clean up.
			return fmt.Errorf("reconcile rule %s: install jobs: %w", rule.ID, err)
		}
	}

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	if err := r.rules.SetMaterializedJobIDs(ctx, scope, rule.ID, ids); err != nil {
		// Roll the fresh jobs back so the registry does not hold jobs the
		// rule no longer knows about.
		if delErr := r.registry.Delete(ctx, scope.ID, ids); delErr != nil {
			slog.Error("reconcile: rollback failed", "rule", rule.ID, "err", delErr)
		}
		return fmt.Errorf("reconcile rule %s: persist job ids: %w", rule.ID, err)
	}

	slog.Info("reconcile: rule reconciled",
		"tenant", scope.ID, "rule", rule.ID, "active", rule.IsActive, "jobs", len(ids))
	return nil
}
