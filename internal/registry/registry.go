// Package registry implements the shared scheduled-job store. The registry
// is logically global across tenants; every mutation is filtered by the
// owning tenant tag so one tenant's reconciliation can never touch another
// tenant's jobs.
package registry

import (
	"context"
	"time"

	"github.com/guardbook/guardbook/internal/schema"
)

// Registry is the scheduled-job store contract.
//
// Job lifecycle: pending → fired → (pending again for cyclical jobs, retired
// for one-offs). The reconciler may force a pending job straight to retired
// via Delete. Retired jobs are removed; they are never re-armed.
type Registry interface {
	// InsertBatch installs a job set atomically: either every job is
	// inserted or none are. All jobs must carry the given owner tenant.
	InsertBatch(ctx context.Context, tenant string, jobs []schema.ScheduledJob) error

	// Delete retires the given jobs. Ids that do not exist, or that belong
	// to a different tenant, are ignored.
	Delete(ctx context.Context, tenant string, ids []string) error

	// ClaimDue atomically transitions every pending job whose due instant
	// has arrived to the fired state and returns them. A claimed job is not
	// returned again until Complete puts it back to pending.
	ClaimDue(ctx context.Context, now time.Time) ([]schema.ScheduledJob, error)

	// Complete finishes a fired job: with a next instant it returns to
	// pending, without one it retires.
	Complete(ctx context.Context, tenant, id string, firedAt time.Time, next *time.Time) error

	// Get returns a single job owned by the tenant.
	Get(ctx context.Context, tenant, id string) (schema.ScheduledJob, error)

	// ListByTenant returns the tenant's live jobs ordered by next run.
	ListByTenant(ctx context.Context, tenant string) ([]schema.ScheduledJob, error)
}
