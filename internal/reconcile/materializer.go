// Package reconcile keeps the job registry consistent with the rules: it
// materializes jobs from recurrence descriptors and atomically swaps a rule's
// installed job set whenever the rule changes.
//
// The registry is shared infrastructure while rules live inside a tenant
// scope. Instead of switching an ambient connection between the two, every
// call takes the tenant scope as an explicit parameter and the registry
// filters all mutations by the owner tenant tag.
package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/guardbook/guardbook/internal/recurrence"
	"github.com/guardbook/guardbook/internal/schema"
)

// Materialize turns resolved recurrence descriptors into concrete pending
// jobs tagged with the rule's owning tenant. Pure construction: the registry
// is not touched, and the payload carries only the rule id so the evaluator
// re-reads the rule at fire time.
//
// One-off descriptors whose instant already passed produce no job.
func Materialize(rule schema.NotificationRule, descriptors []schema.Recurrence, now time.Time) ([]schema.ScheduledJob, error) {
	jobs := make([]schema.ScheduledJob, 0, len(descriptors))
	for _, rec := range descriptors {
		next, err := recurrence.Next(rec, now)
		if err != nil {
			return nil, err
		}
		if next == nil {
			continue
		}
		jobs = append(jobs, schema.ScheduledJob{
			ID:          uuid.NewString(),
			OwnerTenant: rule.TenantID,
			RuleID:      rule.ID,
			Recurrence:  rec,
			OneOff:      rec.Kind == schema.RecurrenceOneOff,
			State:       schema.JobPending,
			NextRunAt:   next,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return jobs, nil
}
