package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardbook/guardbook/internal/registry"
	"github.com/guardbook/guardbook/internal/schema"
	"github.com/guardbook/guardbook/internal/store"
)

var (
	acme   = schema.TenantScope{ID: "acme", Timezone: "America/Caracas"}
	globex = schema.TenantScope{ID: "globex", Timezone: "Europe/Madrid"}

	fixedNow = time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
)

func newFixture(t *testing.T) (*Reconciler, *registry.MemoryRegistry, *store.Memory) {
	t.Helper()
	reg := registry.NewMemory("")
	st := store.NewMemory()
	r := New(reg, st)
	r.now = func() time.Time { return fixedNow }
	return r, reg, st
}

func mustWindow(t *testing.T, start, end string) schema.TimeWindow {
	t.Helper()
	s, err := schema.ParseClockTime(start)
	require.NoError(t, err)
	e, err := schema.ParseClockTime(end)
	require.NoError(t, err)
	return schema.TimeWindow{Start: s, End: e}
}

func everyDayRule(t *testing.T, id string, windows ...schema.TimeWindow) schema.NotificationRule {
	t.Helper()
	return schema.NotificationRule{
		ID:              id,
		TenantID:        acme.ID,
		Description:     "morning guard report",
		IsActive:        true,
		Kind:            schema.KindObligatory,
		FrequencyPolicy: schema.EveryDay,
		TimeWindows:     windows,
		EventTypeID:     "guard-report",
		AudienceGroups:  []string{"supervisors"},
	}
}

func TestReconcile_MaterializesOneJobPerWindow(t *testing.T) {
	r, reg, st := newFixture(t)
	ctx := context.Background()

	rule := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"), mustWindow(t, "20:00", "21:00"))
	st.PutRule(acme.ID, rule)

	require.NoError(t, r.Reconcile(ctx, acme, rule))

	jobs, err := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, acme.ID, j.OwnerTenant)
		assert.Equal(t, "r1", j.RuleID)
		assert.Equal(t, schema.JobPending, j.State)
		assert.False(t, j.OneOff)
		require.NotNil(t, j.NextRunAt)
		assert.True(t, j.NextRunAt.After(fixedNow))
	}

	stored, err := st.Get(ctx, acme, "r1")
	require.NoError(t, err)
	require.Len(t, stored.MaterializedJobIDs, 2)
	assert.ElementsMatch(t, []string{jobs[0].ID, jobs[1].ID}, stored.MaterializedJobIDs)
}

func TestReconcile_Converges(t *testing.T) {
	r, reg, st := newFixture(t)
	ctx := context.Background()

	rule := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"), mustWindow(t, "20:00", "21:00"))
	st.PutRule(acme.ID, rule)
	require.NoError(t, r.Reconcile(ctx, acme, rule))

	// Re-run with the unchanged rule as re-read from the store. The ids
	// rotate but the installed set stays equivalent.
	stored, err := st.Get(ctx, acme, "r1")
	require.NoError(t, err)
	require.NoError(t, r.Reconcile(ctx, acme, stored))

	jobs, err := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestReconcile_TenantIsolation(t *testing.T) {
	r, reg, st := newFixture(t)
	ctx := context.Background()

	// Same rule id in both tenants.
	ruleA := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"))
	ruleB := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"), mustWindow(t, "20:00", "21:00"))
	st.PutRule(acme.ID, ruleA)
	st.PutRule(globex.ID, ruleB)
	ruleA.TenantID = acme.ID
	ruleB.TenantID = globex.ID

	require.NoError(t, r.Reconcile(ctx, acme, ruleA))
	require.NoError(t, r.Reconcile(ctx, globex, ruleB))

	// Disabling acme's rule must leave globex's jobs alone.
	storedA, err := st.Get(ctx, acme, "r1")
	require.NoError(t, err)
	storedA.IsActive = false
	require.NoError(t, r.Reconcile(ctx, acme, storedA))

	jobsA, err := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	assert.Empty(t, jobsA)

	jobsB, err := reg.ListByTenant(ctx, globex.ID)
	require.NoError(t, err)
	assert.Len(t, jobsB, 2)
}

func TestReconcile_DisableThenReenable(t *testing.T) {
	r, reg, st := newFixture(t)
	ctx := context.Background()

	rule := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"))
	st.PutRule(acme.ID, rule)
	require.NoError(t, r.Reconcile(ctx, acme, rule))

	stored, err := st.Get(ctx, acme, "r1")
	require.NoError(t, err)
	stored.IsActive = false
	require.NoError(t, r.Reconcile(ctx, acme, stored))

	jobs, err := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	stored, err = st.Get(ctx, acme, "r1")
	require.NoError(t, err)
	assert.Empty(t, stored.MaterializedJobIDs)

	stored.IsActive = true
	require.NoError(t, r.Reconcile(ctx, acme, stored))
	jobs, err = reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestReconcile_WeeklyToSingleDayTransition(t *testing.T) {
	r, reg, st := newFixture(t)
	ctx := context.Background()

	rule := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"))
	rule.FrequencyPolicy = schema.WeeklyByWeekday
	rule.Weekdays = []time.Weekday{time.Monday, time.Friday}
	st.PutRule(acme.ID, rule)
	require.NoError(t, r.Reconcile(ctx, acme, rule))

	before, err := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.False(t, before[0].OneOff)

	stored, err := st.Get(ctx, acme, "r1")
	require.NoError(t, err)
	stored.FrequencyPolicy = schema.SingleDay
	stored.Weekdays = nil
	day, err := schema.ParseDate("2024-02-01")
	require.NoError(t, err)
	stored.SingleDay = &day
	require.NoError(t, r.Reconcile(ctx, acme, stored))

	after, err := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.True(t, after[0].OneOff)
	assert.NotEqual(t, before[0].ID, after[0].ID, "cyclical job must be retired, not re-armed")
}

func TestReconcile_PastOneOffProducesNoJob(t *testing.T) {
	r, reg, st := newFixture(t)
	ctx := context.Background()

	rule := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"))
	rule.FrequencyPolicy = schema.SingleDay
	day, err := schema.ParseDate("2020-01-01")
	require.NoError(t, err)
	rule.SingleDay = &day
	st.PutRule(acme.ID, rule)

	require.NoError(t, r.Reconcile(ctx, acme, rule))

	jobs, err := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestReconcile_RecurrentRuleProducesNoJobs(t *testing.T) {
	r, reg, st := newFixture(t)
	ctx := context.Background()

	rule := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"))
	rule.Kind = schema.KindRecurrent
	st.PutRule(acme.ID, rule)

	require.NoError(t, r.Reconcile(ctx, acme, rule))

	jobs, err := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestReconcile_InvalidRuleLeavesEverythingUntouched(t *testing.T) {
	r, reg, st := newFixture(t)
	ctx := context.Background()

	rule := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"))
	st.PutRule(acme.ID, rule)
	require.NoError(t, r.Reconcile(ctx, acme, rule))

	stored, err := st.Get(ctx, acme, "r1")
	require.NoError(t, err)
	previousIDs := stored.MaterializedJobIDs

	stored.TimeWindows = nil
	err = r.Reconcile(ctx, acme, stored)
	require.Error(t, err)
	assert.True(t, schema.IsValidation(err))

	// Installed jobs and the id mirror survive the rejected update.
	jobs, err := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	stored, err = st.Get(ctx, acme, "r1")
	require.NoError(t, err)
	assert.Equal(t, previousIDs, stored.MaterializedJobIDs)
}

// failingRuleStore rejects every id mirror write.
type failingRuleStore struct {
	schema.RuleStore
	err error
}

func (f *failingRuleStore) SetMaterializedJobIDs(context.Context, schema.TenantScope, string, []string) error {
	return f.err
}

func TestReconcile_RollsBackFreshJobsOnPersistFailure(t *testing.T) {
	reg := registry.NewMemory("")
	st := store.NewMemory()
	boom := errors.New("tenant store unavailable")
	r := New(reg, &failingRuleStore{RuleStore: st, err: boom})
	r.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	rule := everyDayRule(t, "r1", mustWindow(t, "08:00", "09:00"))
	st.PutRule(acme.ID, rule)

	err := r.Reconcile(ctx, acme, rule)
	require.ErrorIs(t, err, boom)

	// The fresh jobs were rolled back, so a later retry starts clean.
	jobs, listErr := reg.ListByTenant(ctx, acme.ID)
	require.NoError(t, listErr)
	assert.Empty(t, jobs)
}
