// Package scheduler runs the background firing loop: poll the registry for
// due jobs, evaluate each one with a bounded budget, and re-arm or retire it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guardbook/guardbook/internal/config"
	"github.com/guardbook/guardbook/internal/evaluate"
	"github.com/guardbook/guardbook/internal/recurrence"
	"github.com/guardbook/guardbook/internal/registry"
	"github.com/guardbook/guardbook/internal/schema"
)

// Runtime polls the registry and fires due jobs. Jobs execute concurrently
// with no ordering guarantee between unrelated jobs; a single evaluation runs
// to completion under its timeout and never crashes the loop.
type Runtime struct {
	registry  registry.Registry
	evaluator *evaluate.Evaluator
	rules     schema.RuleStore

	tenants      map[string]schema.TenantScope
	pollInterval time.Duration
	evalTimeout  time.Duration
	maxParallel  int

	// now is swappable in tests.
	now func() time.Time
}

// New builds the runtime. Tenants configure zone lookups; a job whose tenant
// is not configured still fires using the zone stored in its recurrence
// descriptor.
func New(
	reg registry.Registry,
	evaluator *evaluate.Evaluator,
	rules schema.RuleStore,
	tenants []schema.TenantScope,
	cfg config.SchedulerConfig,
) *Runtime {
	byID := make(map[string]schema.TenantScope, len(tenants))
	for _, t := range tenants {
		byID[t.ID] = t
	}
	maxParallel := cfg.MaxConcurrent
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return &Runtime{
		registry:     reg,
		evaluator:    evaluator,
		rules:        rules,
		tenants:      byID,
		pollInterval: cfg.PollInterval(),
		evalTimeout:  cfg.EvalTimeout(),
		maxParallel:  maxParallel,
		now:          time.Now,
	}
}

// Start runs the poll loop until ctx is cancelled. In-flight evaluations at
// cancellation time are allowed to finish their current tick.
func (r *Runtime) Start(ctx context.Context) error {
	slog.Info("scheduler: started", "interval", r.pollInterval, "timeout", r.evalTimeout)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			slog.Info("scheduler: stopped")
			return ctx.Err()
		}
	}
}

// tick claims every due job and fires them concurrently, waiting for the
// batch before returning so state updates land before the next poll.
func (r *Runtime) tick(ctx context.Context) {
	now := r.now()
	due, err := r.registry.ClaimDue(ctx, now)
	if err != nil {
		slog.Error("scheduler: claim due jobs failed", "err", err)
		return
	}
	if len(due) == 0 {
		return
	}
	slog.Info("scheduler: firing due jobs", "count", len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)
	for _, job := range due {
		job := job
		g.Go(func() error {
			r.fire(gctx, job, now)
			return nil
		})
	}
	_ = g.Wait()
}

// fire evaluates one claimed job and completes it: cyclical jobs re-arm at
// their next natural occurrence whether or not evaluation succeeded; one-off
// jobs retire either way, a failure being logged as final.
func (r *Runtime) fire(ctx context.Context, job schema.ScheduledJob, firedAt time.Time) {
	scope := r.scopeFor(job)

	// Evaluate against the job's due instant, not the claim time: a job
	// picked up late (after a restart, past midnight) must still check the
	// window that actually lapsed.
	at := firedAt
	if job.NextRunAt != nil {
		at = *job.NextRunAt
	}

	evalCtx, cancel := context.WithTimeout(ctx, r.evalTimeout)
	err := r.evaluator.Evaluate(evalCtx, scope, job.RuleID, job.Recurrence.Window, at)
	cancel()
	if err != nil {
		if job.OneOff {
			slog.Error("scheduler: one-off evaluation failed, not retried",
				"tenant", job.OwnerTenant, "rule", job.RuleID, "job", job.ID, "err", err)
		} else {
			slog.Error("scheduler: evaluation failed, retrying at next occurrence",
				"tenant", job.OwnerTenant, "rule", job.RuleID, "job", job.ID, "err", err)
		}
	}

	var next *time.Time
	if !job.OneOff {
		next, err = recurrence.Next(job.Recurrence, firedAt)
		if err != nil {
			slog.Error("scheduler: next occurrence failed, retiring job",
				"job", job.ID, "err", err)
			next = nil
		}
	}
	if err := r.registry.Complete(ctx, job.OwnerTenant, job.ID, firedAt, next); err != nil {
		slog.Error("scheduler: complete job failed", "job", job.ID, "err", err)
	}
}

// scopeFor resolves the job's tenant scope, falling back to the zone stored
// in the job's own recurrence descriptor.
func (r *Runtime) scopeFor(job schema.ScheduledJob) schema.TenantScope {
	if scope, ok := r.tenants[job.OwnerTenant]; ok {
		return scope
	}
	return schema.TenantScope{ID: job.OwnerTenant, Timezone: job.Recurrence.Timezone}
}

// TriggerNow force-fires the evaluator for a rule immediately, bypassing the
// schedule. Operator surface for testing and debugging; the installed jobs
// are untouched.
func (r *Runtime) TriggerNow(ctx context.Context, scope schema.TenantScope, ruleID string) error {
	rule, err := r.rules.Get(ctx, scope, ruleID)
	if err != nil {
		return fmt.Errorf("trigger rule %s: %w", ruleID, err)
	}
	if len(rule.TimeWindows) == 0 {
		return &schema.ValidationError{Field: "timeWindows", Reason: "rule has no time windows to evaluate"}
	}

	evalCtx, cancel := context.WithTimeout(ctx, r.evalTimeout)
	defer cancel()
	at := r.now()
	for _, w := range rule.TimeWindows {
		if err := r.evaluator.Evaluate(evalCtx, scope, ruleID, w, at); err != nil {
			return err
		}
	}
	return nil
}
