package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/guardbook/guardbook/internal/schema"
)

// MemoryRegistry is a mutex-guarded in-process registry with optional JSON
// file persistence. It backs single-node deployments and tests; multi-node
// deployments use the Postgres registry instead.
type MemoryRegistry struct {
	path string // empty = no persistence

	mu   sync.Mutex
	jobs map[string]schema.ScheduledJob
}

type memoryStore struct {
	Version int                   `json:"version"`
	Jobs    []schema.ScheduledJob `json:"jobs"`
}

// NewMemory creates a registry persisted to path, or purely in-memory when
// path is empty.
func NewMemory(path string) *MemoryRegistry {
	r := &MemoryRegistry{path: path, jobs: make(map[string]schema.ScheduledJob)}
	if path != "" {
		if err := r.loadLocked(); err != nil {
			slog.Warn("registry: load failed, starting empty", "path", path, "err", err)
		}
	}
	return r
}

func (r *MemoryRegistry) InsertBatch(_ context.Context, tenant string, jobs []schema.ScheduledJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, j := range jobs {
		if j.OwnerTenant != tenant {
			return fmt.Errorf("job %s owned by %q, expected %q", j.ID, j.OwnerTenant, tenant)
		}
		if _, exists := r.jobs[j.ID]; exists {
			return fmt.Errorf("job %s already installed", j.ID)
		}
	}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	r.saveLocked()
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, tenant string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, id := range ids {
		j, ok := r.jobs[id]
		if !ok || j.OwnerTenant != tenant {
			continue
		}
		delete(r.jobs, id)
		changed = true
	}
	if changed {
		r.saveLocked()
	}
	return nil
}

func (r *MemoryRegistry) ClaimDue(_ context.Context, now time.Time) ([]schema.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []schema.ScheduledJob
	for id, j := range r.jobs {
		if j.State != schema.JobPending || j.NextRunAt == nil || j.NextRunAt.After(now) {
			continue
		}
		j.State = schema.JobFired
		j.UpdatedAt = now
		r.jobs[id] = j
		due = append(due, j)
	}
	if len(due) > 0 {
		r.saveLocked()
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextRunAt.Before(*due[k].NextRunAt) })
	return due, nil
}

func (r *MemoryRegistry) Complete(_ context.Context, tenant, id string, firedAt time.Time, next *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.OwnerTenant != tenant {
		return schema.ErrJobNotFound
	}
	if next == nil {
		// One-off done, or a cyclical job with no further occurrence: retire.
		delete(r.jobs, id)
		r.saveLocked()
		return nil
	}
	j.State = schema.JobPending
	j.LastRunAt = &firedAt
	j.NextRunAt = next
	j.UpdatedAt = firedAt
	r.jobs[id] = j
	r.saveLocked()
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, tenant, id string) (schema.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.OwnerTenant != tenant {
		return schema.ScheduledJob{}, schema.ErrJobNotFound
	}
	return j, nil
}

func (r *MemoryRegistry) ListByTenant(_ context.Context, tenant string) ([]schema.ScheduledJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []schema.ScheduledJob
	for _, j := range r.jobs {
		if j.OwnerTenant == tenant {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		a, b := int64(^uint64(0)>>1), int64(^uint64(0)>>1)
		if out[i].NextRunAt != nil {
			a = out[i].NextRunAt.Unix()
		}
		if out[k].NextRunAt != nil {
			b = out[k].NextRunAt.Unix()
		}
		return a < b
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

func (r *MemoryRegistry) loadLocked() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var st memoryStore
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	for _, j := range st.Jobs {
		// A job claimed when the process died goes back to pending so the
		// next poll can pick it up.
		if j.State == schema.JobFired {
			j.State = schema.JobPending
		}
		r.jobs[j.ID] = j
	}
	return nil
}

func (r *MemoryRegistry) saveLocked() {
	if r.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		slog.Warn("registry: mkdir failed", "err", err)
		return
	}
	st := memoryStore{Version: 1, Jobs: make([]schema.ScheduledJob, 0, len(r.jobs))}
	for _, j := range r.jobs {
		st.Jobs = append(st.Jobs, j)
	}
	sort.Slice(st.Jobs, func(i, k int) bool { return st.Jobs[i].ID < st.Jobs[k].ID })
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		slog.Warn("registry: marshal failed", "err", err)
		return
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		slog.Warn("registry: write failed", "err", err)
	}
}

var _ Registry = (*MemoryRegistry)(nil)
