package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guardbook/guardbook/internal/schema"
)

func TestMemory_ExistsWindowFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	loc := time.UTC

	m.AppendEvent("acme", schema.EventRecord{
		ID: "in", EventTypeID: "guard-report", LocationID: "L1",
		CreatedAt: time.Date(2024, 1, 10, 8, 30, 0, 0, loc),
	})
	m.AppendEvent("acme", schema.EventRecord{
		ID: "before", EventTypeID: "guard-report", LocationID: "L1",
		CreatedAt: time.Date(2024, 1, 10, 7, 59, 0, 0, loc),
	})
	m.AppendEvent("acme", schema.EventRecord{
		ID: "wrong-site", EventTypeID: "guard-report", LocationID: "L2",
		CreatedAt: time.Date(2024, 1, 10, 8, 30, 0, 0, loc),
	})

	from := time.Date(2024, 1, 10, 8, 0, 0, 0, loc)
	to := time.Date(2024, 1, 10, 9, 0, 0, 0, loc)

	scope := schema.TenantScope{ID: "acme"}
	ok, err := m.Exists(ctx, scope, "guard-report", "L1", from, to)
	if err != nil || !ok {
		t.Errorf("expected hit for L1, got %v %v", ok, err)
	}
	ok, _ = m.Exists(ctx, scope, "guard-report", "L2", from, to.Add(-time.Hour))
	if ok {
		t.Error("event outside window must not count")
	}
	ok, _ = m.Exists(ctx, schema.TenantScope{ID: "globex"}, "guard-report", "L1", from, to)
	if ok {
		t.Error("events must not leak across tenants")
	}
}

func TestMemory_ListReactive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	scope := schema.TenantScope{ID: "acme"}

	m.PutRule("acme", schema.NotificationRule{
		ID: "reactive", Kind: schema.KindRecurrent, IsActive: true, EventTypeID: "incident",
	})
	m.PutRule("acme", schema.NotificationRule{
		ID: "disabled", Kind: schema.KindRecurrent, IsActive: false, EventTypeID: "incident",
	})
	m.PutRule("acme", schema.NotificationRule{
		ID: "scheduled", Kind: schema.KindObligatory, IsActive: true, EventTypeID: "incident",
	})

	rules, err := m.ListReactive(ctx, scope, "incident")
	if err != nil {
		t.Fatalf("list reactive: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "reactive" {
		t.Errorf("expected only the active recurrent rule, got %+v", rules)
	}
}

func TestMemory_MembersOfDeduplicates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	scope := schema.TenantScope{ID: "acme"}

	m.PutRecipient("acme", schema.Recipient{ID: "u1", Name: "Supervisor"}, "supervisors", "managers")

	members, err := m.MembersOf(ctx, scope, []string{"supervisors", "managers"})
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("member in both groups must appear once, got %d", len(members))
	}
}

func TestMemory_SetMaterializedJobIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	scope := schema.TenantScope{ID: "acme"}

	m.PutRule("acme", schema.NotificationRule{ID: "r1"})
	if err := m.SetMaterializedJobIDs(ctx, scope, "r1", []string{"j1", "j2"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	rule, err := m.Get(ctx, scope, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(rule.MaterializedJobIDs) != 2 {
		t.Errorf("ids not persisted: %v", rule.MaterializedJobIDs)
	}

	err = m.SetMaterializedJobIDs(ctx, scope, "ghost", nil)
	if !errors.Is(err, schema.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestLoadMemory_Seed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	seed := `
tenants:
  - id: acme
    rules:
      - id: r1
        description: Morning guard report
        isActive: true
        kind: obligatory
        frequencyPolicy: every_day
        timeWindows:
          - start: "08:00"
            end: "09:00"
        eventTypeId: guard-report
        audienceGroups: [supervisors]
    locations:
      - id: L1
        name: North Gate
        isActive: true
    eventTypes:
      - id: guard-report
        description: Guard Report
    members:
      - id: u1
        name: Supervisor
        email: sup@acme.test
        locations: [L1]
        groups: [supervisors]
`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	m, err := LoadMemory(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	ctx := context.Background()
	scope := schema.TenantScope{ID: "acme"}

	rule, err := m.Get(ctx, scope, "r1")
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if rule.TimeWindows[0].End.Hour != 9 {
		t.Errorf("window did not decode: %+v", rule.TimeWindows)
	}
	locs, err := m.ListActive(ctx, scope)
	if err != nil || len(locs) != 1 {
		t.Fatalf("locations: %v %v", locs, err)
	}
	members, err := m.MembersOf(ctx, scope, []string{"supervisors"})
	if err != nil || len(members) != 1 {
		t.Fatalf("members: %v %v", members, err)
	}
	if !members[0].AssignedTo("L1") {
		t.Errorf("assignments not loaded: %+v", members[0])
	}
}

func TestLoadMemory_MissingFile(t *testing.T) {
	if _, err := LoadMemory(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}
