package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guardbook/guardbook/internal/schema"
)

// Memory is an in-process implementation of every collaborator store, keyed
// by tenant id. It backs single-node runs (seeded from a YAML file) and is
// the standard fake in tests.
type Memory struct {
	mu         sync.Mutex
	rules      map[string]map[string]schema.NotificationRule // tenant → rule id → rule
	locations  map[string][]schema.Location
	eventTypes map[string]map[string]schema.EventType
	members    map[string]map[string][]string // tenant → group id → recipient ids
	recipients map[string]map[string]schema.Recipient
	events     map[string][]schema.EventRecord
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		rules:      make(map[string]map[string]schema.NotificationRule),
		locations:  make(map[string][]schema.Location),
		eventTypes: make(map[string]map[string]schema.EventType),
		members:    make(map[string]map[string][]string),
		recipients: make(map[string]map[string]schema.Recipient),
		events:     make(map[string][]schema.EventRecord),
	}
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// PutRule installs or replaces a rule.
func (m *Memory) PutRule(tenant string, rule schema.NotificationRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rules[tenant] == nil {
		m.rules[tenant] = make(map[string]schema.NotificationRule)
	}
	rule.TenantID = tenant
	m.rules[tenant][rule.ID] = rule
}

// DeleteRule removes a rule.
func (m *Memory) DeleteRule(tenant, ruleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules[tenant], ruleID)
}

// PutLocation registers a site.
func (m *Memory) PutLocation(tenant string, loc schema.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.locations[tenant] {
		if existing.ID == loc.ID {
			m.locations[tenant][i] = loc
			return
		}
	}
	m.locations[tenant] = append(m.locations[tenant], loc)
}

// PutEventType registers an event type.
func (m *Memory) PutEventType(tenant string, et schema.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventTypes[tenant] == nil {
		m.eventTypes[tenant] = make(map[string]schema.EventType)
	}
	m.eventTypes[tenant][et.ID] = et
}

// PutRecipient registers a recipient as a member of the given groups.
func (m *Memory) PutRecipient(tenant string, r schema.Recipient, groups ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recipients[tenant] == nil {
		m.recipients[tenant] = make(map[string]schema.Recipient)
		m.members[tenant] = make(map[string][]string)
	}
	m.recipients[tenant][r.ID] = r
	for _, g := range groups {
		m.members[tenant][g] = append(m.members[tenant][g], r.ID)
	}
}

// AppendEvent records a filed report.
func (m *Memory) AppendEvent(tenant string, ev schema.EventRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[tenant] = append(m.events[tenant], ev)
}

// ---------------------------------------------------------------------------
// schema.RuleStore
// ---------------------------------------------------------------------------

func (m *Memory) Get(_ context.Context, scope schema.TenantScope, ruleID string) (schema.NotificationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[scope.ID][ruleID]
	if !ok {
		return schema.NotificationRule{}, schema.ErrRuleNotFound
	}
	return rule, nil
}

func (m *Memory) List(_ context.Context, scope schema.TenantScope) ([]schema.NotificationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.NotificationRule
	for _, rule := range m.rules[scope.ID] {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *Memory) ListReactive(_ context.Context, scope schema.TenantScope, eventTypeID string) ([]schema.NotificationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.NotificationRule
	for _, rule := range m.rules[scope.ID] {
		if rule.Kind == schema.KindRecurrent && rule.IsActive && rule.EventTypeID == eventTypeID {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *Memory) SetMaterializedJobIDs(_ context.Context, scope schema.TenantScope, ruleID string, jobIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[scope.ID][ruleID]
	if !ok {
		return schema.ErrRuleNotFound
	}
	rule.MaterializedJobIDs = append([]string(nil), jobIDs...)
	m.rules[scope.ID][ruleID] = rule
	return nil
}

// ---------------------------------------------------------------------------
// schema.EventStore
// ---------------------------------------------------------------------------

func (m *Memory) Exists(_ context.Context, scope schema.TenantScope, eventTypeID, locationID string, from, to time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events[scope.ID] {
		if ev.EventTypeID != eventTypeID || ev.LocationID != locationID {
			continue
		}
		if !ev.CreatedAt.Before(from) && !ev.CreatedAt.After(to) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) DescribeType(_ context.Context, scope schema.TenantScope, eventTypeID string) (schema.EventType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	et, ok := m.eventTypes[scope.ID][eventTypeID]
	if !ok {
		return schema.EventType{}, fmt.Errorf("event type %s not found", eventTypeID)
	}
	return et, nil
}

// ---------------------------------------------------------------------------
// schema.LocationDirectory
// ---------------------------------------------------------------------------

func (m *Memory) ListActive(_ context.Context, scope schema.TenantScope) ([]schema.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.Location
	for _, loc := range m.locations[scope.ID] {
		if loc.IsActive {
			out = append(out, loc)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// schema.MembershipDirectory
// ---------------------------------------------------------------------------

func (m *Memory) MembersOf(_ context.Context, scope schema.TenantScope, groupIDs []string) ([]schema.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []schema.Recipient
	for _, g := range groupIDs {
		for _, id := range m.members[scope.ID][g] {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, m.recipients[scope.ID][id])
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

var (
	_ schema.RuleStore           = (*Memory)(nil)
	_ schema.EventStore          = (*Memory)(nil)
	_ schema.LocationDirectory   = (*Memory)(nil)
	_ schema.MembershipDirectory = (*Memory)(nil)
)

// ---------------------------------------------------------------------------
// YAML seed file
// ---------------------------------------------------------------------------

type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type seedTenant struct {
	ID         string                    `yaml:"id"`
	Rules      []schema.NotificationRule `yaml:"rules"`
	Locations  []seedLocation            `yaml:"locations"`
	EventTypes []seedEventType           `yaml:"eventTypes"`
	Members    []seedMember              `yaml:"members"`
}

type seedLocation struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	IsActive bool   `yaml:"isActive"`
}

type seedEventType struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

type seedMember struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Email          string   `yaml:"email"`
	SlackID        string   `yaml:"slackId"`
	TelegramChatID int64    `yaml:"telegramChatId"`
	IsSuperuser    bool     `yaml:"isSuperuser"`
	Locations      []string `yaml:"locations"`
	Groups         []string `yaml:"groups"`
}

// LoadMemory builds a memory store from a YAML seed file.
func LoadMemory(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}

	m := NewMemory()
	for _, t := range seed.Tenants {
		for _, rule := range t.Rules {
			m.PutRule(t.ID, rule)
		}
		for _, loc := range t.Locations {
			m.PutLocation(t.ID, schema.Location{ID: loc.ID, Name: loc.Name, IsActive: loc.IsActive})
		}
		for _, et := range t.EventTypes {
			m.PutEventType(t.ID, schema.EventType{ID: et.ID, Description: et.Description})
		}
		for _, mem := range t.Members {
			m.PutRecipient(t.ID, schema.Recipient{
				ID:             mem.ID,
				Name:           mem.Name,
				Email:          mem.Email,
				SlackID:        mem.SlackID,
				TelegramChatID: mem.TelegramChatID,
				IsSuperuser:    mem.IsSuperuser,
				LocationIDs:    mem.Locations,
			}, mem.Groups...)
		}
	}
	return m, nil
}
