package schema

import (
	"context"
	"fmt"
	"time"
)

// TenantScope identifies one tenant's data scope. It is threaded explicitly
// through every reconciler and evaluator call instead of living in ambient
// connection state, so a forgotten "restore previous scope" cannot happen.
type TenantScope struct {
	ID       string `json:"id" yaml:"id"`
	Timezone string `json:"timezone" yaml:"timezone"` // IANA name, e.g. "America/Caracas"
}

// Location resolves the tenant's zone, defaulting to UTC when unset.
func (s TenantScope) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: load zone %q: %w", s.ID, s.Timezone, err)
	}
	return loc, nil
}

// Location is a physical site (a guard post / book) compliance is checked
// against. Read-only to this engine.
type Location struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	IsActive bool   `json:"isActive" db:"is_active"`
}

// EventType describes one category of filed report.
type EventType struct {
	ID          string `json:"id" db:"id"`
	Description string `json:"description" db:"description"`
}

// EventRecord is one filed report: opaque beyond its type, location and
// creation instant. Read-only to this engine.
type EventRecord struct {
	ID          string    `json:"id" db:"id"`
	EventTypeID string    `json:"eventTypeId" db:"event_type_id"`
	LocationID  string    `json:"locationId" db:"location_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Recipient is one member of an audience group.
type Recipient struct {
	ID             string   `json:"id" db:"id"`
	Name           string   `json:"name" db:"name"`
	Email          string   `json:"email" db:"email"`
	SlackID        string   `json:"slackId" db:"slack_id"`
	TelegramChatID int64    `json:"telegramChatId" db:"telegram_chat_id"`
	IsSuperuser    bool     `json:"isSuperuser" db:"is_superuser"`
	LocationIDs    []string `json:"locationIds" db:"-"`
}

// AssignedTo reports whether the recipient is assigned to the location.
func (r Recipient) AssignedTo(locationID string) bool {
	for _, id := range r.LocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

// RuleStore reads and updates notification rules inside a tenant scope.
// Rule authoring itself is an external surface; the engine only re-reads
// rules and maintains their materialized job id mirror.
type RuleStore interface {
	Get(ctx context.Context, scope TenantScope, ruleID string) (NotificationRule, error)
	List(ctx context.Context, scope TenantScope) ([]NotificationRule, error)
	// ListReactive returns active recurrent rules monitoring the event type.
	ListReactive(ctx context.Context, scope TenantScope, eventTypeID string) ([]NotificationRule, error)
	// SetMaterializedJobIDs persists the rule's job id mirror. Called only
	// by the reconciler.
	SetMaterializedJobIDs(ctx context.Context, scope TenantScope, ruleID string, jobIDs []string) error
}

// EventStore is the append-only log of filed reports.
type EventStore interface {
	// Exists reports whether at least one event of the type exists at the
	// location within [from, to]. Existence alone satisfies compliance.
	Exists(ctx context.Context, scope TenantScope, eventTypeID, locationID string, from, to time.Time) (bool, error)
	// DescribeType returns the event type's human description, used as the
	// escalation subject.
	DescribeType(ctx context.Context, scope TenantScope, eventTypeID string) (EventType, error)
}

// LocationDirectory lists the tenant's sites.
type LocationDirectory interface {
	ListActive(ctx context.Context, scope TenantScope) ([]Location, error)
}

// MembershipDirectory resolves audience group members.
type MembershipDirectory interface {
	// MembersOf returns the members of the given groups, with their
	// superuser flag and location assignments populated.
	MembersOf(ctx context.Context, scope TenantScope, groupIDs []string) ([]Recipient, error)
}

// Notifier is the escalation sink contract. Implementations log and skip
// per-recipient failures; an error means the send failed wholesale.
type Notifier interface {
	Send(ctx context.Context, subject, body string, to []Recipient) error
}
