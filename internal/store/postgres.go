// Package store provides the collaborator-facing data access: rules, filed
// events, locations and group memberships. The Postgres implementations scope
// every query to the tenant's schema; the memory implementations back
// single-node runs and tests.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/guardbook/guardbook/internal/schema"
)

// Postgres bundles the sqlx-backed collaborator stores. Tenants live in
// separate Postgres schemas (one per customer); every call opens a
// transaction, pins search_path to the tenant schema with SET LOCAL, and the
// scope ends with the transaction. No ambient scope state survives a call.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to the given DSN.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, func() error, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect store: %w", err)
	}
	return &Postgres{db: db}, db.Close, nil
}

// inScope runs fn inside a transaction whose search_path is pinned to the
// tenant's schema. SET LOCAL dies with the transaction, so the connection
// returns to the pool unscoped even on error paths.
func (p *Postgres) inScope(ctx context.Context, scope schema.TenantScope, fn func(tx *sqlx.Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scoped tx: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("SET LOCAL search_path = %s, public", pq.QuoteIdentifier(scope.ID)))
	if err != nil {
		rbErr := tx.Rollback()
		return errors.Join(fmt.Errorf("enter tenant scope %s: %w", scope.ID, err), rbErr)
	}
	if err := fn(tx); err != nil {
		rbErr := tx.Rollback()
		return errors.Join(err, rbErr)
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Rule store
// ---------------------------------------------------------------------------

type ruleRow struct {
	ID                 string         `db:"id"`
	Description        string         `db:"description"`
	IsActive           bool           `db:"is_active"`
	Kind               string         `db:"kind"`
	FrequencyPolicy    string         `db:"frequency_policy"`
	TimeWindows        []byte         `db:"time_windows"`
	SingleDay          *time.Time     `db:"single_day"`
	Days               []byte         `db:"days"`
	Weekdays           pq.Int64Array  `db:"weekdays"`
	EventTypeID        string         `db:"event_type_id"`
	AudienceGroups     pq.StringArray `db:"audience_groups"`
	MaterializedJobIDs pq.StringArray `db:"materialized_job_ids"`
}

const ruleColumns = `id, description, is_active, kind, frequency_policy, time_windows,
	single_day, days, weekdays, event_type_id, audience_groups, materialized_job_ids`

func (p *Postgres) Get(ctx context.Context, scope schema.TenantScope, ruleID string) (schema.NotificationRule, error) {
	var rule schema.NotificationRule
	err := p.inScope(ctx, scope, func(tx *sqlx.Tx) error {
		var row ruleRow
		err := tx.GetContext(ctx, &row,
			`SELECT `+ruleColumns+` FROM notification_rules WHERE id = $1`, ruleID)
		if errors.Is(err, sql.ErrNoRows) {
			return schema.ErrRuleNotFound
		}
		if err != nil {
			return err
		}
		rule, err = ruleFromRow(row, scope.ID)
		return err
	})
	return rule, err
}

func (p *Postgres) List(ctx context.Context, scope schema.TenantScope) ([]schema.NotificationRule, error) {
	var rules []schema.NotificationRule
	err := p.inScope(ctx, scope, func(tx *sqlx.Tx) error {
		var rows []ruleRow
		if err := tx.SelectContext(ctx, &rows,
			`SELECT `+ruleColumns+` FROM notification_rules ORDER BY description`); err != nil {
			return err
		}
		return appendRules(&rules, rows, scope.ID)
	})
	return rules, err
}

func (p *Postgres) ListReactive(ctx context.Context, scope schema.TenantScope, eventTypeID string) ([]schema.NotificationRule, error) {
	var rules []schema.NotificationRule
	err := p.inScope(ctx, scope, func(tx *sqlx.Tx) error {
		var rows []ruleRow
		if err := tx.SelectContext(ctx, &rows, `
			SELECT `+ruleColumns+` FROM notification_rules
			WHERE kind = $1 AND is_active AND event_type_id = $2`,
			string(schema.KindRecurrent), eventTypeID); err != nil {
			return err
		}
		return appendRules(&rules, rows, scope.ID)
	})
	return rules, err
}

func (p *Postgres) SetMaterializedJobIDs(ctx context.Context, scope schema.TenantScope, ruleID string, jobIDs []string) error {
	return p.inScope(ctx, scope, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE notification_rules SET materialized_job_ids = $2 WHERE id = $1`,
			ruleID, pq.Array(jobIDs))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return schema.ErrRuleNotFound
		}
		return nil
	})
}

func appendRules(dst *[]schema.NotificationRule, rows []ruleRow, tenantID string) error {
	for _, row := range rows {
		rule, err := ruleFromRow(row, tenantID)
		if err != nil {
			return err
		}
		*dst = append(*dst, rule)
	}
	return nil
}

func ruleFromRow(row ruleRow, tenantID string) (schema.NotificationRule, error) {
	rule := schema.NotificationRule{
		ID:                 row.ID,
		TenantID:           tenantID,
		Description:        row.Description,
		IsActive:           row.IsActive,
		Kind:               schema.RuleKind(row.Kind),
		FrequencyPolicy:    schema.FrequencyPolicy(row.FrequencyPolicy),
		EventTypeID:        row.EventTypeID,
		AudienceGroups:     row.AudienceGroups,
		MaterializedJobIDs: row.MaterializedJobIDs,
	}
	if len(row.TimeWindows) > 0 {
		if err := json.Unmarshal(row.TimeWindows, &rule.TimeWindows); err != nil {
			return schema.NotificationRule{}, fmt.Errorf("rule %s: unmarshal windows: %w", row.ID, err)
		}
	}
	if row.SingleDay != nil {
		day := schema.DateOf(*row.SingleDay)
		rule.SingleDay = &day
	}
	if len(row.Days) > 0 {
		if err := json.Unmarshal(row.Days, &rule.Days); err != nil {
			return schema.NotificationRule{}, fmt.Errorf("rule %s: unmarshal days: %w", row.ID, err)
		}
	}
	for _, wd := range row.Weekdays {
		rule.Weekdays = append(rule.Weekdays, time.Weekday(wd))
	}
	return rule, nil
}

// ---------------------------------------------------------------------------
// Event store
// ---------------------------------------------------------------------------

func (p *Postgres) Exists(ctx context.Context, scope schema.TenantScope, eventTypeID, locationID string, from, to time.Time) (bool, error) {
	var exists bool
	err := p.inScope(ctx, scope, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &exists, `
			SELECT EXISTS (
				SELECT 1 FROM events
				WHERE event_type_id = $1 AND location_id = $2
				  AND created_at BETWEEN $3 AND $4)`,
			eventTypeID, locationID, from, to)
	})
	return exists, err
}

func (p *Postgres) DescribeType(ctx context.Context, scope schema.TenantScope, eventTypeID string) (schema.EventType, error) {
	var et schema.EventType
	err := p.inScope(ctx, scope, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &et,
			`SELECT id, description FROM event_types WHERE id = $1`, eventTypeID)
	})
	return et, err
}

// ---------------------------------------------------------------------------
// Location directory
// ---------------------------------------------------------------------------

func (p *Postgres) ListActive(ctx context.Context, scope schema.TenantScope) ([]schema.Location, error) {
	var out []schema.Location
	err := p.inScope(ctx, scope, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &out,
			`SELECT id, name, is_active FROM locations WHERE is_active ORDER BY name`)
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Membership directory
// ---------------------------------------------------------------------------

type recipientRow struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	Email          string `db:"email"`
	SlackID        string `db:"slack_id"`
	TelegramChatID int64  `db:"telegram_chat_id"`
	IsSuperuser    bool   `db:"is_superuser"`
}

func (p *Postgres) MembersOf(ctx context.Context, scope schema.TenantScope, groupIDs []string) ([]schema.Recipient, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var out []schema.Recipient
	err := p.inScope(ctx, scope, func(tx *sqlx.Tx) error {
		var rows []recipientRow
		err := tx.SelectContext(ctx, &rows, `
			SELECT DISTINCT u.id, u.name, u.email,
				COALESCE(u.slack_id, '') AS slack_id,
				COALESCE(u.telegram_chat_id, 0) AS telegram_chat_id,
				u.is_superuser
			FROM users u
			JOIN user_groups ug ON ug.user_id = u.id
			WHERE ug.group_id = ANY($1)
			ORDER BY u.id`,
			pq.Array(groupIDs))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		userIDs := make([]string, len(rows))
		byUser := make(map[string]int, len(rows))
		out = make([]schema.Recipient, len(rows))
		for i, row := range rows {
			userIDs[i] = row.ID
			out[i] = schema.Recipient{
				ID:             row.ID,
				Name:           row.Name,
				Email:          row.Email,
				SlackID:        row.SlackID,
				TelegramChatID: row.TelegramChatID,
				IsSuperuser:    row.IsSuperuser,
			}
			byUser[row.ID] = i
		}

		var assignments []struct {
			UserID     string `db:"user_id"`
			LocationID string `db:"location_id"`
		}
		err = tx.SelectContext(ctx, &assignments,
			`SELECT user_id, location_id FROM user_locations WHERE user_id = ANY($1)`,
			pq.Array(userIDs))
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if i, ok := byUser[a.UserID]; ok {
				out[i].LocationIDs = append(out[i].LocationIDs, a.LocationID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var (
	_ schema.RuleStore           = (*Postgres)(nil)
	_ schema.EventStore          = (*Postgres)(nil)
	_ schema.LocationDirectory   = (*Postgres)(nil)
	_ schema.MembershipDirectory = (*Postgres)(nil)
)
