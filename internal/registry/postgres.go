package registry

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

// PostgresRegistry stores scheduled jobs in a single shared table in the
// public schema. Tenant isolation is carried by the owner_tenant column on
// every statement, never by ambient connection state.
type PostgresRegistry struct {
	db *sqlx.DB
}

// jobRow is the wire shape of one scheduled_jobs row. The recurrence
// descriptor travels as a JSON column so the registry stays agnostic of its
// internals.
type jobRow struct {
	ID          string     `db:"id"`
	OwnerTenant string     `db:"owner_tenant"`
	RuleID      string     `db:"rule_id"`
	Recurrence  []byte     `db:"recurrence"`
	OneOff      bool       `db:"one_off"`
	State       string     `db:"state"`
	NextRunAt   *time.Time `db:"next_run_at"`
	LastRunAt   *time.Time `db:"last_run_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

const jobColumns = `id, owner_tenant, rule_id, recurrence, one_off, state, next_run_at, last_run_at, created_at, updated_at`

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sqlx.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// OpenPostgres connects to the given DSN.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRegistry, func() error, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect registry: %w", err)
	}
	return &PostgresRegistry{db: db}, db.Close, nil
}

// EnsureSchema creates the shared jobs table when missing.
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id           TEXT PRIMARY KEY,
			owner_tenant TEXT NOT NULL,
			rule_id      TEXT NOT NULL,
			recurrence   JSONB NOT NULL,
			one_off      BOOLEAN NOT NULL,
			state        TEXT NOT NULL,
			next_run_at  TIMESTAMPTZ,
			last_run_at  TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS scheduled_jobs_due
			ON scheduled_jobs (next_run_at) WHERE state = 'pending';
		CREATE INDEX IF NOT EXISTS scheduled_jobs_tenant
			ON scheduled_jobs (owner_tenant, rule_id);`)
	return err
}

func (r *PostgresRegistry) InsertBatch(ctx context.Context, tenant string, jobs []schema.ScheduledJob) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert batch: %w", err)
	}
	for _, j := range jobs {
		if j.OwnerTenant != tenant {
			err = fmt.Errorf("job %s owned by %q, expected %q", j.ID, j.OwnerTenant, tenant)
			break
		}
		var row jobRow
		row, err = toRow(j)
		if err != nil {
			break
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scheduled_jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			row.ID, row.OwnerTenant, row.RuleID, row.Recurrence, row.OneOff,
			row.State, row.NextRunAt, row.LastRunAt, row.CreatedAt, row.UpdatedAt)
		if err != nil {
			break
		}
	}
	if err != nil {
		rbErr := tx.Rollback()
		return errors.Join(err, rbErr)
	}
	return tx.Commit()
}

func (r *PostgresRegistry) Delete(ctx context.Context, tenant string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM scheduled_jobs WHERE owner_tenant = $1 AND id = ANY($2)`,
		tenant, pq.Array(ids))
	return err
}

func (r *PostgresRegistry) ClaimDue(ctx context.Context, now time.Time) ([]schema.ScheduledJob, error) {
	var rows []jobRow
	err := r.db.SelectContext(ctx, &rows, `
		UPDATE scheduled_jobs
		SET state = 'fired', updated_at = $1
		WHERE state = 'pending' AND next_run_at IS NOT NULL AND next_run_at <= $1
		RETURNING `+jobColumns, now)
	if err != nil {
		return nil, err
	}
	out := make([]schema.ScheduledJob, 0, len(rows))
	for _, row := range rows {
		j, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *PostgresRegistry) Complete(ctx context.Context, tenant, id string, firedAt time.Time, next *time.Time) error {
	if next == nil {
		res, err := r.db.ExecContext(ctx,
			`DELETE FROM scheduled_jobs WHERE owner_tenant = $1 AND id = $2`,
			tenant, id)
		if err != nil {
			return err
		}
		return requireRow(res)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET state = 'pending', last_run_at = $3, next_run_at = $4, updated_at = $3
		WHERE owner_tenant = $1 AND id = $2`,
		tenant, id, firedAt, next)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRegistry) Get(ctx context.Context, tenant, id string) (schema.ScheduledJob, error) {
	var row jobRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE owner_tenant = $1 AND id = $2`,
		tenant, id)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.ScheduledJob{}, schema.ErrJobNotFound
	}
	if err != nil {
		return schema.ScheduledJob{}, err
	}
	return fromRow(row)
}

func (r *PostgresRegistry) ListByTenant(ctx context.Context, tenant string) ([]schema.ScheduledJob, error) {
	var rows []jobRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE owner_tenant = $1
		ORDER BY next_run_at NULLS LAST`,
		tenant)
	if err != nil {
		return nil, err
	}
	out := make([]schema.ScheduledJob, 0, len(rows))
	for _, row := range rows {
		j, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.ErrJobNotFound
	}
	return nil
}

func toRow(j schema.ScheduledJob) (jobRow, error) {
	rec, err := json.Marshal(j.Recurrence)
	if err != nil {
		return jobRow{}, fmt.Errorf("marshal recurrence for job %s: %w", j.ID, err)
	}
	return jobRow{
		ID:          j.ID,
		OwnerTenant: j.OwnerTenant,
		RuleID:      j.RuleID,
		Recurrence:  rec,
		OneOff:      j.OneOff,
		State:       string(j.State),
		NextRunAt:   j.NextRunAt,
		LastRunAt:   j.LastRunAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}, nil
}

func fromRow(row jobRow) (schema.ScheduledJob, error) {
	var rec schema.Recurrence
	if err := json.Unmarshal(row.Recurrence, &rec); err != nil {
		return schema.ScheduledJob{}, fmt.Errorf("unmarshal recurrence for job %s: %w", row.ID, err)
	}
	return schema.ScheduledJob{
		ID:          row.ID,
		OwnerTenant: row.OwnerTenant,
		RuleID:      row.RuleID,
		Recurrence:  rec,
		OneOff:      row.OneOff,
		State:       schema.JobState(row.State),
		NextRunAt:   row.NextRunAt,
		LastRunAt:   row.LastRunAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

var _ Registry = (*PostgresRegistry)(nil)
