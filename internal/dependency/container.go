// Package dependency wires the engine's services using go.uber.org/dig.
package dependency

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/dig"

	"github.com/guardbook/guardbook/internal/config"
	"github.com/guardbook/guardbook/internal/evaluate"
	"github.com/guardbook/guardbook/internal/notify"
	"github.com/guardbook/guardbook/internal/reconcile"
	"github.com/guardbook/guardbook/internal/registry"
	"github.com/guardbook/guardbook/internal/scheduler"
	"github.com/guardbook/guardbook/internal/schema"
	"github.com/guardbook/guardbook/internal/store"
)

// Container holds the resolved service singletons. Callers use the typed
// getters; they never need to import dig directly.
type Container struct {
	registry   registry.Registry
	rules      schema.RuleStore
	reconciler *reconcile.Reconciler
	evaluator  *evaluate.Evaluator
	runtime    *scheduler.Runtime

	closers []func() error
}

func (c *Container) Registry() registry.Registry       { return c.registry }
func (c *Container) Rules() schema.RuleStore           { return c.rules }
func (c *Container) Reconciler() *reconcile.Reconciler { return c.reconciler }
func (c *Container) Evaluator() *evaluate.Evaluator    { return c.evaluator }
func (c *Container) Runtime() *scheduler.Runtime       { return c.runtime }

// Close releases database connections.
func (c *Container) Close() error {
	var firstErr error
	for _, fn := range c.closers {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// storage bundles what the configured store driver provides.
type storage struct {
	dig.Out

	Registry  registry.Registry
	Rules     schema.RuleStore
	Events    schema.EventStore
	Locations schema.LocationDirectory
	Members   schema.MembershipDirectory
}

// New builds and wires all services from cfg.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	d := dig.New()
	result := &Container{}

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(func(cfg *config.Config) (storage, error) {
		return newStorage(ctx, cfg, result)
	}); err != nil {
		return nil, err
	}
	if err := d.Provide(newNotifier); err != nil {
		return nil, err
	}
	if err := d.Provide(evaluate.New); err != nil {
		return nil, err
	}
	if err := d.Provide(reconcile.New); err != nil {
		return nil, err
	}
	if err := d.Provide(newRuntime); err != nil {
		return nil, err
	}

	err := d.Invoke(func(
		reg registry.Registry,
		rules schema.RuleStore,
		reconciler *reconcile.Reconciler,
		evaluator *evaluate.Evaluator,
		runtime *scheduler.Runtime,
	) {
		result.registry = reg
		result.rules = rules
		result.reconciler = reconciler
		result.evaluator = evaluator
		result.runtime = runtime
	})
	if err != nil {
		closeErr := result.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("%w (and close failed: %v)", err, closeErr)
		}
		return nil, err
	}
	return result, nil
}

// newStorage builds the registry and collaborator stores for the configured
// driver, sharing one connection pool for postgres.
func newStorage(ctx context.Context, cfg *config.Config, c *Container) (storage, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		var collab *store.Memory
		if cfg.Store.SeedPath != "" {
			loaded, err := store.LoadMemory(cfg.Store.SeedPath)
			if err != nil {
				return storage{}, err
			}
			collab = loaded
		} else {
			collab = store.NewMemory()
		}
		return storage{
			Registry:  registry.NewMemory(cfg.Store.JobsPath),
			Rules:     collab,
			Events:    collab,
			Locations: collab,
			Members:   collab,
		}, nil

	case "postgres":
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Store.DSN)
		if err != nil {
			return storage{}, fmt.Errorf("connect postgres: %w", err)
		}
		c.closers = append(c.closers, db.Close)

		reg := registry.NewPostgres(db)
		if err := reg.EnsureSchema(ctx); err != nil {
			return storage{}, fmt.Errorf("ensure registry schema: %w", err)
		}
		collab := store.NewPostgres(db)
		return storage{
			Registry:  reg,
			Rules:     collab,
			Events:    collab,
			Locations: collab,
			Members:   collab,
		}, nil

	default:
		return storage{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newNotifier assembles the fan-out manager from the configured sinks.
func newNotifier(cfg *config.Config) (schema.Notifier, error) {
	var adapters []schema.Notifier
	if cfg.Notify.Email != nil {
		adapters = append(adapters, notify.NewEmail(cfg.Notify.Email))
	}
	if cfg.Notify.Slack != nil {
		adapters = append(adapters, notify.NewSlack(cfg.Notify.Slack))
	}
	if cfg.Notify.Telegram != nil {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, tg)
	}
	return notify.NewManager(adapters...), nil
}

func newRuntime(
	reg registry.Registry,
	evaluator *evaluate.Evaluator,
	rules schema.RuleStore,
	cfg *config.Config,
) *scheduler.Runtime {
	return scheduler.New(reg, evaluator, rules, cfg.Tenants, cfg.Scheduler)
}
