package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/audit"
	"github.com/pitabwire/stepwise/internal/capability"
	"github.com/pitabwire/stepwise/internal/config"
	"github.com/pitabwire/stepwise/internal/definition"
	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/internal/workflow"
	"github.com/pitabwire/stepwise/model"
)

// builtinActions are the actions definition files may name. The stock build
// registers none; embedders add theirs before loading.
var builtinActions = model.ActionRegistry{}

// buildRegistry registers the built-in catalog when enabled and then every
// definition file under the configured directories.
func buildRegistry(cfg config.DefinitionsConfig) (*definition.Registry, []definition.VError, error) {
	reg := definition.NewRegistry()
	if cfg.UseBuiltin {
		if err := definition.RegisterCatalog(reg, builtinActions); err != nil {
			return nil, nil, fmt.Errorf("built-in catalog: %w", err)
		}
	}
	if len(cfg.Directories) == 0 {
		return reg, nil, nil
	}
	if _, verrs, err := definition.NewLoader(builtinActions).LoadAndRegister(reg, cfg.Directories); err != nil || len(verrs) > 0 {
		return nil, verrs, err
	}
	return reg, nil, nil
}

// buildPolicy loads the static policy. With no file configured every check
// denies.
func buildPolicy(cfg config.CapabilityConfig) (*capability.StaticPolicy, error) {
	if cfg.StaticPolicyFile == "" {
		return capability.ParseStaticPolicy(nil)
	}
	return capability.NewStaticPolicy(cfg.StaticPolicyFile)
}

// resources collects everything serve opens so it can be closed in reverse.
type resources struct {
	pool    *pgxpool.Pool
	closers []func()
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// postgres opens the shared pool on first use.
func (r *resources) postgres(ctx context.Context, cfg config.WorkflowStoreConfig) (*pgxpool.Pool, error) {
	if r.pool != nil {
		return r.pool, nil
	}
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("postgres: %s environment variable not set", cfg.DSNEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	r.pool = pool
	r.closers = append(r.closers, pool.Close)
	return pool, nil
}

// buildStore creates the execution state store selected by cfg.Driver.
func (r *resources) buildStore(ctx context.Context, cfg config.WorkflowStoreConfig, logger *zap.Logger) (workflow.Store, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		logger.Info("using in-memory workflow store")
		return workflow.NewMemoryStore(), nil

	case config.StorePostgres:
		pool, err := r.postgres(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("workflow store: %w", err)
		}
		store := workflow.NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("workflow store: migrate: %w", err)
		}
		logger.Info("using postgres workflow store")
		return store, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr(),
			DB:   cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("workflow store: redis ping: %w", err)
		}
		r.closers = append(r.closers, func() { _ = client.Close() })
		logger.Info("using redis workflow store", zap.String("prefix", cfg.KeyPrefix))
		return workflow.NewRedisStore(client, cfg.KeyPrefix), nil

	default:
		return nil, fmt.Errorf("unsupported workflow store driver: %q", cfg.Driver)
	}
}

// buildAuditSink creates the audit sink selected by cfg.Audit.Sink.
func (r *resources) buildAuditSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (model.AuditSink, error) {
	switch cfg.Audit.Sink {
	case config.AuditSinkLog:
		return audit.NewLogSink(logger), nil
	case config.AuditSinkPostgres:
		pool, err := r.postgres(ctx, cfg.Workflow.Store)
		if err != nil {
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		sink := audit.NewPgSink(pool)
		if err := sink.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("audit sink: migrate: %w", err)
		}
		guarded := audit.NewBreakerSink(sink, audit.WithStateHook(func(from, to audit.BreakerState) {
			logger.Warn("postgres audit sink circuit changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}))
		return audit.MultiSink{audit.NewLogSink(logger), guarded}, nil
	default:
		return nil, fmt.Errorf("unsupported audit sink: %q", cfg.Audit.Sink)
	}
}

// readiness builds the readiness checks for the ops endpoint.
func readiness(defs *definition.Registry, store workflow.Store, pool *pgxpool.Pool) observability.ReadinessChecks {
	checks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return defs.Len() > 0 },
		Dependencies:      map[string]observability.HealthChecker{},
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		checks.Dependencies["workflow_store"] = hc
	}
	if pool != nil {
		checks.Dependencies["postgres"] = observability.HealthCheckFunc(pool.Ping)
	}
	return checks
}
