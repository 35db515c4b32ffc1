package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/audit"
	"github.com/pitabwire/stepwise/internal/capability"
	"github.com/pitabwire/stepwise/internal/config"
	"github.com/pitabwire/stepwise/internal/definition"
	"github.com/pitabwire/stepwise/internal/dispatch"
	"github.com/pitabwire/stepwise/internal/events"
	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/internal/workflow"
	"github.com/pitabwire/stepwise/model"
)

// runtime is the fully wired engine shared by serve and the instance
// commands.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry

	defs       *definition.Registry
	policy     *capability.StaticPolicy
	res        *resources
	store      workflow.Store
	dispatcher *dispatch.Dispatcher
	bus        *events.Bus
	table      *workflow.Table
	engine     *workflow.Engine
	reaper     *workflow.Reaper

	tracingShutdown func(context.Context) error
}

// loadRuntime reads the config named by path and wires a runtime from it.
func loadRuntime(ctx context.Context, path string) (*runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	// One-shot commands print results on stdout; keep it free of info logs.
	if os.Getenv("STEPWISE_OBSERVABILITY_LOG_LEVEL") == "" {
		cfg.Observability.LogLevel = "warn"
	}
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return rt, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: logger, res: &resources{}}
	defer func() {
		if err != nil {
			rt.abort(ctx)
		}
	}()

	rt.tracingShutdown, err = observability.InitTracing(ctx, cfg.Observability.Tracing, "stepwise", version)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = observability.InitMetrics(rt.registry)

	defs, verrs, err := buildRegistry(cfg.Definitions)
	if err != nil {
		return nil, fmt.Errorf("definitions: %w", err)
	}
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return nil, fmt.Errorf("definitions: %d validation errors", len(verrs))
	}
	rt.defs = defs
	rt.metrics.SetDefinitionsLoaded(defs.Len())

	rt.policy, err = buildPolicy(cfg.Capability)
	if err != nil {
		return nil, err
	}
	var authz model.AuthorizationChecker = rt.policy
	if cfg.Capability.Cache.TTL > 0 {
		authz = capability.NewCachedAuthorizer(rt.policy, cfg.Capability.Cache.TTL,
			capability.WithCacheRecorder(rt.metrics))
	}

	rt.store, err = rt.res.buildStore(ctx, cfg.Workflow.Store, logger)
	if err != nil {
		return nil, err
	}
	sink, err := rt.res.buildAuditSink(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rt.dispatcher = dispatch.New(logger,
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
		dispatch.WithJobTimeout(cfg.Dispatch.JobTimeout),
		dispatch.WithDropHook(rt.metrics.RecordDispatchDropped),
	)
	emitter := audit.NewEmitter(sink, rt.dispatcher, logger)

	pubsub := events.NewGoChannel(cfg.Events.Buffer, logger)
	rt.bus = events.NewBus(pubsub, pubsub, logger)
	if err := rt.bus.Subscribe(ctx, logEvent(logger)); err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}

	rt.table = workflow.NewTable(rt.store)
	rt.engine = workflow.NewEngine(defs, rt.table, authz, rt.policy,
		workflow.WithAudit(emitter),
		workflow.WithEventPublisher(rt.bus),
		workflow.WithDispatcher(rt.dispatcher),
		workflow.WithMetrics(rt.metrics),
		workflow.WithLogger(logger),
	)
	rt.reaper = workflow.NewReaper(rt.table,
		workflow.WithIdleThreshold(cfg.Workflow.IdleThreshold),
		workflow.WithInterval(cfg.Workflow.ReaperInterval),
		workflow.WithEnforceDeadline(cfg.Workflow.EnforceDeadline),
		workflow.WithReaperAudit(emitter),
		workflow.WithReaperMetrics(rt.metrics),
		workflow.WithReaperLogger(logger),
	)
	return rt, nil
}

// abort releases whatever a failed newRuntime managed to build.
func (rt *runtime) abort(ctx context.Context) {
	if rt.dispatcher != nil {
		_ = rt.dispatcher.Close(ctx)
	}
	if rt.bus != nil {
		_ = rt.bus.Close()
	}
	rt.res.close()
	if rt.tracingShutdown != nil {
		_ = rt.tracingShutdown(ctx)
	}
}

// close drains side effects and releases every resource. Queued audit
// records and events are flushed before the stores close.
func (rt *runtime) close(ctx context.Context) {
	rt.reaper.Stop()
	if err := rt.dispatcher.Close(ctx); err != nil {
		rt.logger.Warn("dispatcher did not drain",
			zap.Int("pending", rt.dispatcher.Pending()),
			zap.Error(err),
		)
	}
	if err := rt.bus.Close(); err != nil {
		rt.logger.Error("event bus close error", zap.Error(err))
	}
	rt.res.close()
	if err := rt.tracingShutdown(ctx); err != nil {
		rt.logger.Error("tracing shutdown error", zap.Error(err))
	}
	_ = rt.logger.Sync()
}

// logEvent is the in-process subscriber: it records every domain event with
// the modules it targets.
func logEvent(logger *zap.Logger) events.Handler {
	logger = logger.Named("events")
	return func(ctx context.Context, event model.DomainEvent) error {
		observability.LoggerFrom(ctx, logger).Info("domain event",
			zap.String("type", event.Type),
			zap.String("source", event.SourceModule),
			zap.Strings("targets", event.TargetModules),
			zap.String("trace_id", observability.TraceIDFromContext(ctx)),
		)
		return nil
	}
}
