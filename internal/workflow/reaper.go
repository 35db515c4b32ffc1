package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/audit"
	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/model"
)

// Reaper defaults.
const (
	DefaultIdleThreshold  = 2 * time.Hour
	DefaultReaperInterval = time.Hour
)

// Abandonment reasons recorded on metrics and audit records.
const (
	ReasonIdle     = "idle"
	ReasonDeadline = "deadline"
)

// errNotReapable reports that an instance no longer qualifies once locked.
var errNotReapable = errors.New("instance no longer reapable")

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithIdleThreshold sets how long an instance may go without activity.
func WithIdleThreshold(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.threshold = d
		}
	}
}

// WithInterval sets the sweep period used by Start.
func WithInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithEnforceDeadline also reaps instances past their deadline.
func WithEnforceDeadline(enforce bool) ReaperOption {
	return func(r *Reaper) { r.enforceDeadline = enforce }
}

// WithReaperAudit routes abandonment records through emitter.
func WithReaperAudit(emitter *audit.Emitter) ReaperOption {
	return func(r *Reaper) { r.audit = emitter }
}

// WithReaperMetrics records sweep metrics.
func WithReaperMetrics(m *observability.Metrics) ReaperOption {
	return func(r *Reaper) { r.metrics = m }
}

// WithReaperLogger sets the logger.
func WithReaperLogger(logger *zap.Logger) ReaperOption {
	return func(r *Reaper) { r.logger = logger }
}

// WithReaperClock overrides time.Now for scheduled sweeps and audit
// timestamps.
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

// Reaper abandons and removes instances nobody has touched for longer than
// the idle threshold.
type Reaper struct {
	table           *Table
	threshold       time.Duration
	interval        time.Duration
	enforceDeadline bool
	audit           *audit.Emitter
	metrics         *observability.Metrics
	logger          *zap.Logger
	now             func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReaper creates a Reaper over table.
func NewReaper(table *Table, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		table:     table,
		threshold: DefaultIdleThreshold,
		interval:  DefaultReaperInterval,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("reaper")
	return r
}

// reason returns why inst should be reaped at now, or "".
func (r *Reaper) reason(inst model.WorkflowInstance, now time.Time) string {
	if inst.Status.IsTerminal() {
		return ""
	}
	if now.Sub(inst.LastActivity) > r.threshold {
		return ReasonIdle
	}
	if r.enforceDeadline && inst.Deadline != nil && now.After(*inst.Deadline) {
		return ReasonDeadline
	}
	return ""
}

// Sweep abandons and deletes every qualifying instance. Each candidate is
// re-checked under its lock, so an instance touched since the listing
// survives. Per-instance failures are logged and skipped. It returns the
// number of instances reaped.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (reaped int, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "workflow.reap")
	defer func() {
		span.SetAttributes(observability.AttrReaped.Int(reaped))
		observability.EndSpanWithError(span, err)
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.RecordReaperSweep(status, time.Since(start))
	}()

	filter := Filter{Statuses: NonTerminal}
	if !r.enforceDeadline {
		filter.IdleBefore = now.Add(-r.threshold)
	}
	candidates, err := r.table.List(ctx, filter)
	if err != nil {
		r.logger.Error("reaper sweep failed", zap.Error(err))
		return 0, fmt.Errorf("list reap candidates: %w", err)
	}

	for _, candidate := range candidates {
		if r.reason(candidate, now) == "" {
			continue
		}

		var why string
		inst, err := r.table.Remove(ctx, candidate.ID, func(cur *model.WorkflowInstance) error {
			why = r.reason(*cur, now)
			if why == "" || !model.CanTransition(cur.Status, model.WorkflowStatusAbandoned) {
				return errNotReapable
			}
			cur.Status = model.WorkflowStatusAbandoned
			return nil
		})
		switch {
		case errors.Is(err, errNotReapable), model.IsCode(err, model.ErrNotFound):
			r.logger.Debug("reap candidate skipped", zap.String("instance_id", candidate.ID))
			continue
		case err != nil:
			r.logger.Warn("reap failed", zap.String("instance_id", candidate.ID), zap.Error(err))
			continue
		}

		reaped++
		r.metrics.RecordWorkflowAbandoned(inst.WorkflowName, why)
		r.audit.Emit(ctx, model.AuditEvent{
			Action:     model.AuditWorkflowAbandoned,
			Resource:   model.ResourceWorkflowInstance,
			ResourceID: inst.ID,
			Success:    true,
			Actor:      inst.Scope(),
			Details: map[string]any{
				"workflow_name": inst.WorkflowName,
				"step":          inst.CurrentStep,
				"reason":        why,
				"last_activity": inst.LastActivity,
			},
			Timestamp: r.now().UTC(),
		})
	}

	r.logger.Info("reaper sweep finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("reaped", reaped),
	)
	return reaped, nil
}

// Start schedules Sweep every interval until Stop is called or ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return
	}

	logger := cronLogger{r.logger.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))
	c.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		_, _ = r.Sweep(ctx, r.now())
	}))
	c.Start()
	r.cron = c

	r.logger.Info("reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("idle_threshold", r.threshold),
		zap.Bool("enforce_deadline", r.enforceDeadline),
	)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("reaper stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
