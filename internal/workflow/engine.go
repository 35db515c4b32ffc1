// Package workflow runs workflow instances: it starts them from registered
// definitions, advances them along their transitions, pauses and resumes
// them, and reaps the ones left idle.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/stepwise/internal/audit"
	"github.com/pitabwire/stepwise/internal/definition"
	"github.com/pitabwire/stepwise/internal/dispatch"
	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/internal/reachability"
	"github.com/pitabwire/stepwise/model"
)

const defaultMaxAttempts = 3

// errMoved reports that the instance changed between the unlocked snapshot
// and the locked update.
var errMoved = errors.New("instance moved")

// Option configures an Engine.
type Option func(*Engine)

// WithAudit routes audit records through emitter.
func WithAudit(emitter *audit.Emitter) Option {
	return func(e *Engine) { e.audit = emitter }
}

// WithEventPublisher sets the domain event publisher.
func WithEventPublisher(pub model.EventPublisher) Option {
	return func(e *Engine) { e.events = pub }
}

// WithDispatcher publishes events on the dispatcher's workers instead of
// inline.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithMetrics records engine metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the execution id generator.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithMaxAttempts bounds how often Advance re-reads an instance that moved
// under it before giving up with CONFLICT.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// Engine manages the lifecycle of workflow instances.
type Engine struct {
	defs       *definition.Registry
	table      *Table
	authz      model.AuthorizationChecker
	scope      model.ScopeChecker
	validator  *reachability.Validator
	audit      *audit.Emitter
	events     model.EventPublisher
	dispatcher *dispatch.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
	newID      func() (string, error)

	maxAttempts int
}

// NewEngine creates a new workflow engine.
func NewEngine(
	defs *definition.Registry,
	table *Table,
	authz model.AuthorizationChecker,
	scope model.ScopeChecker,
	opts ...Option,
) *Engine {
	e := &Engine{
		defs:        defs,
		table:       table,
		authz:       authz,
		scope:       scope,
		logger:      zap.NewNop(),
		now:         time.Now,
		newID:       newExecutionID,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("workflow")
	e.validator = reachability.New(defs, authz, scope,
		reachability.WithAudit(e.audit),
		reachability.WithMetrics(e.metrics),
		reachability.WithLogger(e.logger),
		reachability.WithClock(e.now),
	)
	return e
}

func newExecutionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// RegisterDefinition adds def to the definition registry.
func (e *Engine) RegisterDefinition(def model.WorkflowDefinition) error {
	if err := e.defs.Register(def); err != nil {
		return err
	}
	e.metrics.SetDefinitionsLoaded(e.defs.Len())
	return nil
}

// Validate reports which steps of workflow name rctx can reach.
func (e *Engine) Validate(ctx context.Context, rctx *model.RequestContext, name string) (model.ValidationResult, error) {
	return e.validator.Validate(ctx, rctx, name)
}

// Start creates a new instance of workflow name positioned on its entry step.
func (e *Engine) Start(
	ctx context.Context,
	rctx *model.RequestContext,
	name string,
	initial model.StepData,
) (inst model.WorkflowInstance, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.start", observability.AttrWorkflow.String(name))
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := requireCaller(rctx); err != nil {
		e.metrics.RecordDenial("start", model.ErrUnauthorized)
		return model.WorkflowInstance{}, err
	}
	span.SetAttributes(
		observability.AttrUserID.String(rctx.SubjectID),
		observability.AttrRole.String(rctx.Role),
	)
	log := observability.RequestLogger(ctx, rctx, e.logger)

	// 1. Look up workflow definition.
	def, err := e.defs.Get(name)
	if err != nil {
		e.metrics.RecordDenial("start", model.ErrorCode(err))
		return model.WorkflowInstance{}, err
	}

	// 2. The entry step must be reachable for this user.
	result, err := e.validator.Validate(ctx, rctx, name)
	if err != nil {
		return model.WorkflowInstance{}, err
	}
	if !result.EntryReachable() {
		reason := "entry step is blocked"
		if blocked, ok := result.Blocked(result.EntryStep); ok {
			reason = strings.Join(blocked.Reasons, "; ")
		}
		e.metrics.RecordDenial("start", model.ErrUnauthorized)
		log.Warn("workflow start denied",
			zap.String("workflow", name),
			zap.String("entry_step", result.EntryStep),
			zap.String("reason", reason),
		)
		return model.WorkflowInstance{}, model.NewUnauthorizedError(
			fmt.Sprintf("cannot start workflow %q: step %q: %s", name, result.EntryStep, reason),
		)
	}

	// 3. Build the instance.
	id, err := e.newID()
	if err != nil {
		return model.WorkflowInstance{}, model.NewInternalError(fmt.Errorf("generate execution id: %w", err))
	}
	now := e.now().UTC()
	inst = model.WorkflowInstance{
		ID:             id,
		UserID:         rctx.SubjectID,
		WorkflowName:   def.Name,
		CurrentStep:    def.EntryStep().ID,
		CompletedSteps: []string{},
		FailedSteps:    []string{},
		StepData:       initial.Clone(),
		Status:         model.WorkflowStatusActive,
		Role:           rctx.Role,
		CompanyID:      rctx.CompanyID,
		DepartmentID:   rctx.DepartmentID,
		StartedAt:      now,
		LastActivity:   now,
	}
	if def.Timeout > 0 {
		deadline := now.Add(def.Timeout)
		inst.Deadline = &deadline
	}

	// 4. Persist.
	if err := e.table.Create(ctx, inst); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Version = 1
	span.SetAttributes(observability.AttrInstanceID.String(inst.ID))

	// 5. Side effects after commit.
	e.metrics.RecordWorkflowStart(def.Name)
	e.emitAudit(ctx, model.AuditWorkflowStarted, inst, true, map[string]any{
		"entry_step": inst.CurrentStep,
	})
	e.publish(ctx, model.DomainEvent{
		Type:         model.EventWorkflowStarted,
		SourceModule: model.SourceModuleWorkflow,
		Payload: map[string]any{
			"instance_id":   inst.ID,
			"workflow_name": inst.WorkflowName,
			"entry_step":    inst.CurrentStep,
		},
		Context: inst.Scope(),
	})

	log.Info("workflow started",
		zap.String("workflow", def.Name),
		zap.String("instance_id", inst.ID),
		zap.String("step", inst.CurrentStep),
	)
	return inst, nil
}

// advanceOutcome is what the locked part of Advance decided.
type advanceOutcome struct {
	from  string
	fired *model.TransitionDefinition
	kept  bool
}

// Advance completes the current step of instance id and moves it along the
// first passing transition, or to the next step in sequence when none
// applies. On ACTION_FAILED the returned instance is the persisted failed
// one.
func (e *Engine) Advance(
	ctx context.Context,
	rctx *model.RequestContext,
	id string,
	data model.StepData,
) (inst model.WorkflowInstance, err error) {
	start := e.now()
	ctx, span := observability.StartSpan(ctx, "workflow.advance", observability.AttrInstanceID.String(id))
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := requireCaller(rctx); err != nil {
		e.metrics.RecordDenial("advance", model.ErrUnauthorized)
		return model.WorkflowInstance{}, err
	}
	log := observability.RequestLogger(ctx, rctx, e.logger)

	for range e.maxAttempts {
		// 1. Snapshot without the lock.
		snap, err := e.table.Get(ctx, id)
		if err != nil {
			e.metrics.RecordDenial("advance", model.ErrorCode(err))
			return model.WorkflowInstance{}, err
		}
		if err := checkOwner(rctx, snap); err != nil {
			e.metrics.RecordDenial("advance", model.ErrUnauthorized)
			log.Warn("workflow advance denied", zap.String("instance_id", id), zap.Error(err))
			return model.WorkflowInstance{}, err
		}
		if snap.Status != model.WorkflowStatusActive {
			e.metrics.RecordDenial("advance", model.ErrInvalidState)
			return model.WorkflowInstance{}, model.NewInvalidStateError(
				fmt.Sprintf("workflow instance %q is %s, not active", id, snap.Status),
			)
		}

		def, err := e.defs.Get(snap.WorkflowName)
		if err != nil {
			return model.WorkflowInstance{}, model.NewInternalError(
				fmt.Errorf("definition %q of instance %q: %w", snap.WorkflowName, id, err),
			)
		}
		span.SetAttributes(
			observability.AttrWorkflow.String(def.Name),
			observability.AttrStep.String(snap.CurrentStep),
		)

		// 2. Transition validations call external checkers, so they run
		// before the lock against the snapshot's current step.
		transitions := def.TransitionsFrom(snap.CurrentStep)
		denials := e.checkTransitions(ctx, rctx, snap, transitions)

		// 3. Apply under the instance lock.
		var outcome advanceOutcome
		updated, err := e.table.Update(ctx, id, func(cur *model.WorkflowInstance) (bool, error) {
			if cur.CurrentStep != snap.CurrentStep || cur.Status != snap.Status {
				return false, errMoved
			}
			keep, err := e.applyAdvance(ctx, rctx, def, cur, transitions, denials, data, &outcome)
			outcome.kept = keep
			return keep, err
		})
		if errors.Is(err, errMoved) {
			log.Debug("instance moved during advance; retrying", zap.String("instance_id", id))
			continue
		}

		e.afterAdvance(ctx, rctx, def, updated, outcome, err, e.now().Sub(start))
		if err != nil && !model.IsCode(err, model.ErrActionFailed) {
			return model.WorkflowInstance{}, err
		}
		span.SetAttributes(
			observability.AttrToStep.String(updated.CurrentStep),
			observability.AttrStatus.String(string(updated.Status)),
		)
		return updated, err
	}

	e.metrics.RecordDenial("advance", model.ErrConflict)
	return model.WorkflowInstance{}, model.NewConflictError(
		fmt.Sprintf("workflow instance %q kept changing; advance abandoned after %d attempts", id, e.maxAttempts),
	)
}

// checkTransitions returns, per transition, the reason its validation denies
// rctx, or "" when it passes or has none.
func (e *Engine) checkTransitions(
	ctx context.Context,
	rctx *model.RequestContext,
	inst model.WorkflowInstance,
	transitions []model.TransitionDefinition,
) []string {
	denials := make([]string, len(transitions))
	for i, t := range transitions {
		if t.Validation == nil {
			continue
		}
		denials[i] = e.checkRequirement(ctx, rctx, inst, *t.Validation)
	}
	return denials
}

func (e *Engine) checkRequirement(
	ctx context.Context,
	rctx *model.RequestContext,
	inst model.WorkflowInstance,
	req model.AuthorizationRequirement,
) string {
	if req.Permission != "" {
		if e.authz == nil {
			return fmt.Sprintf("permission %q could not be checked: no authorization checker configured", req.Permission)
		}
		ok, err := e.authz.HasPermission(ctx, rctx.Role, req.Permission)
		if err != nil {
			return fmt.Sprintf("permission %q could not be checked: %v", req.Permission, err)
		}
		if !ok {
			return fmt.Sprintf("missing permission %q", req.Permission)
		}
	}
	if req.Resource != "" && req.Operation != "" {
		if e.scope == nil {
			return fmt.Sprintf("scope check for %s:%s failed: no scope checker configured", req.Resource, req.Operation)
		}
		decision, err := e.scope.CheckAccess(ctx, inst.Scope(), req.Resource, req.Operation)
		if err != nil {
			return fmt.Sprintf("scope check for %s:%s failed: %v", req.Resource, req.Operation, err)
		}
		if !decision.Allowed {
			reason := decision.Reason
			if reason == "" {
				reason = "denied"
			}
			return fmt.Sprintf("scope %s:%s: %s", req.Resource, req.Operation, reason)
		}
	}
	return ""
}

// applyAdvance is the locked body of Advance. It reports whether cur must be
// persisted.
func (e *Engine) applyAdvance(
	ctx context.Context,
	rctx *model.RequestContext,
	def model.WorkflowDefinition,
	cur *model.WorkflowInstance,
	transitions []model.TransitionDefinition,
	denials []string,
	data model.StepData,
	outcome *advanceOutcome,
) (bool, error) {
	from := cur.CurrentStep
	outcome.from = from

	cur.MarkCompleted(from)
	cur.ProgressPercentage = progress(def, *cur)
	cur.LastActivity = e.now().UTC()
	merged := cur.StepData.Clone().Merge(data)

	// 1. First transition whose validation and guard pass.
	var fired *model.TransitionDefinition
	for i := range transitions {
		t := transitions[i]
		if denials[i] != "" {
			return true, model.NewValidationFailedError(
				fmt.Sprintf("transition %s -> %s: %s", t.From, t.To, denials[i]),
			)
		}
		if t.Guard != nil {
			ok, err := t.Guard.Evaluate(merged)
			if err != nil {
				return true, model.NewValidationFailedError(
					fmt.Sprintf("transition %s -> %s: guard: %v", t.From, t.To, err),
				)
			}
			if !ok {
				continue
			}
		}
		fired = &t
		break
	}

	// 2. Pick the target step.
	to := from
	if fired != nil {
		to = fired.To
		if fired.Action != nil {
			err := fired.Action.Run(ctx, model.ActionContext{
				Request:  rctx,
				Instance: cur.Clone(),
				From:     from,
				To:       to,
				Data:     merged,
			})
			if err != nil {
				cur.StepData = merged
				cur.MarkFailed(from)
				cur.Status = model.WorkflowStatusFailed
				cur.ProgressPercentage = progress(def, *cur)
				return true, model.NewActionFailedError(from, err)
			}
		}
		outcome.fired = fired
	} else if next, ok := def.NextStep(from); ok {
		to = next.ID
	}

	// 3. Move and recompute.
	cur.StepData = merged
	cur.CurrentStep = to
	cur.ProgressPercentage = progress(def, *cur)

	done, err := def.IsComplete(*cur)
	if err != nil {
		return false, model.NewInternalError(fmt.Errorf("completion of %q: %w", def.Name, err))
	}
	if done && model.CanTransition(cur.Status, model.WorkflowStatusCompleted) {
		cur.Status = model.WorkflowStatusCompleted
	}
	return true, nil
}

// afterAdvance runs the post-commit side effects of one Advance attempt.
func (e *Engine) afterAdvance(
	ctx context.Context,
	rctx *model.RequestContext,
	def model.WorkflowDefinition,
	inst model.WorkflowInstance,
	outcome advanceOutcome,
	err error,
	elapsed time.Duration,
) {
	log := observability.RequestLogger(ctx, rctx, e.logger)
	code := model.ErrorCode(err)

	switch {
	case err == nil && inst.CurrentStep == outcome.from:
		e.metrics.RecordWorkflowAdvance(def.Name, "stayed", elapsed)
	case err == nil:
		e.metrics.RecordWorkflowAdvance(def.Name, "moved", elapsed)
	default:
		e.metrics.RecordWorkflowAdvance(def.Name, code, elapsed)
		e.metrics.RecordDenial("advance", code)
	}

	if !outcome.kept || inst.ID == "" {
		return
	}

	details := map[string]any{
		"from_step":           outcome.from,
		"to_step":             inst.CurrentStep,
		"progress_percentage": inst.ProgressPercentage,
		"status":              string(inst.Status),
	}
	if err != nil {
		details["error_code"] = code
		details["error"] = err.Error()
	}
	e.emitAudit(ctx, model.AuditWorkflowAdvanced, inst, err == nil, details)

	if ce := log.Check(zapcore.DebugLevel, "step data"); ce != nil {
		ce.Write(
			zap.String("instance_id", inst.ID),
			zap.Any("step_data", observability.RedactData(inst.StepData, nil)),
		)
	}

	if outcome.fired != nil && outcome.fired.Emit != nil && err == nil {
		e.publish(ctx, model.DomainEvent{
			Type:          outcome.fired.Emit.Type,
			SourceModule:  model.SourceModuleWorkflow,
			TargetModules: outcome.fired.Emit.TargetModules,
			Payload:       instancePayload(inst, outcome.from),
			Context:       inst.Scope(),
		})
	}

	switch inst.Status {
	case model.WorkflowStatusCompleted:
		e.metrics.RecordWorkflowCompletion(def.Name, string(inst.Status))
		e.publish(ctx, model.DomainEvent{
			Type:         model.EventWorkflowCompleted,
			SourceModule: model.SourceModuleWorkflow,
			Payload:      instancePayload(inst, outcome.from),
			Context:      inst.Scope(),
		})
		log.Info("workflow completed",
			zap.String("workflow", def.Name),
			zap.String("instance_id", inst.ID),
		)
	case model.WorkflowStatusFailed:
		e.metrics.RecordWorkflowCompletion(def.Name, string(inst.Status))
		payload := instancePayload(inst, outcome.from)
		payload["error"] = err.Error()
		e.publish(ctx, model.DomainEvent{
			Type:         model.EventWorkflowFailed,
			SourceModule: model.SourceModuleWorkflow,
			Payload:      payload,
			Context:      inst.Scope(),
		})
		log.Warn("workflow action failed",
			zap.String("workflow", def.Name),
			zap.String("instance_id", inst.ID),
			zap.String("step", outcome.from),
			zap.Error(err),
		)
	default:
		if err != nil {
			log.Warn("workflow advance rejected",
				zap.String("instance_id", inst.ID),
				zap.String("step", outcome.from),
				zap.Error(err),
			)
			return
		}
		log.Info("workflow advanced",
			zap.String("instance_id", inst.ID),
			zap.String("from", outcome.from),
			zap.String("to", inst.CurrentStep),
			zap.Float64("progress", inst.ProgressPercentage),
		)
	}
}

// Pause moves an active instance owned by rctx to paused.
func (e *Engine) Pause(ctx context.Context, rctx *model.RequestContext, id string) (model.WorkflowInstance, error) {
	return e.setStatus(ctx, rctx, id, "workflow.pause", model.WorkflowStatusPaused, model.AuditWorkflowPaused)
}

// Resume moves a paused instance owned by rctx back to active.
func (e *Engine) Resume(ctx context.Context, rctx *model.RequestContext, id string) (model.WorkflowInstance, error) {
	return e.setStatus(ctx, rctx, id, "workflow.resume", model.WorkflowStatusActive, model.AuditWorkflowResumed)
}

func (e *Engine) setStatus(
	ctx context.Context,
	rctx *model.RequestContext,
	id, spanName string,
	target model.WorkflowStatus,
	action string,
) (inst model.WorkflowInstance, err error) {
	ctx, span := observability.StartSpan(ctx, spanName, observability.AttrInstanceID.String(id))
	defer func() { observability.EndSpanWithError(span, err) }()

	op := strings.TrimPrefix(spanName, "workflow.")
	if err := requireCaller(rctx); err != nil {
		e.metrics.RecordDenial(op, model.ErrUnauthorized)
		return model.WorkflowInstance{}, err
	}

	inst, err = e.table.Update(ctx, id, func(cur *model.WorkflowInstance) (bool, error) {
		if err := checkOwner(rctx, *cur); err != nil {
			return false, err
		}
		if !isResumeOrPause(cur.Status, target) {
			return false, model.NewInvalidStateError(
				fmt.Sprintf("workflow instance %q is %s; cannot %s", id, cur.Status, op),
			)
		}
		cur.Status = target
		cur.LastActivity = e.now().UTC()
		return true, nil
	})
	if err != nil {
		e.metrics.RecordDenial(op, model.ErrorCode(err))
		return model.WorkflowInstance{}, err
	}

	e.emitAudit(ctx, action, inst, true, map[string]any{
		"step":   inst.CurrentStep,
		"status": string(inst.Status),
	})
	observability.RequestLogger(ctx, rctx, e.logger).Info("workflow "+op+"d",
		zap.String("instance_id", inst.ID),
		zap.String("status", string(inst.Status)),
	)
	return inst, nil
}

// isResumeOrPause limits user-driven status changes to active <-> paused.
// Abandonment out of paused belongs to the reaper.
func isResumeOrPause(from, to model.WorkflowStatus) bool {
	switch to {
	case model.WorkflowStatusPaused:
		return from == model.WorkflowStatusActive && model.CanTransition(from, to)
	case model.WorkflowStatusActive:
		return from == model.WorkflowStatusPaused && model.CanTransition(from, to)
	default:
		return false
	}
}

// Get returns instance id.
func (e *Engine) Get(ctx context.Context, id string) (model.WorkflowInstance, error) {
	return e.table.Get(ctx, id)
}

// ListActiveForUser returns the non-terminal instances of userID ordered by
// start time.
func (e *Engine) ListActiveForUser(ctx context.Context, userID string) ([]model.WorkflowInstance, error) {
	return e.table.List(ctx, Filter{UserID: userID, Statuses: NonTerminal})
}

// Acknowledge removes a terminal instance owned by rctx.
func (e *Engine) Acknowledge(ctx context.Context, rctx *model.RequestContext, id string) (err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.acknowledge", observability.AttrInstanceID.String(id))
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := requireCaller(rctx); err != nil {
		return err
	}

	inst, err := e.table.Remove(ctx, id, func(cur *model.WorkflowInstance) error {
		if err := checkOwner(rctx, *cur); err != nil {
			return err
		}
		if !cur.Status.IsTerminal() {
			return model.NewInvalidStateError(
				fmt.Sprintf("workflow instance %q is %s; only finished instances can be acknowledged", id, cur.Status),
			)
		}
		return nil
	})
	if err != nil {
		e.metrics.RecordDenial("acknowledge", model.ErrorCode(err))
		return err
	}

	e.emitAudit(ctx, model.AuditWorkflowAcknowledged, inst, true, map[string]any{
		"status": string(inst.Status),
	})
	return nil
}

func (e *Engine) emitAudit(ctx context.Context, action string, inst model.WorkflowInstance, success bool, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["workflow_name"] = inst.WorkflowName
	e.audit.Emit(ctx, model.AuditEvent{
		Action:     action,
		Resource:   model.ResourceWorkflowInstance,
		ResourceID: inst.ID,
		Success:    success,
		Actor:      inst.Scope(),
		Details:    details,
		Timestamp:  e.now().UTC(),
	})
}

// publish announces event after commit. Failures are logged, never
// returned.
func (e *Engine) publish(ctx context.Context, event model.DomainEvent) {
	if e.events == nil {
		return
	}
	send := func(ctx context.Context) error {
		return e.events.Publish(ctx, event)
	}
	if e.dispatcher != nil {
		e.dispatcher.Submit(ctx, "event:"+event.Type, send)
		return
	}
	if err := send(ctx); err != nil {
		e.logger.Warn("event publish failed",
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}

func instancePayload(inst model.WorkflowInstance, from string) map[string]any {
	return map[string]any{
		"instance_id":         inst.ID,
		"workflow_name":       inst.WorkflowName,
		"from_step":           from,
		"to_step":             inst.CurrentStep,
		"progress_percentage": inst.ProgressPercentage,
		"status":              string(inst.Status),
	}
}

func progress(def model.WorkflowDefinition, inst model.WorkflowInstance) float64 {
	if len(def.Steps) == 0 {
		return 0
	}
	p := float64(len(inst.CompletedSteps)) / float64(len(def.Steps)) * 100
	if p > 100 {
		return 100
	}
	return p
}

func requireCaller(rctx *model.RequestContext) error {
	if rctx == nil {
		return model.NewUnauthorizedError("request context is required")
	}
	if err := rctx.Validate(); err != nil {
		return model.NewUnauthorizedError(err.Error())
	}
	return nil
}

func checkOwner(rctx *model.RequestContext, inst model.WorkflowInstance) error {
	if inst.UserID != rctx.SubjectID {
		return model.NewUnauthorizedError(
			fmt.Sprintf("workflow instance %q belongs to another user", inst.ID),
		)
	}
	return nil
}
