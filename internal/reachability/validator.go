// Package reachability computes, for a user and a workflow definition, which
// steps the user's role and data-access scope permit. It never mutates state.
package reachability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/audit"
	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/model"
)

// MinutesPerStep is the linear estimate applied to each reachable step.
const MinutesPerStep = 5

// Definitions is the read side of the definition registry.
type Definitions interface {
	Get(name string) (model.WorkflowDefinition, error)
	All() []model.WorkflowDefinition
}

// Option configures a Validator.
type Option func(*Validator)

// WithAudit routes the per-validation audit record through emitter.
func WithAudit(emitter *audit.Emitter) Option {
	return func(v *Validator) { v.audit = emitter }
}

// WithMetrics records validation counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithClock overrides time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// Validator evaluates step reachability against an authorization checker and
// a scope checker.
type Validator struct {
	defs    Definitions
	authz   model.AuthorizationChecker
	scope   model.ScopeChecker
	audit   *audit.Emitter
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Validator.
func New(defs Definitions, authz model.AuthorizationChecker, scope model.ScopeChecker, opts ...Option) *Validator {
	v := &Validator{
		defs:   defs,
		authz:  authz,
		scope:  scope,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate computes the ValidationResult of workflow name for rctx and emits
// one workflow.validated audit record.
func (v *Validator) Validate(ctx context.Context, rctx *model.RequestContext, name string) (model.ValidationResult, error) {
	if rctx == nil {
		return model.ValidationResult{}, model.NewUnauthorizedError("request context is required")
	}
	if err := rctx.Validate(); err != nil {
		return model.ValidationResult{}, model.NewUnauthorizedError(err.Error())
	}

	def, err := v.defs.Get(name)
	if err != nil {
		return model.ValidationResult{}, err
	}

	ctx, span := observability.StartSpan(ctx, "workflow.validate",
		observability.AttrWorkflow.String(name),
		observability.AttrRole.String(rctx.Role),
	)
	defer span.End()

	result := v.evaluate(ctx, rctx, def)

	v.metrics.RecordValidation(def.Name, result.EntryReachable())
	v.audit.Emit(ctx, model.AuditEvent{
		Action:     model.AuditWorkflowValidated,
		Resource:   model.ResourceWorkflowDefinition,
		ResourceID: def.Name,
		Success:    true,
		Actor:      rctx.Scope(),
		Details: map[string]any{
			"reachable_steps":     len(result.ReachableSteps),
			"blocked_steps":       len(result.BlockedSteps),
			"success_probability": result.SuccessProbability,
		},
		Timestamp: v.now().UTC(),
	})

	observability.RequestLogger(ctx, rctx, v.logger).Debug("workflow validated",
		zap.String("workflow", def.Name),
		zap.Int("reachable", len(result.ReachableSteps)),
		zap.Int("blocked", len(result.BlockedSteps)),
	)

	return result, nil
}

// AuditRole validates every registered definition for a synthetic user of
// role within scope. It answers what the role could do without starting
// anything.
func (v *Validator) AuditRole(ctx context.Context, role string, scope model.ScopeContext) ([]model.ValidationResult, error) {
	subject := scope.UserID
	if subject == "" {
		subject = "audit:" + role
	}
	rctx := &model.RequestContext{
		SubjectID:    subject,
		Role:         role,
		CompanyID:    scope.CompanyID,
		DepartmentID: scope.DepartmentID,
	}

	defs := v.defs.All()
	results := make([]model.ValidationResult, 0, len(defs))
	for _, def := range defs {
		res, err := v.Validate(ctx, rctx, def.Name)
		if err != nil {
			return nil, fmt.Errorf("audit role %q on %q: %w", role, def.Name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// EntryReachable reports whether the entry step of the validated definition
// is reachable.
func EntryReachable(result model.ValidationResult) bool {
	return result.EntryReachable()
}

func (v *Validator) evaluate(ctx context.Context, rctx *model.RequestContext, def model.WorkflowDefinition) model.ValidationResult {
	result := model.ValidationResult{
		WorkflowName:       def.Name,
		EntryStep:          def.EntryStep().ID,
		ReachableSteps:     []model.StepAccess{},
		BlockedSteps:       []model.BlockedStep{},
		MissingPermissions: []string{},
		Recommendations:    []string{},
	}

	if !def.TargetsRole(rctx.Role) {
		result.Recommendations = append(result.Recommendations, fmt.Sprintf(
			"workflow %q targets roles [%s]; role %q is not among them",
			def.Name, strings.Join(def.TargetRoles, ", "), rctx.Role,
		))
	}

	missing := make(map[string]bool)
	required, reachableRequired := 0, 0

	for _, step := range def.Steps {
		reasons, denied := v.checkStep(ctx, rctx, step)
		for _, p := range denied {
			if !missing[p] {
				missing[p] = true
				result.MissingPermissions = append(result.MissingPermissions, p)
			}
		}

		if !step.Optional {
			required++
		}
		if len(reasons) == 0 {
			result.ReachableSteps = append(result.ReachableSteps, model.StepAccess{
				StepID:   step.ID,
				Name:     step.Name,
				Optional: step.Optional,
			})
			if !step.Optional {
				reachableRequired++
			}
			continue
		}

		result.BlockedSteps = append(result.BlockedSteps, model.BlockedStep{
			StepID:  step.ID,
			Name:    step.Name,
			Reasons: reasons,
		})
		result.Recommendations = append(result.Recommendations, recommendation(step, rctx.Role, denied))
	}

	result.EstimatedMinutes = MinutesPerStep * len(result.ReachableSteps)
	if required == 0 {
		result.SuccessProbability = 100
	} else {
		result.SuccessProbability = float64(reachableRequired) / float64(required) * 100
	}
	return result
}

// checkStep returns the reasons step is blocked and the permission keys that
// were denied. Checker errors count as denials.
func (v *Validator) checkStep(ctx context.Context, rctx *model.RequestContext, step model.StepDefinition) (reasons, denied []string) {
	if step.RequiredRole != "" && step.RequiredRole != rctx.Role {
		reasons = append(reasons, fmt.Sprintf("requires role %q", step.RequiredRole))
	}

	for _, perm := range step.Permissions {
		ok, err := v.hasPermission(ctx, rctx.Role, perm)
		switch {
		case err != nil:
			reasons = append(reasons, fmt.Sprintf("permission %q could not be checked: %v", perm, err))
			denied = append(denied, perm)
		case !ok:
			reasons = append(reasons, fmt.Sprintf("missing permission %q", perm))
			denied = append(denied, perm)
		}
	}

	if step.Resource != "" && step.Operation != "" {
		decision, err := v.checkAccess(ctx, rctx.Scope(), step.Resource, step.Operation)
		switch {
		case err != nil:
			reasons = append(reasons, fmt.Sprintf("scope check for %s:%s failed: %v", step.Resource, step.Operation, err))
		case !decision.Allowed:
			reason := decision.Reason
			if reason == "" {
				reason = "denied"
			}
			reasons = append(reasons, fmt.Sprintf("scope %s:%s: %s", step.Resource, step.Operation, reason))
		}
	}

	return reasons, denied
}

func (v *Validator) hasPermission(ctx context.Context, role, perm string) (bool, error) {
	if v.authz == nil {
		return false, fmt.Errorf("no authorization checker configured")
	}
	return v.authz.HasPermission(ctx, role, perm)
}

func (v *Validator) checkAccess(ctx context.Context, scope model.ScopeContext, resource, operation string) (model.AccessDecision, error) {
	if v.scope == nil {
		return model.AccessDecision{}, fmt.Errorf("no scope checker configured")
	}
	return v.scope.CheckAccess(ctx, scope, resource, operation)
}

func recommendation(step model.StepDefinition, role string, denied []string) string {
	switch {
	case step.RequiredRole != "" && step.RequiredRole != role:
		return fmt.Sprintf("step %q is performed by role %q; hand it off or switch role", step.ID, step.RequiredRole)
	case len(denied) > 0:
		return fmt.Sprintf("grant %s to role %q to unlock step %q", strings.Join(denied, ", "), role, step.ID)
	default:
		return fmt.Sprintf("widen the data-access scope of role %q for %s:%s to unlock step %q",
			role, step.Resource, step.Operation, step.ID)
	}
}
