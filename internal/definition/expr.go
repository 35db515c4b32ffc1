package definition

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/pitabwire/stepwise/model"
)

// ExprGuard is a Guard compiled from an expr-lang expression. Step data keys
// are available as top-level variables and under "payload", so both
// `approved == true` and `payload.approved == true` work. Unknown variables
// evaluate to nil.
// Compiled programs are safe for concurrent use.
type ExprGuard struct {
	source  string
	program *vm.Program
}

// CompileGuard compiles source into an ExprGuard.
func CompileGuard(source string) (*ExprGuard, error) {
	prg, err := expr.Compile(source,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile guard %q: %w", source, err)
	}
	return &ExprGuard{source: source, program: prg}, nil
}

// Source returns the expression text.
func (g *ExprGuard) Source() string { return g.source }

// Evaluate implements model.Guard.
func (g *ExprGuard) Evaluate(data model.StepData) (bool, error) {
	env := make(map[string]any, len(data)+1)
	for k, v := range data {
		env[k] = v
	}
	env["payload"] = map[string]any(data)

	out, err := vm.Run(g.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate guard %q: %w", g.source, err)
	}
	switch v := out.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("guard %q returned %T, want bool", g.source, out)
	}
}

// completionEnv is the variable set visible to completion expressions.
func completionEnv(def model.WorkflowDefinition, inst model.WorkflowInstance) map[string]any {
	required := 0
	for _, s := range def.Steps {
		if !s.Optional {
			required++
		}
	}
	completed := inst.CompletedSteps
	if completed == nil {
		completed = []string{}
	}
	data := map[string]any(inst.StepData)
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"completed_steps": completed,
		"failed_steps":    len(inst.FailedSteps),
		"total_steps":     len(def.Steps),
		"required_steps":  required,
		"step_data":       data,
		"current_step":    inst.CurrentStep,
	}
}

// ExprCompletion is a Completion compiled from an expr-lang expression over
// completed_steps, failed_steps, total_steps, required_steps, step_data and
// current_step.
type ExprCompletion struct {
	source  string
	program *vm.Program
}

// CompileCompletion compiles source into an ExprCompletion. The expression
// must yield a bool.
func CompileCompletion(source string) (*ExprCompletion, error) {
	prg, err := expr.Compile(source,
		expr.Env(completionEnv(model.WorkflowDefinition{}, model.WorkflowInstance{})),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile completion %q: %w", source, err)
	}
	return &ExprCompletion{source: source, program: prg}, nil
}

// Source returns the expression text.
func (c *ExprCompletion) Source() string { return c.source }

// Complete implements model.Completion.
func (c *ExprCompletion) Complete(def model.WorkflowDefinition, inst model.WorkflowInstance) (bool, error) {
	out, err := vm.Run(c.program, completionEnv(def, inst))
	if err != nil {
		return false, fmt.Errorf("evaluate completion %q: %w", c.source, err)
	}
	done, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("completion %q returned %T, want bool", c.source, out)
	}
	return done, nil
}
