package model

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"time"
)

// WorkflowDefinition is a declarative step graph. It is immutable once
// registered and shared read-only by every instance started from it.
type WorkflowDefinition struct {
	Name        string
	Title       string
	Description string
	Steps       []StepDefinition
	Transitions []TransitionDefinition
	// Completion decides when an instance is done. Nil means every
	// non-optional step must be completed.
	Completion  Completion
	TargetRoles []string
	// Timeout is advisory: it sets the instance deadline. Zero means no
	// deadline.
	Timeout time.Duration
}

// Clone returns a copy of d that shares no slices with it. Guards, actions
// and the completion predicate are shared; they are immutable strategies.
func (d WorkflowDefinition) Clone() WorkflowDefinition {
	out := d
	out.TargetRoles = slices.Clone(d.TargetRoles)
	out.Steps = make([]StepDefinition, len(d.Steps))
	for i, st := range d.Steps {
		st.Permissions = slices.Clone(st.Permissions)
		st.DependsOn = slices.Clone(st.DependsOn)
		out.Steps[i] = st
	}
	if d.Transitions != nil {
		out.Transitions = make([]TransitionDefinition, len(d.Transitions))
		for i, t := range d.Transitions {
			if t.Validation != nil {
				v := *t.Validation
				t.Validation = &v
			}
			if t.Emit != nil {
				e := EventSpec{Type: t.Emit.Type, TargetModules: slices.Clone(t.Emit.TargetModules)}
				t.Emit = &e
			}
			out.Transitions[i] = t
		}
	}
	return out
}

// EntryStep returns the first step of the definition.
func (d WorkflowDefinition) EntryStep() StepDefinition {
	if len(d.Steps) == 0 {
		return StepDefinition{}
	}
	return d.Steps[0]
}

// Step looks up a step by id.
func (d WorkflowDefinition) Step(id string) (StepDefinition, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// StepIndex returns the position of id in the step list, or -1.
func (d WorkflowDefinition) StepIndex(id string) int {
	for i, s := range d.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// NextStep returns the step that follows id in the plain sequence.
func (d WorkflowDefinition) NextStep(id string) (StepDefinition, bool) {
	i := d.StepIndex(id)
	if i < 0 || i+1 >= len(d.Steps) {
		return StepDefinition{}, false
	}
	return d.Steps[i+1], true
}

// TransitionsFrom returns the transitions leaving id in declaration order.
func (d WorkflowDefinition) TransitionsFrom(id string) []TransitionDefinition {
	var out []TransitionDefinition
	for _, t := range d.Transitions {
		if t.From == id {
			out = append(out, t)
		}
	}
	return out
}

// TargetsRole reports whether role is in TargetRoles. An empty list targets
// every role.
func (d WorkflowDefinition) TargetsRole(role string) bool {
	if len(d.TargetRoles) == 0 {
		return true
	}
	for _, r := range d.TargetRoles {
		if r == role {
			return true
		}
	}
	return false
}

// StepDefinition is a single node of a workflow graph.
type StepDefinition struct {
	ID          string
	Name        string
	Description string
	// RequiredRole, when set, must equal the user's role exactly.
	RequiredRole string
	// Permissions are authorization keys checked with the AuthorizationChecker.
	Permissions []string
	// Resource and Operation drive the ScopeChecker. Both empty skips the
	// scope check.
	Resource  string
	Operation string
	Optional  bool
	DependsOn []string
}

// TransitionDefinition is a directed edge between two steps.
type TransitionDefinition struct {
	From       string
	To         string
	Guard      Guard
	Validation *AuthorizationRequirement
	Action     Action
	Emit       *EventSpec
}

// AuthorizationRequirement gates a transition on the user's data-access scope
// and, optionally, a permission key.
type AuthorizationRequirement struct {
	Resource   string
	Operation  string
	Permission string
}

// EventSpec names the domain event announced when a transition fires.
type EventSpec struct {
	Type          string
	TargetModules []string
}

// Guard decides whether a transition may be taken given the merged step data.
type Guard interface {
	Evaluate(data StepData) (bool, error)
}

// GuardFunc adapts a plain function to Guard.
type GuardFunc func(data StepData) (bool, error)

// Evaluate calls f.
func (f GuardFunc) Evaluate(data StepData) (bool, error) { return f(data) }

// FieldEquals passes when data[Field] equals Value. Numeric values compare
// by magnitude so YAML ints and JSON floats agree.
type FieldEquals struct {
	Field string
	Value any
}

// Evaluate implements Guard.
func (g FieldEquals) Evaluate(data StepData) (bool, error) {
	got, ok := data[g.Field]
	if !ok {
		return false, nil
	}
	if want, isNum := asFloat(g.Value); isNum {
		have, ok := asFloat(got)
		return ok && have == want, nil
	}
	return reflect.DeepEqual(got, g.Value), nil
}

// ActionContext is handed to a transition action.
type ActionContext struct {
	Request  *RequestContext
	Instance WorkflowInstance
	From     string
	To       string
	// Data is the merged step data the guard saw. Writes are kept when the
	// action succeeds.
	Data StepData
}

// Action is the opaque side-effecting callback attached to a transition.
// It runs under the instance's lock and must not call back into the engine
// for the same instance.
type Action interface {
	Run(ctx context.Context, ac ActionContext) error
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context, ac ActionContext) error

// Run calls f.
func (f ActionFunc) Run(ctx context.Context, ac ActionContext) error { return f(ctx, ac) }

// ActionRegistry resolves action names used in definition files.
type ActionRegistry map[string]Action

// Lookup returns the named action or an error naming the missing key.
func (r ActionRegistry) Lookup(name string) (Action, error) {
	a, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("action %q is not registered", name)
	}
	return a, nil
}

// Completion decides whether an instance has finished.
type Completion interface {
	Complete(def WorkflowDefinition, inst WorkflowInstance) (bool, error)
}

// CompletionFunc adapts a plain function to Completion.
type CompletionFunc func(def WorkflowDefinition, inst WorkflowInstance) (bool, error)

// Complete calls f.
func (f CompletionFunc) Complete(def WorkflowDefinition, inst WorkflowInstance) (bool, error) {
	return f(def, inst)
}

// RequiredStepsCompleted is the default completion: every non-optional step
// is in CompletedSteps.
var RequiredStepsCompleted = CompletionFunc(func(def WorkflowDefinition, inst WorkflowInstance) (bool, error) {
	for _, s := range def.Steps {
		if !s.Optional && !inst.HasCompleted(s.ID) {
			return false, nil
		}
	}
	return true, nil
})

// AllStepsCompleted passes when every step, optional or not, is completed.
var AllStepsCompleted = CompletionFunc(func(def WorkflowDefinition, inst WorkflowInstance) (bool, error) {
	return len(inst.CompletedSteps) >= len(def.Steps), nil
})

// IsComplete evaluates the definition's completion predicate, falling back to
// RequiredStepsCompleted.
func (d WorkflowDefinition) IsComplete(inst WorkflowInstance) (bool, error) {
	if d.Completion == nil {
		return RequiredStepsCompleted(d, inst)
	}
	return d.Completion.Complete(d, inst)
}
