package model

import (
	"slices"
	"time"
)

// WorkflowStatus is the lifecycle state of a workflow instance.
type WorkflowStatus string

// Workflow instance status constants.
const (
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusAbandoned WorkflowStatus = "abandoned"
)

// validStatusTransitions lists the allowed target states for each source state.
// Terminal states have no entry.
var validStatusTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusActive: {
		WorkflowStatusPaused,
		WorkflowStatusCompleted,
		WorkflowStatusFailed,
		WorkflowStatusAbandoned,
	},
	WorkflowStatusPaused: {
		WorkflowStatusActive,
		WorkflowStatusAbandoned,
	},
}

// IsTerminal reports whether no transition leaves the status.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed || s == WorkflowStatusAbandoned
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to WorkflowStatus) bool {
	return slices.Contains(validStatusTransitions[from], to)
}

// WorkflowInstance is one live run of a definition for one user.
type WorkflowInstance struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	WorkflowName       string         `json:"workflow_name"`
	CurrentStep        string         `json:"current_step"`
	CompletedSteps     []string       `json:"completed_steps"`
	FailedSteps        []string       `json:"failed_steps"`
	StepData           StepData       `json:"step_data,omitempty"`
	Status             WorkflowStatus `json:"status"`
	ProgressPercentage float64        `json:"progress_percentage"`
	Role               string         `json:"role"`
	CompanyID          string         `json:"company_id,omitempty"`
	DepartmentID       string         `json:"department_id,omitempty"`
	StartedAt          time.Time      `json:"started_at"`
	LastActivity       time.Time      `json:"last_activity"`
	Deadline           *time.Time     `json:"deadline,omitempty"`
	Version            int            `json:"version"`
}

// Clone returns a deep copy that shares no mutable state with inst.
func (inst WorkflowInstance) Clone() WorkflowInstance {
	out := inst
	out.CompletedSteps = slices.Clone(inst.CompletedSteps)
	out.FailedSteps = slices.Clone(inst.FailedSteps)
	out.StepData = inst.StepData.Clone()
	if inst.Deadline != nil {
		d := *inst.Deadline
		out.Deadline = &d
	}
	return out
}

// HasCompleted reports whether stepID is in CompletedSteps.
func (inst WorkflowInstance) HasCompleted(stepID string) bool {
	return slices.Contains(inst.CompletedSteps, stepID)
}

// MarkCompleted appends stepID to CompletedSteps unless already present.
func (inst *WorkflowInstance) MarkCompleted(stepID string) {
	if !inst.HasCompleted(stepID) {
		inst.CompletedSteps = append(inst.CompletedSteps, stepID)
	}
}

// MarkFailed adds stepID to FailedSteps unless already present.
func (inst *WorkflowInstance) MarkFailed(stepID string) {
	if !slices.Contains(inst.FailedSteps, stepID) {
		inst.FailedSteps = append(inst.FailedSteps, stepID)
	}
}

// Scope returns the scope snapshot taken when the instance started.
func (inst WorkflowInstance) Scope() ScopeContext {
	return ScopeContext{
		UserID:       inst.UserID,
		Role:         inst.Role,
		CompanyID:    inst.CompanyID,
		DepartmentID: inst.DepartmentID,
	}
}

// StepData is the accumulated free-form data of an instance. Values come from
// callers; the typed accessors never panic on a missing or mistyped key.
type StepData map[string]any

// Clone returns a deep copy of the map. Nested maps and slices are copied so
// the clone shares no mutable state with d.
func (d StepData) Clone() StepData {
	if d == nil {
		return nil
	}
	out := make(StepData, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge copies every key of other into d, allocating d if needed. Values are
// deep-copied.
func (d StepData) Merge(other map[string]any) StepData {
	if d == nil {
		d = make(StepData, len(other))
	}
	for k, v := range other {
		d[k] = cloneValue(v)
	}
	return d
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case StepData:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e).(map[string]any)
		}
		return out
	default:
		return v
	}
}

// Has reports whether key is present.
func (d StepData) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Bool returns the boolean value at key and whether it was a bool.
func (d StepData) Bool(key string) (bool, bool) {
	v, ok := d[key].(bool)
	return v, ok
}

// String returns the string value at key and whether it was a string.
func (d StepData) String(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

// Float returns the numeric value at key as float64. Integers decoded from
// YAML or JSON are accepted.
func (d StepData) Float(key string) (float64, bool) {
	return asFloat(d[key])
}

func asFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Int returns the numeric value at key truncated to int.
func (d StepData) Int(key string) (int, bool) {
	f, ok := d.Float(key)
	return int(f), ok
}

// StepAccess describes a step the user can reach.
type StepAccess struct {
	StepID   string `json:"step_id"`
	Name     string `json:"name"`
	Optional bool   `json:"optional,omitempty"`
}

// BlockedStep describes a step the user cannot reach and why.
type BlockedStep struct {
	StepID  string   `json:"step_id"`
	Name    string   `json:"name"`
	Reasons []string `json:"reasons"`
}

// ValidationResult is the per-workflow accessibility report for one user.
// It is produced fresh on every call and never stored.
type ValidationResult struct {
	WorkflowName       string        `json:"workflow_name"`
	EntryStep          string        `json:"entry_step"`
	ReachableSteps     []StepAccess  `json:"reachable_steps"`
	BlockedSteps       []BlockedStep `json:"blocked_steps"`
	MissingPermissions []string      `json:"missing_permissions"`
	Recommendations    []string      `json:"recommendations"`
	EstimatedMinutes   int           `json:"estimated_minutes"`
	SuccessProbability float64       `json:"success_probability"`
}

// IsReachable reports whether stepID is among the reachable steps.
func (r ValidationResult) IsReachable(stepID string) bool {
	for _, s := range r.ReachableSteps {
		if s.StepID == stepID {
			return true
		}
	}
	return false
}

// EntryReachable reports whether the definition's entry step is reachable.
func (r ValidationResult) EntryReachable() bool {
	return r.EntryStep != "" && r.IsReachable(r.EntryStep)
}

// Blocked returns the blocked entry for stepID, if any.
func (r ValidationResult) Blocked(stepID string) (BlockedStep, bool) {
	for _, b := range r.BlockedSteps {
		if b.StepID == stepID {
			return b, true
		}
	}
	return BlockedStep{}, false
}
