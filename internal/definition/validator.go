package definition

import (
	"fmt"

	"github.com/pitabwire/stepwise/model"
)

// VError describes a single validation error in a definition document.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// CheckDefinition verifies the structural invariants of a compiled
// definition: a name, a non-empty step list with unique ids, and transitions
// and dependencies that only reference known steps.
func CheckDefinition(def model.WorkflowDefinition) []model.FieldError {
	var errs []model.FieldError

	if def.Name == "" {
		errs = append(errs, model.FieldError{Field: "name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(def.Steps) == 0 {
		errs = append(errs, model.FieldError{Field: "steps", Code: "REQUIRED", Message: "at least one step is required"})
	}
	if def.Timeout < 0 {
		errs = append(errs, model.FieldError{Field: "timeout", Code: "INVALID", Message: "timeout must not be negative"})
	}

	stepIDs := make(map[string]bool, len(def.Steps))
	for i, s := range def.Steps {
		field := fmt.Sprintf("steps[%d].id", i)
		if s.ID == "" {
			errs = append(errs, model.FieldError{Field: field, Code: "REQUIRED", Message: "step id is required"})
			continue
		}
		if stepIDs[s.ID] {
			errs = append(errs, model.FieldError{Field: field, Code: "DUPLICATE", Message: fmt.Sprintf("step %q is declared twice", s.ID)})
		}
		stepIDs[s.ID] = true
		if (s.Resource == "") != (s.Operation == "") {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("steps[%d]", i),
				Code:    "INVALID",
				Message: "resource and operation must be set together",
			})
		}
	}

	for i, s := range def.Steps {
		for j, dep := range s.DependsOn {
			if !stepIDs[dep] {
				errs = append(errs, model.FieldError{
					Field:   fmt.Sprintf("steps[%d].depends_on[%d]", i, j),
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("step %q not found", dep),
				})
			}
		}
	}

	for i, tr := range def.Transitions {
		tp := fmt.Sprintf("transitions[%d]", i)
		if !stepIDs[tr.From] {
			errs = append(errs, model.FieldError{Field: tp + ".from", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("step %q not found", tr.From)})
		}
		if !stepIDs[tr.To] {
			errs = append(errs, model.FieldError{Field: tp + ".to", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("step %q not found", tr.To)})
		}
		if v := tr.Validation; v != nil && v.Resource == "" && v.Permission == "" {
			errs = append(errs, model.FieldError{Field: tp + ".validation", Code: "REQUIRED", Message: "validation needs a resource or a permission"})
		} else if v != nil && (v.Resource == "") != (v.Operation == "") {
			errs = append(errs, model.FieldError{Field: tp + ".validation", Code: "INVALID", Message: "resource and operation must be set together"})
		}
		if e := tr.Emit; e != nil && e.Type == "" {
			errs = append(errs, model.FieldError{Field: tp + ".emit.type", Code: "REQUIRED", Message: "event type is required"})
		}
	}

	return errs
}
