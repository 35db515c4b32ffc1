package workflow

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/pitabwire/stepwise/model"
)

// Store persists workflow instances by execution id. Implementations must not
// share mutable state with callers: values are copied on the way in and out.
type Store interface {
	// Get returns the instance with id, or NOT_FOUND.
	Get(ctx context.Context, id string) (model.WorkflowInstance, error)

	// Put creates or replaces an instance. inst.Version is the version being
	// written; a stored instance must be at inst.Version-1 or Put fails with
	// CONFLICT.
	Put(ctx context.Context, inst model.WorkflowInstance) error

	// Delete removes the instance with id. Deleting a missing instance
	// returns NOT_FOUND.
	Delete(ctx context.Context, id string) error

	// List returns the instances matching filter ordered by StartedAt.
	List(ctx context.Context, filter Filter) ([]model.WorkflowInstance, error)
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	UserID       string
	WorkflowName string
	Statuses     []model.WorkflowStatus
	// IdleBefore matches instances whose LastActivity is before it.
	IdleBefore time.Time
}

// Matches reports whether inst satisfies every set field of f.
func (f Filter) Matches(inst model.WorkflowInstance) bool {
	if f.UserID != "" && inst.UserID != f.UserID {
		return false
	}
	if f.WorkflowName != "" && inst.WorkflowName != f.WorkflowName {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, inst.Status) {
		return false
	}
	if !f.IdleBefore.IsZero() && !inst.LastActivity.Before(f.IdleBefore) {
		return false
	}
	return true
}

// NonTerminal are the statuses an instance can still leave.
var NonTerminal = []model.WorkflowStatus{model.WorkflowStatusActive, model.WorkflowStatusPaused}

func sortByStart(instances []model.WorkflowInstance) {
	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].StartedAt.Equal(instances[j].StartedAt) {
			return instances[i].ID < instances[j].ID
		}
		return instances[i].StartedAt.Before(instances[j].StartedAt)
	})
}
