package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/pitabwire/stepwise/model"
)

// MemoryStore is an in-process Store. It is the default backend and the one
// used by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: make(map[string]model.WorkflowInstance)}
}

// Get returns a deep copy of the stored instance.
func (s *MemoryStore) Get(_ context.Context, id string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return model.WorkflowInstance{}, notFound(id)
	}
	return inst.Clone(), nil
}

// Put stores a deep copy of inst after the version check.
func (s *MemoryStore) Put(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.instances[inst.ID]; ok && existing.Version != inst.Version-1 {
		return versionConflict(inst.ID, inst.Version-1, existing.Version)
	}
	s.instances[inst.ID] = inst.Clone()
	return nil
}

// Delete removes the instance.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[id]; !ok {
		return notFound(id)
	}
	delete(s.instances, id)
	return nil
}

// List returns deep copies of the matching instances.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.WorkflowInstance{}
	for _, inst := range s.instances {
		if filter.Matches(inst) {
			result = append(result, inst.Clone())
		}
	}
	sortByStart(result)
	return result, nil
}

// Len returns the number of stored instances. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

func notFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("workflow instance %q not found", id))
}

func versionConflict(id string, expected, actual int) error {
	return model.NewConflictError(
		fmt.Sprintf("workflow instance %q version conflict (expected %d, got %d)", id, expected, actual),
	)
}

var _ Store = (*MemoryStore)(nil)
