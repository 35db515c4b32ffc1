package workflow

import (
	"context"
	"sync"

	"github.com/pitabwire/stepwise/model"
)

// KeyedMutex hands out one mutex per key. Entries are reference counted and
// dropped when the last holder unlocks.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates a KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is held and returns its unlock function.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// UpdateFunc mutates inst in place. When keep is false the mutation is
// discarded. err is handed back to the caller of Update in both cases.
type UpdateFunc func(inst *model.WorkflowInstance) (keep bool, err error)

// Table serializes every read-modify-write of one execution id.
type Table struct {
	store Store
	locks *KeyedMutex
}

// NewTable wraps store with per-id locking.
func NewTable(store Store) *Table {
	return &Table{store: store, locks: NewKeyedMutex()}
}

// Store returns the underlying store.
func (t *Table) Store() Store { return t.store }

// Get reads an instance without locking.
func (t *Table) Get(ctx context.Context, id string) (model.WorkflowInstance, error) {
	return t.store.Get(ctx, id)
}

// List reads instances without locking.
func (t *Table) List(ctx context.Context, filter Filter) ([]model.WorkflowInstance, error) {
	return t.store.List(ctx, filter)
}

// Create stores a new instance at version 1.
func (t *Table) Create(ctx context.Context, inst model.WorkflowInstance) error {
	unlock := t.locks.Lock(inst.ID)
	defer unlock()

	inst.Version = 1
	return t.store.Put(ctx, inst)
}

// Update runs fn against the stored instance while holding the id's lock and
// persists the result when fn keeps it. It returns the persisted instance,
// or the unmodified one when fn discarded its changes, together with fn's
// error. A store failure returns the zero instance. fn must not block on I/O.
func (t *Table) Update(ctx context.Context, id string, fn UpdateFunc) (model.WorkflowInstance, error) {
	unlock := t.locks.Lock(id)
	defer unlock()

	current, err := t.store.Get(ctx, id)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	next := current.Clone()
	keep, fnErr := fn(&next)
	if !keep {
		return current, fnErr
	}

	next.ID = current.ID
	next.Version = current.Version + 1
	if err := t.store.Put(ctx, next); err != nil {
		return model.WorkflowInstance{}, err
	}
	return next, fnErr
}

// Remove runs fn against the stored instance under the id's lock and deletes
// the instance when fn returns nil. It returns the instance as fn left it.
func (t *Table) Remove(ctx context.Context, id string, fn func(inst *model.WorkflowInstance) error) (model.WorkflowInstance, error) {
	unlock := t.locks.Lock(id)
	defer unlock()

	current, err := t.store.Get(ctx, id)
	if err != nil {
		return model.WorkflowInstance{}, err
	}

	final := current.Clone()
	if err := fn(&final); err != nil {
		return current, err
	}
	if err := t.store.Delete(ctx, id); err != nil {
		return current, err
	}
	return final, nil
}
