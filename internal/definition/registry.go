package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/stepwise/model"
)

// snapshot is an immutable collection of definitions indexed by name.
type snapshot struct {
	workflows map[string]model.WorkflowDefinition
	checksums map[string]string
	checksum  string
}

// Registry is a read-optimized, thread-safe store of workflow definitions.
// Reads are lock-free through an atomic snapshot pointer; registration copies
// the current snapshot and swaps it in.
type Registry struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{
		workflows: map[string]model.WorkflowDefinition{},
		checksums: map[string]string{},
	})
	return r
}

// Register validates def and adds it to the registry. It fails with
// DEFINITION_ERROR on a malformed definition or a duplicate name.
func (r *Registry) Register(def model.WorkflowDefinition) error {
	return r.RegisterWithChecksum(def, "")
}

// RegisterWithChecksum is Register with the checksum of the source document
// recorded for Checksum.
func (r *Registry) RegisterWithChecksum(def model.WorkflowDefinition, checksum string) error {
	if details := CheckDefinition(def); len(details) > 0 {
		return model.NewDefinitionError(
			fmt.Sprintf("workflow %q is invalid", def.Name),
			details,
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, exists := cur.workflows[def.Name]; exists {
		return model.NewDefinitionError(
			fmt.Sprintf("workflow %q is already registered", def.Name),
			[]model.FieldError{{Field: "name", Code: "DUPLICATE", Message: "name must be unique"}},
		)
	}

	next := &snapshot{
		workflows: make(map[string]model.WorkflowDefinition, len(cur.workflows)+1),
		checksums: make(map[string]string, len(cur.checksums)+1),
	}
	for k, v := range cur.workflows {
		next.workflows[k] = v
	}
	for k, v := range cur.checksums {
		next.checksums[k] = v
	}
	next.workflows[def.Name] = def.Clone()
	if checksum == "" {
		checksum = structuralChecksum(def)
	}
	next.checksums[def.Name] = checksum
	next.checksum = combineChecksums(next.checksums)

	r.snap.Store(next)
	return nil
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the named definition or NOT_FOUND.
func (r *Registry) Get(name string) (model.WorkflowDefinition, error) {
	def, ok := r.current().workflows[name]
	if !ok {
		return model.WorkflowDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", name),
		)
	}
	return def.Clone(), nil
}

// All returns every definition sorted by name.
func (r *Registry) All() []model.WorkflowDefinition {
	s := r.current()
	defs := make([]model.WorkflowDefinition, 0, len(s.workflows))
	for _, d := range s.workflows {
		defs = append(defs, d.Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ForRole returns the definitions whose target roles include role, sorted by
// name. Definitions with no target roles are offered to everyone.
func (r *Registry) ForRole(role string) []model.WorkflowDefinition {
	var out []model.WorkflowDefinition
	for _, d := range r.All() {
		if d.TargetsRole(role) {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	return len(r.current().workflows)
}

// Checksum returns the combined checksum of all registered definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

func combineChecksums(parts map[string]string) string {
	all := make([]string, 0, len(parts))
	for _, c := range parts {
		all = append(all, c)
	}
	sort.Strings(all)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(all, ":"))))
}

// structuralChecksum hashes the graph shape of a definition built in code.
func structuralChecksum(def model.WorkflowDefinition) string {
	var b strings.Builder
	b.WriteString(def.Name)
	for _, s := range def.Steps {
		b.WriteString("|" + s.ID)
	}
	for _, t := range def.Transitions {
		b.WriteString("|" + t.From + ">" + t.To)
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(b.String())))
}
