package capability

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/stepwise/model"
)

// Scope levels bind a rule to the part of the organization a user may touch.
const (
	LevelGlobal     = "global"
	LevelCompany    = "company"
	LevelDepartment = "department"
	LevelOwn        = "own"
)

// ScopeRule grants a role some operations on a resource type at a level.
type ScopeRule struct {
	Resource   string   `yaml:"resource"`
	Operations []string `yaml:"operations"`
	Level      string   `yaml:"level"`
}

func (r ScopeRule) allows(operation string) bool {
	return slices.Contains(r.Operations, "*") || slices.Contains(r.Operations, operation)
}

type policyFile struct {
	Roles  map[string][]string    `yaml:"roles"`
	Scopes map[string][]ScopeRule `yaml:"scopes"`
}

// StaticPolicy answers permission and scope questions from a YAML file:
//
//	roles:
//	  manager: ["survey:*", "report:view"]
//	scopes:
//	  manager:
//	    - resource: survey
//	      operations: [create, update]
//	      level: department
//
// It implements both model.AuthorizationChecker and model.ScopeChecker.
type StaticPolicy struct {
	path  string
	mu    sync.RWMutex
	caps  map[string]model.CapabilitySet
	rules map[string][]ScopeRule
}

// NewStaticPolicy creates a policy that loads from path.
func NewStaticPolicy(path string) (*StaticPolicy, error) {
	p := &StaticPolicy{path: path}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseStaticPolicy builds a policy from YAML bytes. Sync is a no-op on the
// result.
func ParseStaticPolicy(data []byte) (*StaticPolicy, error) {
	p := &StaticPolicy{}
	if err := p.load(data, "inline"); err != nil {
		return nil, err
	}
	return p, nil
}

// HasPermission implements model.AuthorizationChecker.
func (p *StaticPolicy) HasPermission(_ context.Context, role, permission string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caps[role].Has(permission), nil
}

// Permissions returns the capability set granted to role.
func (p *StaticPolicy) Permissions(role string) model.CapabilitySet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caps[role]
}

// CheckAccess implements model.ScopeChecker.
func (p *StaticPolicy) CheckAccess(_ context.Context, scope model.ScopeContext, resourceType, operation string) (model.AccessDecision, error) {
	p.mu.RLock()
	rules := p.rules[scope.Role]
	p.mu.RUnlock()

	if len(rules) == 0 {
		return model.Deny(fmt.Sprintf("role %q has no data-access scope", scope.Role)), nil
	}

	var matched bool
	var lastReason string
	for _, r := range rules {
		if r.Resource != resourceType && r.Resource != "*" {
			continue
		}
		matched = true
		if !r.allows(operation) {
			lastReason = fmt.Sprintf("role %q may not %s %s", scope.Role, operation, resourceType)
			continue
		}
		if reason := levelDenial(r.Level, scope); reason != "" {
			lastReason = reason
			continue
		}
		return model.Allow(), nil
	}

	if !matched {
		return model.Deny(fmt.Sprintf("role %q has no access to %s", scope.Role, resourceType)), nil
	}
	return model.Deny(lastReason), nil
}

// levelDenial returns why scope falls outside level, or "" if it does not.
func levelDenial(level string, scope model.ScopeContext) string {
	switch level {
	case LevelGlobal:
		return ""
	case LevelCompany:
		if scope.CompanyID == "" {
			return "company scope required"
		}
	case LevelDepartment:
		if scope.CompanyID == "" || scope.DepartmentID == "" {
			return "department scope required"
		}
	case LevelOwn:
		if scope.UserID == "" {
			return "user scope required"
		}
	default:
		return fmt.Sprintf("unknown scope level %q", level)
	}
	return ""
}

// Sync reloads the policy file from disk.
func (p *StaticPolicy) Sync() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", p.path, err)
	}
	return p.load(data, p.path)
}

func (p *StaticPolicy) load(data []byte, source string) error {
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", source, err)
	}

	caps := make(map[string]model.CapabilitySet, len(pf.Roles))
	for role, list := range pf.Roles {
		set := make(model.CapabilitySet, len(list))
		for _, c := range list {
			set[c] = true
		}
		caps[role] = set
	}
	for role, rules := range pf.Scopes {
		for i, r := range rules {
			if r.Level == "" {
				return fmt.Errorf("capability: %s: scopes.%s[%d].level is required", source, role, i)
			}
			if levelDenial(r.Level, model.ScopeContext{UserID: "-", CompanyID: "-", DepartmentID: "-"}) != "" {
				return fmt.Errorf("capability: %s: scopes.%s[%d]: unknown level %q", source, role, i, r.Level)
			}
		}
	}

	p.mu.Lock()
	p.caps = caps
	p.rules = pf.Scopes
	p.mu.Unlock()
	return nil
}

var (
	_ model.AuthorizationChecker = (*StaticPolicy)(nil)
	_ model.ScopeChecker         = (*StaticPolicy)(nil)
)
