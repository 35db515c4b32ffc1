package model

import (
	"context"
	"strings"
)

// CapabilitySet is a set of permission keys granted to a role. Each key is a
// colon-separated string (e.g. "survey:create") and may end in a wildcard
// (e.g. "survey:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities (including
// via wildcards).
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
// Examples:
//
//	"*"             matches anything
//	"survey:*"      matches "survey:create"
//	"survey:live:*" matches "survey:live:start"
//	"survey:live"   does NOT match "survey:live:start" (exact only, no wildcard)
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// AccessDecision is the answer of a ScopeChecker.
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow returns an allowing decision.
func Allow() AccessDecision { return AccessDecision{Allowed: true} }

// Deny returns a denying decision with a reason.
func Deny(reason string) AccessDecision { return AccessDecision{Reason: reason} }

// AuthorizationChecker answers whether a role holds a permission key.
type AuthorizationChecker interface {
	HasPermission(ctx context.Context, role, permission string) (bool, error)
}

// ScopeChecker answers whether a user, within their data-access scope, may
// perform an operation on a resource type.
type ScopeChecker interface {
	CheckAccess(ctx context.Context, scope ScopeContext, resourceType, operation string) (AccessDecision, error)
}
