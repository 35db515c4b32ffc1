package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext carries the identity and data-access scope of the caller for
// the lifetime of one engine call. It is immutable after construction and
// safe for concurrent reads.
type RequestContext struct {
	SubjectID     string
	Email         string
	Role          string
	CompanyID     string
	DepartmentID  string
	CorrelationID string
}

// Validate checks that all mandatory fields are present.
// SubjectID and Role must be non-empty.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if rc.Role == "" {
		errs = append(errs, fmt.Errorf("Role is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Scope returns the ScopeContext handed to scope checkers.
func (rc *RequestContext) Scope() ScopeContext {
	return ScopeContext{
		UserID:       rc.SubjectID,
		Role:         rc.Role,
		CompanyID:    rc.CompanyID,
		DepartmentID: rc.DepartmentID,
	}
}

// ScopeContext is the data-access scope of a user: who they are, which role
// they act under, and which company/department their data access is bound to.
type ScopeContext struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	CompanyID    string `json:"company_id,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
