package model

import (
	"context"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rc      *RequestContext
		wantErr bool
	}{
		{
			name:    "valid context",
			rc:      &RequestContext{SubjectID: "user-1", Role: "manager"},
			wantErr: false,
		},
		{
			name:    "missing SubjectID",
			rc:      &RequestContext{Role: "manager"},
			wantErr: true,
		},
		{
			name:    "missing Role",
			rc:      &RequestContext{SubjectID: "user-1"},
			wantErr: true,
		},
		{
			name:    "missing both",
			rc:      &RequestContext{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestContext_Scope(t *testing.T) {
	rc := &RequestContext{
		SubjectID:    "user-1",
		Role:         "manager",
		CompanyID:    "acme",
		DepartmentID: "sales",
	}
	s := rc.Scope()
	if s.UserID != "user-1" || s.Role != "manager" || s.CompanyID != "acme" || s.DepartmentID != "sales" {
		t.Errorf("Scope() = %+v", s)
	}
}

func TestWithRequestContext_roundTrip(t *testing.T) {
	rc := &RequestContext{SubjectID: "user-1", Role: "employee"}
	ctx := WithRequestContext(context.Background(), rc)
	if got := RequestContextFrom(ctx); got != rc {
		t.Errorf("RequestContextFrom() = %v, want %v", got, rc)
	}
}

func TestRequestContextFrom_missing(t *testing.T) {
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("RequestContextFrom() = %v, want nil", got)
	}
}
