package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/stepwise/model"
)

// Schema creates the table PgSink writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id            BIGSERIAL PRIMARY KEY,
	action        TEXT        NOT NULL,
	resource      TEXT        NOT NULL,
	resource_id   TEXT        NOT NULL,
	success       BOOLEAN     NOT NULL,
	user_id       TEXT        NOT NULL,
	role          TEXT        NOT NULL,
	company_id    TEXT        NOT NULL DEFAULT '',
	department_id TEXT        NOT NULL DEFAULT '',
	details       JSONB,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_resource_idx ON audit_events (resource, resource_id);
`

// PgSink is a PostgreSQL-backed AuditSink using pgx/v5.
type PgSink struct {
	pool *pgxpool.Pool
}

// NewPgSink creates a new PostgreSQL audit sink.
func NewPgSink(pool *pgxpool.Pool) *PgSink {
	return &PgSink{pool: pool}
}

// Migrate creates the audit table if it does not exist.
func (s *PgSink) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit_events: %w", err)
	}
	return nil
}

// Record inserts one audit row.
func (s *PgSink) Record(ctx context.Context, event model.AuditEvent) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (
			action, resource, resource_id, success,
			user_id, role, company_id, department_id,
			details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.Action, event.Resource, event.ResourceID, event.Success,
		event.Actor.UserID, event.Actor.Role, event.Actor.CompanyID, event.Actor.DepartmentID,
		details, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

var _ model.AuditSink = (*PgSink)(nil)
