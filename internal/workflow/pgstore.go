package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/stepwise/model"
)

// Schema creates the table PgStore reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_instances (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT             NOT NULL,
	workflow_name       TEXT             NOT NULL,
	current_step        TEXT             NOT NULL,
	status              TEXT             NOT NULL,
	completed_steps     JSONB            NOT NULL DEFAULT '[]',
	failed_steps        JSONB            NOT NULL DEFAULT '[]',
	step_data           JSONB,
	progress_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	role                TEXT             NOT NULL,
	company_id          TEXT             NOT NULL DEFAULT '',
	department_id       TEXT             NOT NULL DEFAULT '',
	started_at          TIMESTAMPTZ      NOT NULL,
	last_activity       TIMESTAMPTZ      NOT NULL,
	deadline            TIMESTAMPTZ,
	version             INTEGER          NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_instances_user_idx ON workflow_instances (user_id, status);
CREATE INDEX IF NOT EXISTS workflow_instances_activity_idx ON workflow_instances (status, last_activity);
`

const instanceColumns = `id, user_id, workflow_name, current_step, status,
	completed_steps, failed_steps, step_data, progress_percentage,
	role, company_id, department_id,
	started_at, last_activity, deadline, version`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the instance table if it does not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate workflow_instances: %w", err)
	}
	return nil
}

// HealthCheck pings the pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get retrieves an instance by id.
func (s *PgStore) Get(ctx context.Context, id string) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowInstance{}, notFound(id)
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("query workflow instance: %w", err)
	}
	return inst, nil
}

// Put upserts inst. The update branch only applies when the stored version
// is inst.Version-1.
func (s *PgStore) Put(ctx context.Context, inst model.WorkflowInstance) error {
	completed, err := json.Marshal(nonNil(inst.CompletedSteps))
	if err != nil {
		return fmt.Errorf("marshal completed steps: %w", err)
	}
	failed, err := json.Marshal(nonNil(inst.FailedSteps))
	if err != nil {
		return fmt.Errorf("marshal failed steps: %w", err)
	}
	var data []byte
	if inst.StepData != nil {
		data, err = json.Marshal(inst.StepData)
		if err != nil {
			return fmt.Errorf("marshal step data: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			current_step        = EXCLUDED.current_step,
			status              = EXCLUDED.status,
			completed_steps     = EXCLUDED.completed_steps,
			failed_steps        = EXCLUDED.failed_steps,
			step_data           = EXCLUDED.step_data,
			progress_percentage = EXCLUDED.progress_percentage,
			last_activity       = EXCLUDED.last_activity,
			deadline            = EXCLUDED.deadline,
			version             = EXCLUDED.version
		WHERE workflow_instances.version = EXCLUDED.version - 1`,
		inst.ID, inst.UserID, inst.WorkflowName, inst.CurrentStep, string(inst.Status),
		completed, failed, data, inst.ProgressPercentage,
		inst.Role, inst.CompanyID, inst.DepartmentID,
		inst.StartedAt, inst.LastActivity, inst.Deadline, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("upsert workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d)", inst.ID, inst.Version-1),
		)
	}
	return nil
}

// Delete removes an instance.
func (s *PgStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflow_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

// List returns the instances matching filter.
func (s *PgStore) List(ctx context.Context, filter Filter) ([]model.WorkflowInstance, error) {
	query, args := listQuery(filter)
	return s.queryInstances(ctx, query, args...)
}

// listQuery builds the SELECT for filter.
func listQuery(filter Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.WorkflowName != "" {
		add("workflow_name = $%d", filter.WorkflowName)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if !filter.IdleBefore.IsZero() {
		add("last_activity < $%d", filter.IdleBefore)
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at ASC, id ASC"
	return query, args
}

// queryInstances executes a query and returns workflow instances.
func (s *PgStore) queryInstances(ctx context.Context, query string, args ...any) ([]model.WorkflowInstance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow instances: %w", err)
	}
	defer rows.Close()

	instances := []model.WorkflowInstance{}
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func scanInstance(row pgx.Row) (model.WorkflowInstance, error) {
	var (
		inst                    model.WorkflowInstance
		status                  string
		completed, failed, data []byte
	)
	if err := row.Scan(
		&inst.ID, &inst.UserID, &inst.WorkflowName, &inst.CurrentStep, &status,
		&completed, &failed, &data, &inst.ProgressPercentage,
		&inst.Role, &inst.CompanyID, &inst.DepartmentID,
		&inst.StartedAt, &inst.LastActivity, &inst.Deadline, &inst.Version,
	); err != nil {
		return model.WorkflowInstance{}, err
	}
	inst.Status = model.WorkflowStatus(status)

	if err := json.Unmarshal(completed, &inst.CompletedSteps); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("unmarshal completed steps: %w", err)
	}
	if err := json.Unmarshal(failed, &inst.FailedSteps); err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("unmarshal failed steps: %w", err)
	}
	if data != nil {
		if err := json.Unmarshal(data, &inst.StepData); err != nil {
			return model.WorkflowInstance{}, fmt.Errorf("unmarshal step data: %w", err)
		}
	}
	return inst, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*PgStore)(nil)
