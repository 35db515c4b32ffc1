// Package audit provides AuditSink implementations: a zap log sink, a
// PostgreSQL sink and a fan-out over several sinks.
package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/model"
)

// RecorderFunc is an adapter to use a plain function as a model.AuditSink.
type RecorderFunc func(ctx context.Context, event model.AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event model.AuditEvent) error {
	return f(ctx, event)
}

// LogSink writes audit events as structured log lines.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Record implements model.AuditSink.
func (s *LogSink) Record(_ context.Context, event model.AuditEvent) error {
	fields := []zap.Field{
		zap.String("action", event.Action),
		zap.String("resource", event.Resource),
		zap.String("resource_id", event.ResourceID),
		zap.Bool("success", event.Success),
		zap.String("user_id", event.Actor.UserID),
		zap.String("role", event.Actor.Role),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.Actor.CompanyID != "" {
		fields = append(fields, zap.String("company_id", event.Actor.CompanyID))
	}
	if event.Actor.DepartmentID != "" {
		fields = append(fields, zap.String("department_id", event.Actor.DepartmentID))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}
	s.logger.Info("audit", fields...)
	return nil
}

// MultiSink records each event in every sink. All sinks are attempted; their
// errors are joined.
type MultiSink []model.AuditSink

// Record implements model.AuditSink.
func (m MultiSink) Record(ctx context.Context, event model.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ model.AuditSink = RecorderFunc(nil)
	_ model.AuditSink = (*LogSink)(nil)
	_ model.AuditSink = MultiSink(nil)
)
