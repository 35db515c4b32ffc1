package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/stepwise/internal/config"
	"github.com/pitabwire/stepwise/model"
)

// Context key for the logger.
type loggerKey struct{}

// NewLogger creates a zap.Logger configured for JSON output to stdout.
//
// Log level usage conventions:
//   - error: Infrastructure failures (store down, unhandled panics)
//   - warn:  Denied operations, dropped or failed side effects, reaper skips
//   - info:  Workflow lifecycle transitions, reaper sweeps, definition loading
//   - debug: Cache operations, step data (redacted), guard evaluation
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger enriched with RequestContext fields. rctx may
// be nil, in which case the one stored in ctx is used. If no logger is in the
// context, the fallback is used.
func RequestLogger(ctx context.Context, rctx *model.RequestContext, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	if rctx == nil {
		rctx = model.RequestContextFrom(ctx)
	}
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("user_id", rctx.SubjectID),
		zap.String("role", rctx.Role),
	}
	if rctx.CompanyID != "" {
		fields = append(fields, zap.String("company_id", rctx.CompanyID))
	}
	if rctx.DepartmentID != "" {
		fields = append(fields, zap.String("department_id", rctx.DepartmentID))
	}
	if rctx.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", rctx.CorrelationID))
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}

	return logger.With(fields...)
}

// defaultSensitiveFields is the default set of field names that should be
// redacted in debug logging output.
var defaultSensitiveFields = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"authorization": true,
	"credit_card":   true,
	"ssn":           true,
	"pin":           true,
}

// RedactData returns a copy of step data with sensitive fields replaced by
// "[REDACTED]", descending into nested maps and lists. The sensitiveFields
// list is merged with the default names. Debug logging only.
func RedactData(body map[string]any, sensitiveFields []string) map[string]any {
	if body == nil {
		return nil
	}

	redactSet := make(map[string]bool, len(defaultSensitiveFields)+len(sensitiveFields))
	for k, v := range defaultSensitiveFields {
		redactSet[k] = v
	}
	for _, f := range sensitiveFields {
		redactSet[f] = true
	}

	return redactMap(body, redactSet)
}

func redactMap(body map[string]any, redactSet map[string]bool) map[string]any {
	result := make(map[string]any, len(body))
	for k, v := range body {
		if redactSet[k] {
			result[k] = "[REDACTED]"
			continue
		}
		result[k] = redactValue(v, redactSet)
	}
	return result
}

func redactValue(v any, redactSet map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, redactSet)
	case model.StepData:
		return redactMap(t, redactSet)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e, redactSet)
		}
		return out
	default:
		return v
	}
}
