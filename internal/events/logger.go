package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// LoggerAdapter routes watermill's internal logging through zap.
type LoggerAdapter struct {
	logger *zap.Logger
}

// NewLoggerAdapter wraps logger for watermill.
func NewLoggerAdapter(logger *zap.Logger) *LoggerAdapter {
	return &LoggerAdapter{logger: logger.Named("watermill")}
}

func toZap(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (a *LoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(toZap(fields), zap.Error(err))...)
}

func (a *LoggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, toZap(fields)...)
}

func (a *LoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, toZap(fields)...)
}

// Trace maps to debug; zap has no trace level.
func (a *LoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, toZap(fields)...)
}

func (a *LoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &LoggerAdapter{logger: a.logger.With(toZap(fields)...)}
}

var _ watermill.LoggerAdapter = (*LoggerAdapter)(nil)
