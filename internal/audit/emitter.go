package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/dispatch"
	"github.com/pitabwire/stepwise/model"
)

// Emitter hands audit events to a sink off the caller's path. With a
// dispatcher the sink runs on a worker; without one it runs inline and its
// error is logged. Sink failures never reach the caller.
type Emitter struct {
	sink       model.AuditSink
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// NewEmitter creates an Emitter. sink may be nil, which disables auditing.
func NewEmitter(sink model.AuditSink, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *Emitter {
	return &Emitter{sink: sink, dispatcher: dispatcher, logger: logger}
}

// Emit records event. A nil Emitter is a no-op.
func (e *Emitter) Emit(ctx context.Context, event model.AuditEvent) {
	if e == nil || e.sink == nil {
		return
	}

	record := func(ctx context.Context) error {
		return e.sink.Record(ctx, event)
	}

	if e.dispatcher != nil {
		e.dispatcher.Submit(ctx, "audit:"+event.Action, record)
		return
	}
	if err := record(ctx); err != nil {
		e.logger.Warn("audit record failed",
			zap.String("action", event.Action),
			zap.String("resource_id", event.ResourceID),
			zap.Error(err),
		)
	}
}
