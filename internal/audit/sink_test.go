package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/stepwise/internal/dispatch"
	"github.com/pitabwire/stepwise/model"
)

func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		NameKey:     "logger",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func testEvent() model.AuditEvent {
	return model.AuditEvent{
		Action:     model.AuditWorkflowStarted,
		Resource:   model.ResourceWorkflowInstance,
		ResourceID: "wf-1",
		Success:    true,
		Actor: model.ScopeContext{
			UserID:       "user-1",
			Role:         "manager",
			CompanyID:    "acme",
			DepartmentID: "sales",
		},
		Details:   map[string]any{"workflow": "demo"},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// --- LogSink ---

func TestLogSink_Record(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(newTestLogger(&buf))

	if err := sink.Record(context.Background(), testEvent()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	checks := map[string]any{
		"logger":        "audit",
		"action":        "workflow.started",
		"resource":      "workflow_instance",
		"resource_id":   "wf-1",
		"success":       true,
		"user_id":       "user-1",
		"company_id":    "acme",
		"department_id": "sales",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s = %v, want %v", k, entry[k], want)
		}
	}
	details, ok := entry["details"].(map[string]any)
	if !ok || details["workflow"] != "demo" {
		t.Errorf("details = %v", entry["details"])
	}
}

func TestLogSink_omitsEmptyScope(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(newTestLogger(&buf))
	ev := testEvent()
	ev.Actor.CompanyID = ""
	ev.Actor.DepartmentID = ""
	ev.Details = nil
	_ = sink.Record(context.Background(), ev)

	var entry map[string]any
	_ = json.Unmarshal(buf.Bytes(), &entry)
	for _, k := range []string{"company_id", "department_id", "details"} {
		if _, ok := entry[k]; ok {
			t.Errorf("%s should be omitted", k)
		}
	}
}

// --- MultiSink / RecorderFunc ---

func TestMultiSink_fansOut(t *testing.T) {
	var got []string
	a := RecorderFunc(func(_ context.Context, e model.AuditEvent) error {
		got = append(got, "a:"+e.Action)
		return nil
	})
	b := RecorderFunc(func(_ context.Context, e model.AuditEvent) error {
		got = append(got, "b:"+e.Action)
		return nil
	})

	if err := (MultiSink{a, b}).Record(context.Background(), testEvent()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(got) != 2 || got[0] != "a:workflow.started" || got[1] != "b:workflow.started" {
		t.Errorf("got = %v", got)
	}
}

func TestMultiSink_continuesAfterError(t *testing.T) {
	boom := errors.New("sink down")
	called := false
	failing := RecorderFunc(func(context.Context, model.AuditEvent) error { return boom })
	ok := RecorderFunc(func(context.Context, model.AuditEvent) error {
		called = true
		return nil
	})

	err := (MultiSink{failing, ok}).Record(context.Background(), testEvent())
	if !errors.Is(err, boom) {
		t.Errorf("Record() error = %v, want %v", err, boom)
	}
	if !called {
		t.Error("second sink was skipped after the first failed")
	}
}

func TestMultiSink_empty(t *testing.T) {
	if err := (MultiSink{}).Record(context.Background(), testEvent()); err != nil {
		t.Errorf("empty MultiSink Record() error = %v", err)
	}
}

// --- Emitter ---

func TestEmitter_inline(t *testing.T) {
	var got []model.AuditEvent
	sink := RecorderFunc(func(_ context.Context, e model.AuditEvent) error {
		got = append(got, e)
		return nil
	})

	NewEmitter(sink, nil, zap.NewNop()).Emit(context.Background(), testEvent())

	if len(got) != 1 || got[0].ResourceID != "wf-1" {
		t.Errorf("got = %+v", got)
	}
}

func TestEmitter_inlineFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	sink := RecorderFunc(func(context.Context, model.AuditEvent) error {
		return errors.New("sink down")
	})

	NewEmitter(sink, nil, newTestLogger(&buf)).Emit(context.Background(), testEvent())

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a warn log line: %v (%s)", err, buf.String())
	}
	if entry["level"] != "warn" || entry["error"] != "sink down" {
		t.Errorf("entry = %v", entry)
	}
}

func TestEmitter_viaDispatcher(t *testing.T) {
	d := dispatch.New(zap.NewNop(), dispatch.WithWorkers(1))
	received := make(chan model.AuditEvent, 1)
	sink := RecorderFunc(func(_ context.Context, e model.AuditEvent) error {
		received <- e
		return nil
	})

	NewEmitter(sink, d, zap.NewNop()).Emit(context.Background(), testEvent())

	select {
	case e := <-received:
		if e.Action != model.AuditWorkflowStarted {
			t.Errorf("Action = %q", e.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audit event not delivered through dispatcher")
	}
	_ = d.Close(context.Background())
}

func TestEmitter_nilIsNoop(t *testing.T) {
	var e *Emitter
	e.Emit(context.Background(), testEvent())
	NewEmitter(nil, nil, zap.NewNop()).Emit(context.Background(), testEvent())
}
