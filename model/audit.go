package model

import (
	"context"
	"time"
)

// Audit actions recorded by the engine.
const (
	AuditWorkflowValidated    = "workflow.validated"
	AuditWorkflowStarted      = "workflow.started"
	AuditWorkflowAdvanced     = "workflow.advanced"
	AuditWorkflowPaused       = "workflow.paused"
	AuditWorkflowResumed      = "workflow.resumed"
	AuditWorkflowAbandoned    = "workflow.abandoned"
	AuditWorkflowAcknowledged = "workflow.acknowledged"
)

// Audit resource kinds.
const (
	ResourceWorkflowDefinition = "workflow_definition"
	ResourceWorkflowInstance   = "workflow_instance"
)

// AuditEvent is one fact handed to an AuditSink.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Success    bool           `json:"success"`
	Actor      ScopeContext   `json:"actor"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// AuditSink records audit events. Calls are fire-and-forget from the
// engine's perspective.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// Domain event types published by the engine.
const (
	EventWorkflowStarted   = "workflow.started"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowFailed    = "workflow.failed"
)

// SourceModuleWorkflow is the SourceModule of every event the engine publishes.
const SourceModuleWorkflow = "workflow"

// DomainEvent is a cross-module announcement.
type DomainEvent struct {
	Type          string         `json:"type"`
	SourceModule  string         `json:"source_module"`
	TargetModules []string       `json:"target_modules,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Context       ScopeContext   `json:"context"`
}

// EventPublisher announces domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}
