package store

import (
	"context"
	"time"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow definitions
	CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	// UpdateDefinition replaces the stored content and increments the version.
	UpdateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error

	// Executions
	CreateExecution(ctx context.Context, ex *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	// TransitionExecution applies the update only while the current status is
	// one of expect (compare-and-set). Returns false when the guard did not
	// match; callers use this to serialize racing status transitions.
	TransitionExecution(ctx context.Context, id string, expect []schema.ExecutionStatus, update ExecutionUpdate) (bool, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	// ExecutionStats aggregates counts, average duration and success rate,
	// optionally filtered by workflow ID ("" = all workflows).
	ExecutionStats(ctx context.Context, workflowID string) (*ExecutionStats, error)

	// Approval requests
	CreateApproval(ctx context.Context, req *ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*ApprovalRequest, error)
	// ResolveApproval resolves a pending request exactly once; returns false
	// when the request was already resolved.
	ResolveApproval(ctx context.Context, id string, status schema.ApprovalStatus, comments string) (bool, error)
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*ApprovalRequest, error)

	// Scheduled wakeups (durable delay/retry continuations)
	CreateWakeup(ctx context.Context, w *ScheduledWakeup) error
	DueWakeups(ctx context.Context, now time.Time, limit int) ([]*ScheduledWakeup, error)
	DeleteWakeup(ctx context.Context, id string) error
	DeleteWakeupsForExecution(ctx context.Context, executionID string) error

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
