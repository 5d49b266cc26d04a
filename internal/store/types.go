package store

import (
	"encoding/json"
	"time"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// Execution is the persisted representation of one running instance of a
// workflow definition. Definition holds the JSON snapshot captured at start,
// so the bound version survives definition updates and process restarts.
type Execution struct {
	ID            string                    `json:"id"`
	WorkflowID    string                    `json:"workflow_id"`
	BoundVersion  int                       `json:"bound_version"`
	Definition    schema.WorkflowDefinition `json:"definition"`
	Status        schema.ExecutionStatus    `json:"status"`
	CurrentStepID string                    `json:"current_step_id,omitempty"`
	Context       map[string]any            `json:"context,omitempty"`
	RetryCount    int                       `json:"retry_count"`
	PauseReason   schema.PauseReason        `json:"pause_reason,omitempty"`
	Error         string                    `json:"error,omitempty"`
	StartedAt     time.Time                 `json:"started_at"`
	CompletedAt   *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// ApprovalRequest is a pending human decision blocking an execution at an
// approval step. Resolved exactly once.
type ApprovalRequest struct {
	ID          string                `json:"id"`
	ExecutionID string                `json:"execution_id"`
	StepID      string                `json:"step_id"`
	ApproverID  string                `json:"approver_id"`
	Status      schema.ApprovalStatus `json:"status"`
	Comments    string                `json:"comments,omitempty"`
	RequestedAt time.Time             `json:"requested_at"`
	RespondedAt *time.Time            `json:"responded_at,omitempty"`
}

// WakeupKind enumerates the kinds of scheduled continuations.
type WakeupKind string

const (
	WakeupKindDelay WakeupKind = "delay"
	WakeupKindRetry WakeupKind = "retry"
)

// ScheduledWakeup is a durable timer row: a continuation for an execution
// that should fire at WakeAt. ResumeStepID names the step the loop re-enters
// from; empty means the execution completes on wake (a trailing delay step).
type ScheduledWakeup struct {
	ID           string     `json:"id"`
	ExecutionID  string     `json:"execution_id"`
	Kind         WakeupKind `json:"kind"`
	ResumeStepID string     `json:"resume_step_id,omitempty"`
	WakeAt       time.Time  `json:"wake_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Event is an immutable entry in the execution event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	StepID      string          `json:"step_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ExecutionStats is the aggregate analytics view over persisted executions.
type ExecutionStats struct {
	Total         int64   `json:"total"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
	Cancelled     int64   `json:"cancelled"`
	Running       int64   `json:"running"`
	Paused        int64   `json:"paused"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	SuccessRate   float64 `json:"success_rate"`
}

// --- Filter and update types ---

// DefinitionFilter specifies criteria for listing workflow definitions.
type DefinitionFilter struct {
	Status      *schema.DefinitionStatus `json:"status,omitempty"`
	TriggerKind schema.TriggerKind       `json:"trigger_kind,omitempty"`
	Limit       int                      `json:"limit,omitempty"`
	Offset      int                      `json:"offset,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution. Nil pointers
// leave the column untouched; pointing at a zero value clears it.
type ExecutionUpdate struct {
	Status        *schema.ExecutionStatus `json:"status,omitempty"`
	CurrentStepID *string                 `json:"current_step_id,omitempty"`
	Context       map[string]any          `json:"context,omitempty"`
	RetryCount    *int                    `json:"retry_count,omitempty"`
	PauseReason   *schema.PauseReason     `json:"pause_reason,omitempty"`
	Error         *string                 `json:"error,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

// ApprovalFilter specifies criteria for listing approval requests.
type ApprovalFilter struct {
	ExecutionID string                `json:"execution_id,omitempty"`
	ApproverID  string                `json:"approver_id,omitempty"`
	Status      schema.ApprovalStatus `json:"status,omitempty"`
	Limit       int                   `json:"limit,omitempty"`
}
