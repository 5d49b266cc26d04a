package schema

// Event type constants for the execution event log and the streaming hub.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"

	EventStepStarted        = "step_started"
	EventStepCompleted      = "step_completed"
	EventStepFailed         = "step_failed"
	EventStepSkipped        = "step_skipped"
	EventStepRetryScheduled = "step_retry_scheduled"

	EventDelayScheduled     = "delay_scheduled"
	EventConditionEvaluated = "condition_evaluated"

	EventApprovalRequested = "approval_requested"
	EventApprovalResolved  = "approval_resolved"

	EventNotificationFailed = "notification_failed"
	EventTriggerFired       = "trigger_fired"
	EventCircuitBreakerOpen = "circuit_breaker_open"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status belongs to the terminal set.
// Transitions are monotone toward this set; no execution leaves it.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// PauseReason distinguishes the two flavors of a paused execution.
// Operator pauses resume at the current step; approval pauses resume past
// the approval step.
type PauseReason string

const (
	PauseReasonOperator PauseReason = "operator"
	PauseReasonApproval PauseReason = "approval"
)

// ApprovalStatus represents the resolution state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// ApprovalDecision is a human response to a pending approval request.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
)
