package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kocayazbey/AyazTrade-sub008/internal/condition"
	"github.com/kocayazbey/AyazTrade-sub008/internal/handlers"
	"github.com/kocayazbey/AyazTrade-sub008/internal/logging"
	"github.com/kocayazbey/AyazTrade-sub008/internal/store"
	"github.com/kocayazbey/AyazTrade-sub008/internal/streaming"
	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// Coordinator drives workflow executions: it starts them, runs the step
// loop, and applies the pause/resume/cancel lifecycle operations.
//
// The step loop reloads the execution from the store on every iteration and
// halts as soon as the status is no longer running. Pause and cancel only
// flip the persisted status via compare-and-set, so they interleave safely
// with a loop in flight. A per-execution lock serializes the loop itself
// with resume and wakeup continuations.
type Coordinator struct {
	store    store.Store
	fsm      *ExecutionFSM
	executor *StepExecutor
	gate     *ApprovalGate
	locks    *executionLocks
	sink     *eventSink
	logger   *slog.Logger
}

// NewCoordinator wires a coordinator and its step executor.
func NewCoordinator(
	st store.Store,
	registry *handlers.Registry,
	conditions *condition.Evaluator,
	breakers *CircuitBreakerRegistry,
	hub streaming.EventHub,
	logger *slog.Logger,
) *Coordinator {
	sink := newEventSink(st, hub, logger)
	gate := NewApprovalGate(st, sink, hub, logger)
	return &Coordinator{
		store:    st,
		fsm:      NewExecutionFSM(sink),
		executor: NewStepExecutor(registry, conditions, breakers, gate, st, sink, logger),
		gate:     gate,
		locks:    newExecutionLocks(),
		sink:     sink,
		logger:   logger,
	}
}

// Gate exposes the approval gate, e.g. for replacing the notifier.
func (c *Coordinator) Gate() *ApprovalGate { return c.gate }

// Start creates an execution for an active workflow definition and runs the
// step loop until the execution suspends or reaches a terminal state. The
// definition is snapshotted into the execution row, so later definition
// updates never affect a running execution.
func (c *Coordinator) Start(ctx context.Context, workflowID string, initialContext map[string]any) (*store.Execution, error) {
	def, err := c.store.GetDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if def.Status != schema.DefinitionStatusActive {
		return nil, schema.NewErrorf(schema.ErrCodeInactiveWorkflow,
			"workflow %q is %s, only active workflows can start", workflowID, def.Status)
	}
	first := def.FirstStep()
	if first == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"workflow %q has no steps", workflowID)
	}

	execCtx := map[string]any{}
	for k, v := range initialContext {
		execCtx[k] = v
	}

	ex := &store.Execution{
		ID:            uuid.NewString(),
		WorkflowID:    workflowID,
		BoundVersion:  def.Version,
		Definition:    *def,
		Status:        schema.ExecutionStatusRunning,
		CurrentStepID: first.ID,
		Context:       execCtx,
		StartedAt:     time.Now().UTC(),
	}
	if err := c.store.CreateExecution(ctx, ex); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create execution: %s", err.Error()).WithCause(err)
	}

	ctx = logging.WithIDs(ctx, workflowID, ex.ID, "")
	c.sink.emit(ctx, ex.ID, workflowID, "", schema.EventExecutionStarted, map[string]any{
		"bound_version": def.Version,
	})

	release := c.locks.Acquire(ex.ID)
	defer release()

	if err := c.runLoop(ctx, ex.ID); err != nil {
		return nil, err
	}
	return c.store.GetExecution(ctx, ex.ID)
}

// Pause requests an operator pause. The running loop observes the status
// flip on its next iteration and halts; the execution later resumes at its
// current step.
func (c *Coordinator) Pause(ctx context.Context, executionID string) error {
	status := schema.ExecutionStatusPaused
	reason := schema.PauseReasonOperator
	ok, err := c.store.TransitionExecution(ctx, executionID,
		[]schema.ExecutionStatus{schema.ExecutionStatusRunning},
		store.ExecutionUpdate{Status: &status, PauseReason: &reason},
	)
	if err != nil {
		return err
	}
	if !ok {
		return c.transitionConflict(ctx, executionID, schema.ExecutionStatusPaused)
	}
	return c.fsm.Transition(ctx, executionID, "",
		schema.ExecutionStatusRunning, schema.ExecutionStatusPaused)
}

// Resume continues an operator-paused execution at its current step.
// Approval-paused executions resume through RespondApproval instead.
func (c *Coordinator) Resume(ctx context.Context, executionID string) error {
	release := c.locks.Acquire(executionID)
	defer release()

	ex, err := c.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if ex.Status != schema.ExecutionStatusPaused {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"execution %q is %s, only paused executions can resume", executionID, ex.Status)
	}
	if ex.PauseReason == schema.PauseReasonApproval {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"execution %q is awaiting approval, respond to the approval request instead", executionID)
	}

	// Re-dispatching the current step schedules its own continuation, so any
	// wakeup written before the pause must go or it would fire a second time.
	if err := c.store.DeleteWakeupsForExecution(ctx, executionID); err != nil {
		return err
	}

	status := schema.ExecutionStatusRunning
	clearReason := schema.PauseReason("")
	ok, err := c.store.TransitionExecution(ctx, executionID,
		[]schema.ExecutionStatus{schema.ExecutionStatusPaused},
		store.ExecutionUpdate{Status: &status, PauseReason: &clearReason},
	)
	if err != nil {
		return err
	}
	if !ok {
		return c.transitionConflict(ctx, executionID, schema.ExecutionStatusRunning)
	}

	ctx = logging.WithIDs(ctx, ex.WorkflowID, executionID, "")
	if err := c.fsm.Transition(ctx, executionID, ex.WorkflowID,
		schema.ExecutionStatusPaused, schema.ExecutionStatusRunning); err != nil {
		return err
	}
	return c.runLoop(ctx, executionID)
}

// Cancel terminates a running or paused execution and discards its pending
// wakeups. Cancelling an execution that is already terminal is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, executionID string) error {
	status := schema.ExecutionStatusCancelled
	now := time.Now().UTC()
	ok, err := c.store.TransitionExecution(ctx, executionID,
		[]schema.ExecutionStatus{schema.ExecutionStatusRunning, schema.ExecutionStatusPaused},
		store.ExecutionUpdate{Status: &status, CompletedAt: &now},
	)
	if err != nil {
		return err
	}
	if !ok {
		ex, getErr := c.store.GetExecution(ctx, executionID)
		if getErr != nil {
			return getErr
		}
		if ex.Status.Terminal() {
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"execution %q is %s and cannot be cancelled", executionID, ex.Status)
	}

	if err := c.store.DeleteWakeupsForExecution(ctx, executionID); err != nil {
		c.logger.WarnContext(ctx, "delete wakeups on cancel", "execution_id", executionID, "error", err)
	}
	c.sink.emit(ctx, executionID, "", "", schema.EventExecutionCancelled, nil)
	return nil
}

// RespondApproval resolves a pending approval request. Approval resumes the
// execution past the approval step; rejection cancels it. A second response
// to the same request fails with INVALID_TRANSITION.
func (c *Coordinator) RespondApproval(ctx context.Context, requestID string, decision schema.ApprovalDecision, comments string) error {
	req, err := c.gate.Resolve(ctx, requestID, decision, comments)
	if err != nil {
		return err
	}

	if decision == schema.DecisionRejected {
		return c.Cancel(ctx, req.ExecutionID)
	}
	return c.resumePastApproval(ctx, req)
}

func (c *Coordinator) resumePastApproval(ctx context.Context, req *store.ApprovalRequest) error {
	release := c.locks.Acquire(req.ExecutionID)
	defer release()

	ex, err := c.store.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		return err
	}
	if ex.Status != schema.ExecutionStatusPaused || ex.PauseReason != schema.PauseReasonApproval {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"execution %q is not awaiting approval", req.ExecutionID)
	}

	step := ex.Definition.Step(req.StepID)
	next := ""
	if step != nil {
		next = firstNext(step)
	}

	ctx = logging.WithIDs(ctx, ex.WorkflowID, ex.ID, "")

	// An approval step with no successor resumes to an empty cursor; the
	// loop then completes the execution.
	status := schema.ExecutionStatusRunning
	clearReason := schema.PauseReason("")
	retries := 0
	ok, err := c.store.TransitionExecution(ctx, ex.ID,
		[]schema.ExecutionStatus{schema.ExecutionStatusPaused},
		store.ExecutionUpdate{
			Status:        &status,
			CurrentStepID: &next,
			RetryCount:    &retries,
			PauseReason:   &clearReason,
		},
	)
	if err != nil {
		return err
	}
	if !ok {
		return c.transitionConflict(ctx, ex.ID, schema.ExecutionStatusRunning)
	}

	if err := c.fsm.Transition(ctx, ex.ID, ex.WorkflowID,
		schema.ExecutionStatusPaused, schema.ExecutionStatusRunning); err != nil {
		return err
	}
	return c.runLoop(ctx, ex.ID)
}

// Wake is the continuation entry point for the wakeup scheduler. At-least-
// once delivery is fine: a wakeup for an execution that is no longer running
// is dropped, and the scheduler deletes the row once Wake returns nil.
func (c *Coordinator) Wake(ctx context.Context, wakeup *store.ScheduledWakeup) error {
	release := c.locks.Acquire(wakeup.ExecutionID)
	defer release()

	ex, err := c.store.GetExecution(ctx, wakeup.ExecutionID)
	if err != nil {
		if schema.IsNotFound(err) {
			return nil
		}
		return err
	}
	if ex.Status != schema.ExecutionStatusRunning {
		return nil
	}

	ctx = logging.WithIDs(ctx, ex.WorkflowID, ex.ID, "")

	switch wakeup.Kind {
	case store.WakeupKindDelay:
		if wakeup.ResumeStepID == "" {
			return c.complete(ctx, ex.ID, ex.WorkflowID)
		}
		retries := 0
		if err := c.store.UpdateExecution(ctx, ex.ID, store.ExecutionUpdate{
			CurrentStepID: &wakeup.ResumeStepID,
			RetryCount:    &retries,
		}); err != nil {
			return err
		}
	case store.WakeupKindRetry:
		// Cursor already points at the step to retry.
	default:
		c.logger.WarnContext(ctx, "unknown wakeup kind", "kind", string(wakeup.Kind))
		return nil
	}

	return c.runLoop(ctx, ex.ID)
}

// Stats returns aggregate execution analytics, optionally scoped to one
// workflow.
func (c *Coordinator) Stats(ctx context.Context, workflowID string) (*store.ExecutionStats, error) {
	return c.store.ExecutionStats(ctx, workflowID)
}

// runLoop executes steps until the execution suspends, completes, or fails.
// The caller must hold the per-execution lock.
func (c *Coordinator) runLoop(ctx context.Context, executionID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ex, err := c.store.GetExecution(ctx, executionID)
		if err != nil {
			return err
		}
		if ex.Status != schema.ExecutionStatusRunning {
			return nil
		}
		if ex.CurrentStepID == "" {
			return c.complete(ctx, ex.ID, ex.WorkflowID)
		}

		step := ex.Definition.Step(ex.CurrentStepID)
		if step == nil {
			return c.fail(ctx, ex, schema.NewErrorf(schema.ErrCodeValidation,
				"step %q not found in bound definition", ex.CurrentStepID))
		}

		c.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventStepStarted, map[string]any{
			"kind":    string(step.Kind),
			"attempt": ex.RetryCount + 1,
		})

		result, err := c.executor.dispatch(ctx, ex, step)
		if err != nil {
			proceed, handleErr := c.handleStepFailure(ctx, ex, step, err)
			if handleErr != nil {
				return handleErr
			}
			if !proceed {
				return nil
			}
			continue
		}

		c.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventStepCompleted, result.output)

		switch result.outcome {
		case outcomeAdvance:
			if err := c.advance(ctx, ex, result.nextStepID, result.mutations, ""); err != nil {
				return err
			}

		case outcomeSuspendDelay:
			// Wakeup row is already written; the execution stays running
			// but dormant until the scheduler fires it.
			return nil

		case outcomeSuspendApproval:
			status := schema.ExecutionStatusPaused
			reason := schema.PauseReasonApproval
			ok, err := c.store.TransitionExecution(ctx, ex.ID,
				[]schema.ExecutionStatus{schema.ExecutionStatusRunning},
				store.ExecutionUpdate{Status: &status, PauseReason: &reason},
			)
			if err != nil {
				return err
			}
			if ok {
				c.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventExecutionPaused, map[string]any{
					"reason": string(reason),
				})
			}
			return nil
		}
	}
}

// advance moves the cursor, merges context mutations, resets the retry
// counter, and optionally records a step error on the execution.
func (c *Coordinator) advance(ctx context.Context, ex *store.Execution, nextStepID string, mutations map[string]any, stepError string) error {
	update := store.ExecutionUpdate{}
	retries := 0
	update.RetryCount = &retries
	update.CurrentStepID = &nextStepID

	if len(mutations) > 0 {
		merged := map[string]any{}
		for k, v := range ex.Context {
			merged[k] = v
		}
		for k, v := range mutations {
			merged[k] = v
		}
		update.Context = merged
	}
	if stepError != "" {
		update.Error = &stepError
	}
	return c.store.UpdateExecution(ctx, ex.ID, update)
}

// handleStepFailure applies the step's retry policy. The bool reports
// whether the loop should keep going (in-loop retry or policy advance).
func (c *Coordinator) handleStepFailure(ctx context.Context, ex *store.Execution, step *schema.WorkflowStep, stepErr error) (bool, error) {
	c.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventStepFailed, map[string]any{
		"error":   stepErr.Error(),
		"attempt": ex.RetryCount + 1,
	})

	if IsRetryableError(stepErr) && ShouldRetry(&step.ErrorHandling, ex.RetryCount) {
		newCount := ex.RetryCount + 1
		if err := c.store.UpdateExecution(ctx, ex.ID, store.ExecutionUpdate{RetryCount: &newCount}); err != nil {
			return false, err
		}

		delay := RetryDelay(&step.ErrorHandling)
		if delay <= 0 {
			return true, nil
		}

		wakeAt := time.Now().UTC().Add(delay)
		wakeup := &store.ScheduledWakeup{
			ID:           uuid.NewString(),
			ExecutionID:  ex.ID,
			Kind:         store.WakeupKindRetry,
			ResumeStepID: step.ID,
			WakeAt:       wakeAt,
		}
		if err := c.store.CreateWakeup(ctx, wakeup); err != nil {
			return false, schema.NewErrorf(schema.ErrCodeStore,
				"schedule retry wakeup: %s", err.Error()).WithCause(err).WithStep(step.ID)
		}
		c.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventStepRetryScheduled, map[string]any{
			"attempt": newCount,
			"wake_at": wakeAt.Format(time.RFC3339),
		})
		return false, nil
	}

	// Retries exhausted or error not retryable: apply the step policy.
	switch step.ErrorHandling.Policy() {
	case schema.ErrorPolicyContinue:
		return true, c.advance(ctx, ex, firstNext(step), nil, stepErr.Error())

	case schema.ErrorPolicySkip:
		c.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventStepSkipped, nil)
		return true, c.advance(ctx, ex, firstNext(step), nil, "")

	default: // stop
		if IsRetryableError(stepErr) && step.ErrorHandling.MaxRetries > 0 {
			stepErr = schema.NewErrorf(schema.ErrCodeRetryExhausted,
				"step %q failed after %d attempts: %s", step.ID, ex.RetryCount+1, stepErr.Error()).
				WithStep(step.ID).WithCause(stepErr)
		}
		return false, c.fail(ctx, ex, stepErr)
	}
}

// fail moves the execution to failed and durably records the error. The
// failure is reported through the event log, never returned to the caller.
func (c *Coordinator) fail(ctx context.Context, ex *store.Execution, cause error) error {
	status := schema.ExecutionStatusFailed
	now := time.Now().UTC()
	msg := cause.Error()
	ok, err := c.store.TransitionExecution(ctx, ex.ID,
		[]schema.ExecutionStatus{schema.ExecutionStatusRunning},
		store.ExecutionUpdate{Status: &status, Error: &msg, CompletedAt: &now},
	)
	if err != nil {
		return err
	}
	if ok {
		return c.fsm.Transition(ctx, ex.ID, ex.WorkflowID,
			schema.ExecutionStatusRunning, schema.ExecutionStatusFailed)
	}
	return nil
}

func (c *Coordinator) complete(ctx context.Context, executionID, workflowID string) error {
	status := schema.ExecutionStatusCompleted
	now := time.Now().UTC()
	cursor := ""
	ok, err := c.store.TransitionExecution(ctx, executionID,
		[]schema.ExecutionStatus{schema.ExecutionStatusRunning},
		store.ExecutionUpdate{Status: &status, CurrentStepID: &cursor, CompletedAt: &now},
	)
	if err != nil {
		return err
	}
	if ok {
		return c.fsm.Transition(ctx, executionID, workflowID,
			schema.ExecutionStatusRunning, schema.ExecutionStatusCompleted)
	}
	return nil
}

func (c *Coordinator) transitionConflict(ctx context.Context, executionID string, target schema.ExecutionStatus) error {
	ex, err := c.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid execution transition: %s -> %s", ex.Status, target).
		WithDetails(map[string]any{"execution_id": executionID})
}
