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
	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// stepOutcome classifies how the step loop proceeds after a dispatch.
type stepOutcome int

const (
	// outcomeAdvance moves the cursor to the result's next step.
	outcomeAdvance stepOutcome = iota
	// outcomeSuspendDelay leaves the execution dormant until its scheduled
	// wakeup fires. The cursor stays on the delay step.
	outcomeSuspendDelay
	// outcomeSuspendApproval pauses the execution pending a human decision.
	outcomeSuspendApproval
)

// stepResult is the outcome of dispatching a single step.
type stepResult struct {
	outcome    stepOutcome
	nextStepID string // "" means no successor: the execution completes
	mutations  map[string]any
	output     map[string]any
	approval   *store.ApprovalRequest
}

// StepExecutor dispatches a single workflow step by kind. It owns no
// execution lifecycle state; the coordinator decides what each result means
// for the execution.
type StepExecutor struct {
	registry   *handlers.Registry
	conditions *condition.Evaluator
	breakers   *CircuitBreakerRegistry
	gate       *ApprovalGate
	store      store.Store
	sink       *eventSink
	logger     *slog.Logger
}

// NewStepExecutor wires a step executor.
func NewStepExecutor(
	registry *handlers.Registry,
	conditions *condition.Evaluator,
	breakers *CircuitBreakerRegistry,
	gate *ApprovalGate,
	st store.Store,
	sink *eventSink,
	logger *slog.Logger,
) *StepExecutor {
	return &StepExecutor{
		registry:   registry,
		conditions: conditions,
		breakers:   breakers,
		gate:       gate,
		store:      st,
		sink:       sink,
		logger:     logger,
	}
}

// dispatch runs one step against the current execution snapshot.
func (e *StepExecutor) dispatch(ctx context.Context, ex *store.Execution, step *schema.WorkflowStep) (*stepResult, error) {
	ctx = logging.WithStepID(ctx, step.ID)

	switch step.Kind {
	case schema.StepKindAction:
		return e.dispatchAction(ctx, ex, step)
	case schema.StepKindCondition:
		return e.dispatchCondition(ctx, ex, step)
	case schema.StepKindDelay:
		return e.dispatchDelay(ctx, ex, step)
	case schema.StepKindApproval:
		return e.dispatchApproval(ctx, ex, step)
	case schema.StepKindNotification:
		return e.dispatchNotification(ctx, ex, step)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown step kind %q", step.Kind).WithStep(step.ID)
	}
}

func (e *StepExecutor) dispatchAction(ctx context.Context, ex *store.Execution, step *schema.WorkflowStep) (*stepResult, error) {
	cfg, err := step.ActionConfig()
	if err != nil {
		return nil, err
	}

	if err := e.breakers.AllowRequest(cfg.Action); err != nil {
		e.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventCircuitBreakerOpen, map[string]any{
			"handler": cfg.Action,
		})
		return nil, err
	}

	handler, err := e.registry.Get(cfg.Action)
	if err != nil {
		return nil, err
	}

	result, err := handler.Execute(ctx, handlers.HandlerInput{
		Params:  cfg.Params,
		Context: ex.Context,
	})
	if err != nil {
		e.breakers.RecordFailure(cfg.Action)
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
			"action %q failed: %s", cfg.Action, err.Error()).WithCause(err).WithStep(step.ID)
	}
	e.breakers.RecordSuccess(cfg.Action)

	res := &stepResult{
		outcome:    outcomeAdvance,
		nextStepID: firstNext(step),
	}
	if result != nil {
		res.mutations = result.ContextMutations
		res.output = result.Output
	}
	return res, nil
}

func (e *StepExecutor) dispatchCondition(ctx context.Context, ex *store.Execution, step *schema.WorkflowStep) (*stepResult, error) {
	cfg, err := step.ConditionConfig()
	if err != nil {
		return nil, err
	}

	verdict, err := e.conditions.Evaluate(&cfg.Condition, ex.Context)
	if err != nil {
		return nil, err
	}

	// True takes the first branch; false takes the second. A single-branch
	// condition step routes both verdicts to its one successor.
	next := ""
	switch {
	case verdict && len(step.NextSteps) > 0:
		next = step.NextSteps[0]
	case !verdict && len(step.NextSteps) > 1:
		next = step.NextSteps[1]
	case !verdict && len(step.NextSteps) == 1:
		next = step.NextSteps[0]
	}

	e.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventConditionEvaluated, map[string]any{
		"result":    verdict,
		"next_step": next,
	})

	return &stepResult{
		outcome:    outcomeAdvance,
		nextStepID: next,
		output:     map[string]any{"result": verdict},
	}, nil
}

func (e *StepExecutor) dispatchDelay(ctx context.Context, ex *store.Execution, step *schema.WorkflowStep) (*stepResult, error) {
	cfg, err := step.DelayConfig()
	if err != nil {
		return nil, err
	}

	wakeAt := time.Now().UTC().Add(time.Duration(cfg.DelaySeconds) * time.Second)
	wakeup := &store.ScheduledWakeup{
		ID:           uuid.NewString(),
		ExecutionID:  ex.ID,
		Kind:         store.WakeupKindDelay,
		ResumeStepID: firstNext(step),
		WakeAt:       wakeAt,
	}
	if err := e.store.CreateWakeup(ctx, wakeup); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"schedule delay wakeup: %s", err.Error()).WithCause(err).WithStep(step.ID)
	}

	e.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventDelayScheduled, map[string]any{
		"delay_seconds": cfg.DelaySeconds,
		"wake_at":       wakeAt.Format(time.RFC3339),
	})

	return &stepResult{
		outcome: outcomeSuspendDelay,
		output:  map[string]any{"wake_at": wakeAt.Format(time.RFC3339)},
	}, nil
}

func (e *StepExecutor) dispatchApproval(ctx context.Context, ex *store.Execution, step *schema.WorkflowStep) (*stepResult, error) {
	cfg, err := step.ApprovalConfig()
	if err != nil {
		return nil, err
	}

	req, err := e.gate.Request(ctx, ex, step.ID, cfg)
	if err != nil {
		return nil, err
	}

	return &stepResult{
		outcome:  outcomeSuspendApproval,
		approval: req,
		output:   map[string]any{"approval_id": req.ID},
	}, nil
}

// dispatchNotification is best-effort: delivery failures are recorded as
// notification_failed events and the step advances, unless the step's error
// policy is stop.
func (e *StepExecutor) dispatchNotification(ctx context.Context, ex *store.Execution, step *schema.WorkflowStep) (*stepResult, error) {
	cfg, err := step.NotificationConfig()
	if err != nil {
		return nil, err
	}

	res := &stepResult{
		outcome:    outcomeAdvance,
		nextStepID: firstNext(step),
	}

	deliver := func() error {
		if err := e.breakers.AllowRequest(cfg.Handler); err != nil {
			return err
		}
		handler, err := e.registry.Get(cfg.Handler)
		if err != nil {
			return err
		}
		result, err := handler.Execute(ctx, handlers.HandlerInput{
			Params:  cfg.Params,
			Context: ex.Context,
		})
		if err != nil {
			e.breakers.RecordFailure(cfg.Handler)
			return err
		}
		e.breakers.RecordSuccess(cfg.Handler)
		if result != nil {
			res.output = result.Output
		}
		return nil
	}

	if err := deliver(); err != nil {
		if step.ErrorHandling.OnError == schema.ErrorPolicyStop {
			return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
				"notification %q failed: %s", cfg.Handler, err.Error()).WithCause(err).WithStep(step.ID)
		}
		e.logger.WarnContext(ctx, "notification delivery failed",
			"handler", cfg.Handler, "error", err)
		e.sink.emit(ctx, ex.ID, ex.WorkflowID, step.ID, schema.EventNotificationFailed, map[string]any{
			"handler": cfg.Handler,
			"error":   err.Error(),
		})
	}

	return res, nil
}

func firstNext(step *schema.WorkflowStep) string {
	if len(step.NextSteps) > 0 {
		return step.NextSteps[0]
	}
	return ""
}
