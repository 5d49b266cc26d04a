package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kocayazbey/AyazTrade-sub008/internal/store"
	"github.com/kocayazbey/AyazTrade-sub008/internal/streaming"
	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// Notifier delivers approval requests to approvers. Implementations must
// tolerate repeated delivery of the same request.
type Notifier interface {
	NotifyApproval(ctx context.Context, req *store.ApprovalRequest, message string) error
}

// hubNotifier is the default Notifier: it publishes the request to the
// streaming hub and logs it. External channels (chat, email) plug in by
// replacing the Notifier on the gate.
type hubNotifier struct {
	hub    streaming.EventHub
	logger *slog.Logger
}

func (n *hubNotifier) NotifyApproval(ctx context.Context, req *store.ApprovalRequest, message string) error {
	n.logger.InfoContext(ctx, "approval requested",
		"approval_id", req.ID,
		"approver_id", req.ApproverID,
		"execution_id", req.ExecutionID,
		"message", message,
	)
	if n.hub == nil {
		return nil
	}
	return n.hub.Publish(ctx, streaming.StreamEvent{
		ExecutionID: req.ExecutionID,
		StepID:      req.StepID,
		EventType:   schema.EventApprovalRequested,
		Payload: map[string]any{
			"approval_id": req.ID,
			"approver_id": req.ApproverID,
			"message":     message,
		},
	})
}

// ApprovalGate creates and resolves approval requests. Resolution is a
// compare-and-set on the pending status, so each request resolves exactly
// once regardless of how many responses arrive.
type ApprovalGate struct {
	store    store.Store
	sink     *eventSink
	notifier Notifier
	logger   *slog.Logger
}

// NewApprovalGate creates a gate with the default hub-backed notifier.
func NewApprovalGate(st store.Store, sink *eventSink, hub streaming.EventHub, logger *slog.Logger) *ApprovalGate {
	return &ApprovalGate{
		store:    st,
		sink:     sink,
		notifier: &hubNotifier{hub: hub, logger: logger},
		logger:   logger,
	}
}

// SetNotifier replaces the approver notification channel.
func (g *ApprovalGate) SetNotifier(n Notifier) {
	if n != nil {
		g.notifier = n
	}
}

// Request creates a pending approval request for the given step and
// notifies the approver. Notification failures are logged, not fatal: the
// request is durable and can be listed and resolved regardless.
func (g *ApprovalGate) Request(ctx context.Context, ex *store.Execution, stepID string, cfg *schema.ApprovalConfig) (*store.ApprovalRequest, error) {
	req := &store.ApprovalRequest{
		ID:          uuid.NewString(),
		ExecutionID: ex.ID,
		StepID:      stepID,
		ApproverID:  cfg.ApproverID,
		Status:      schema.ApprovalStatusPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := g.store.CreateApproval(ctx, req); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create approval request: %s", err.Error()).
			WithCause(err).WithStep(stepID)
	}

	g.sink.emit(ctx, ex.ID, ex.WorkflowID, stepID, schema.EventApprovalRequested, map[string]any{
		"approval_id": req.ID,
		"approver_id": req.ApproverID,
		"message":     cfg.Message,
	})

	if err := g.notifier.NotifyApproval(ctx, req, cfg.Message); err != nil {
		g.logger.WarnContext(ctx, "notify approver", "approval_id", req.ID, "error", err)
	}
	return req, nil
}

// Resolve applies a decision to a pending request. A second response to the
// same request fails with INVALID_TRANSITION.
func (g *ApprovalGate) Resolve(ctx context.Context, requestID string, decision schema.ApprovalDecision, comments string) (*store.ApprovalRequest, error) {
	var status schema.ApprovalStatus
	switch decision {
	case schema.DecisionApproved:
		status = schema.ApprovalStatusApproved
	case schema.DecisionRejected:
		status = schema.ApprovalStatusRejected
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown approval decision %q", decision)
	}

	ok, err := g.store.ResolveApproval(ctx, requestID, status, comments)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "resolve approval: %s", err.Error()).WithCause(err)
	}
	if !ok {
		// Distinguish missing from already-resolved.
		req, getErr := g.store.GetApproval(ctx, requestID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"approval request %q already resolved as %s", requestID, req.Status)
	}

	req, err := g.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}

	g.sink.emit(ctx, req.ExecutionID, "", req.StepID, schema.EventApprovalResolved, map[string]any{
		"approval_id": req.ID,
		"decision":    string(decision),
		"comments":    comments,
	})
	return req, nil
}
