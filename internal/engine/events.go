package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kocayazbey/AyazTrade-sub008/internal/store"
	"github.com/kocayazbey/AyazTrade-sub008/internal/streaming"
)

// eventSink appends execution events to the durable log and mirrors them to
// the streaming hub. Event emission is best-effort: failures are logged and
// never fail the step that produced them.
type eventSink struct {
	store  store.Store
	hub    streaming.EventHub
	logger *slog.Logger
}

func newEventSink(st store.Store, hub streaming.EventHub, logger *slog.Logger) *eventSink {
	return &eventSink{store: st, hub: hub, logger: logger}
}

// AppendEvent implements EventAppender: the event goes to the durable log
// and is mirrored to the streaming hub. Only the durable append can fail.
func (s *eventSink) AppendEvent(ctx context.Context, event *store.Event) error {
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return err
	}
	if s.hub != nil {
		var payload any
		if len(event.Payload) > 0 {
			var decoded map[string]any
			if json.Unmarshal(event.Payload, &decoded) == nil {
				payload = decoded
			}
		}
		streamEvent := streaming.StreamEvent{
			ExecutionID: event.ExecutionID,
			WorkflowID:  event.WorkflowID,
			StepID:      event.StepID,
			EventType:   event.Type,
			Payload:     payload,
		}
		if err := s.hub.Publish(ctx, streamEvent); err != nil {
			s.logger.WarnContext(ctx, "publish stream event", "event_type", event.Type, "error", err)
		}
	}
	return nil
}

func (s *eventSink) emit(ctx context.Context, executionID, workflowID, stepID, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if len(payload) > 0 {
		encoded, err := json.Marshal(payload)
		if err != nil {
			s.logger.WarnContext(ctx, "encode event payload", "event_type", eventType, "error", err)
		} else {
			raw = encoded
		}
	}

	event := &store.Event{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		StepID:      stepID,
		Type:        eventType,
		Payload:     raw,
	}
	if err := s.AppendEvent(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "append event", "event_type", eventType, "execution_id", executionID, "error", err)
	}
}
