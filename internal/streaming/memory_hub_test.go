package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return StreamEvent{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryHub_PublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		ExecutionID: "ex-1",
		WorkflowID:  "wf-1",
		EventType:   "step_completed",
		Payload:     map[string]any{"step": "charge"},
	}
	require.NoError(t, hub.Publish(ctx, event))

	got := recvEvent(t, ch)
	assert.Equal(t, event, got)
}

func TestMemoryHub_ExecutionFilter(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{ExecutionID: "ex-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "ex-2", EventType: "step_started"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "ex-1", EventType: "step_started"}))

	got := recvEvent(t, ch)
	assert.Equal(t, "ex-1", got.ExecutionID)
	assertNoEvent(t, ch)
}

func TestMemoryHub_EventTypeFilter(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		WorkflowID: "wf-1",
		EventTypes: []string{"execution_completed", "execution_failed"},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf-1", EventType: "step_started"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf-2", EventType: "execution_completed"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{WorkflowID: "wf-1", EventType: "execution_completed"}))

	got := recvEvent(t, ch)
	assert.Equal(t, "execution_completed", got.EventType)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assertNoEvent(t, ch)
}

func TestMemoryHub_CancelStopsDelivery(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	cancel()
	require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "ex-1", EventType: "step_started"}))
	assertNoEvent(t, ch)
}

func TestMemoryHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// Overfill the buffer; Publish must never block.
	for i := 0; i < defaultChannelBuffer*2; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "ex-1", EventType: "step_started"}))
	}
}

func TestMemoryHub_ContextCancelled(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, EventFilter{})
	require.Error(t, err)
	require.Error(t, hub.Publish(ctx, StreamEvent{}))
}
