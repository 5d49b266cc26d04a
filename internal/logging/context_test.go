package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, WorkflowID(ctx))
	assert.Empty(t, ExecutionID(ctx))
	assert.Empty(t, StepID(ctx))

	ctx = WithIDs(ctx, "wf-1", "ex-1", "charge")
	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "ex-1", ExecutionID(ctx))
	assert.Equal(t, "charge", StepID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithIDs(context.Background(), "wf-1", "ex-1", "")
	LogWith(ctx, logger).Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "wf-1", record["workflow_id"])
	assert.Equal(t, "ex-1", record["execution_id"])
	_, hasStep := record["step_id"]
	assert.False(t, hasStep)
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithIDs(context.Background(), "wf-1", "ex-1", "charge")
	logger.InfoContext(ctx, "step ran", "attempt", 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "wf-1", record["workflow_id"])
	assert.Equal(t, "ex-1", record["execution_id"])
	assert.Equal(t, "charge", record["step_id"])
	assert.EqualValues(t, 1, record["attempt"])
}

func TestCorrelationHandler_NoIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "plain")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	_, has := record["workflow_id"]
	assert.False(t, has)
}

func TestCorrelationHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	base := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(base).With("component", "engine").WithGroup("detail")

	ctx := WithExecutionID(context.Background(), "ex-1")
	logger.InfoContext(ctx, "grouped", "key", "value")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "engine", record["component"])
	detail, ok := record["detail"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "value", detail["key"])
}
