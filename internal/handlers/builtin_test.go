package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, RegisterBuiltins(reg, logger, HTTPConfig{}))

	assert.Equal(t, []string{"context.set", "http.request", "log", "transform.jq"}, reg.List())
}

func TestLogHandler(t *testing.T) {
	h := &LogHandler{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	result, err := h.Execute(context.Background(), HandlerInput{
		Params: map[string]any{
			"message": "order shipped",
			"level":   "warn",
			"fields":  map[string]any{"order_id": "o-1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, true, result.Output["logged"])
}

func TestContextSetHandler(t *testing.T) {
	h := &ContextSetHandler{}

	result, err := h.Execute(context.Background(), HandlerInput{
		Params: map[string]any{
			"values": map[string]any{"stage": "review", "priority": 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"stage": "review", "priority": 2}, result.ContextMutations)
	assert.Equal(t, 2, result.Output["keys_set"])
}

func TestContextSetHandler_MissingValues(t *testing.T) {
	h := &ContextSetHandler{}

	_, err := h.Execute(context.Background(), HandlerInput{Params: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestJQTransformHandler(t *testing.T) {
	h := NewJQTransformHandler()

	result, err := h.Execute(context.Background(), HandlerInput{
		Params:  map[string]any{"query": `{total: (.amount * 2)}`},
		Context: map[string]any{"amount": 21.0},
	})
	require.NoError(t, err)
	require.NotNil(t, result.ContextMutations)
	assert.EqualValues(t, 42, result.ContextMutations["total"])
}

func TestJQTransformHandler_NonObjectResult(t *testing.T) {
	h := NewJQTransformHandler()

	result, err := h.Execute(context.Background(), HandlerInput{
		Params:  map[string]any{"query": `.amount`},
		Context: map[string]any{"amount": 5.0},
	})
	require.NoError(t, err)
	assert.Nil(t, result.ContextMutations)
	assert.EqualValues(t, 5, result.Output["result"])
}

func TestJQTransformHandler_InvalidQuery(t *testing.T) {
	h := NewJQTransformHandler()

	_, err := h.Execute(context.Background(), HandlerInput{
		Params: map[string]any{"query": `{broken`},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = h.Execute(context.Background(), HandlerInput{Params: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestJQTransformHandler_CachesCompiled(t *testing.T) {
	h := NewJQTransformHandler()

	for i := 0; i < 3; i++ {
		_, err := h.Execute(context.Background(), HandlerInput{
			Params:  map[string]any{"query": `{x: 1}`},
			Context: map[string]any{},
		})
		require.NoError(t, err)
	}
	assert.Len(t, h.cache.cache, 1)
}

func TestHTTPRequestHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "token-1", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"order_id":"o-1"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	h := NewHTTPRequestHandler(HTTPConfig{})
	result, err := h.Execute(context.Background(), HandlerInput{
		Params: map[string]any{
			"url":     srv.URL,
			"method":  "post",
			"body":    map[string]any{"order_id": "o-1"},
			"headers": map[string]any{"Authorization": "token-1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Output["status"])
	assert.Equal(t, map[string]any{"accepted": true}, result.Output["body"])
}

func TestHTTPRequestHandler_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewHTTPRequestHandler(HTTPConfig{})
	result, err := h.Execute(context.Background(), HandlerInput{
		Params: map[string]any{"url": srv.URL},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStepFailed, schema.CodeOf(err))
	require.NotNil(t, result)
	assert.Equal(t, http.StatusBadGateway, result.Output["status"])
}

func TestHTTPRequestHandler_MissingURL(t *testing.T) {
	h := NewHTTPRequestHandler(HTTPConfig{})

	_, err := h.Execute(context.Background(), HandlerInput{Params: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
