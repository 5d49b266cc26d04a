package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

type stubHandler struct{ name string }

func (h *stubHandler) Name() string { return h.name }
func (h *stubHandler) Execute(context.Context, HandlerInput) (*HandlerResult, error) {
	return &HandlerResult{}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{name: "send_email"}))

	h, err := reg.Get("send_email")
	require.NoError(t, err)
	assert.Equal(t, "send_email", h.Name())
	assert.True(t, reg.Has("send_email"))
	assert.False(t, reg.Has("other"))
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeHandlerUnavailable, schema.CodeOf(err))
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubHandler{name: "send_email"}))

	err := reg.Register(&stubHandler{name: "send_email"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	require.Error(t, reg.Register(nil))
	require.Error(t, reg.Register(&stubHandler{name: ""}))
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(&stubHandler{name: name}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.List())
}
