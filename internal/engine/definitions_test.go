package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kocayazbey/AyazTrade-sub008/internal/handlers"
	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

func newDefinitionManager(t *testing.T) (*DefinitionManager, *memStore) {
	t.Helper()
	st := newMemStore()
	registry := handlers.NewRegistry()
	require.NoError(t, registry.Register(&funcHandler{name: "charge_card", fn: func(_ context.Context, _ handlers.HandlerInput) (*handlers.HandlerResult, error) {
		return &handlers.HandlerResult{}, nil
	}}))
	m, err := NewDefinitionManager(st, registry, testLogger())
	require.NoError(t, err)
	return m, st
}

func draftDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name:    "order pipeline",
		Trigger: schema.Trigger{Kind: schema.TriggerKindManual},
		Steps: []schema.WorkflowStep{
			{ID: "charge", Kind: schema.StepKindAction, Config: map[string]any{"action": "charge_card"}},
		},
	}
}

func TestDefinitionManager_Create(t *testing.T) {
	m, st := newDefinitionManager(t)
	ctx := context.Background()

	def := draftDefinition()
	require.NoError(t, m.Create(ctx, def))

	assert.NotEmpty(t, def.ID)
	assert.Equal(t, schema.DefinitionStatusDraft, def.Status)

	got, err := st.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "order pipeline", got.Name)
}

func TestDefinitionManager_CreateRejectsInvalid(t *testing.T) {
	m, _ := newDefinitionManager(t)
	ctx := context.Background()

	def := draftDefinition()
	def.Steps[0].NextSteps = []string{"missing"}

	err := m.Create(ctx, def)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestDefinitionManager_CreateRejectsUnknownHandler(t *testing.T) {
	m, _ := newDefinitionManager(t)
	ctx := context.Background()

	def := draftDefinition()
	def.Steps[0].Config = map[string]any{"action": "unregistered"}

	err := m.Create(ctx, def)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestDefinitionManager_UpdateBumpsVersion(t *testing.T) {
	m, _ := newDefinitionManager(t)
	ctx := context.Background()

	def := draftDefinition()
	require.NoError(t, m.Create(ctx, def))
	require.Equal(t, 1, def.Version)

	def.Name = "renamed pipeline"
	require.NoError(t, m.Update(ctx, def))
	assert.Equal(t, 2, def.Version)
}

func TestDefinitionManager_SetStatus(t *testing.T) {
	m, st := newDefinitionManager(t)
	ctx := context.Background()

	def := draftDefinition()
	require.NoError(t, m.Create(ctx, def))

	require.NoError(t, m.SetStatus(ctx, def.ID, schema.DefinitionStatusActive))
	got, err := st.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.DefinitionStatusActive, got.Status)

	// Idempotent when already in the target status.
	require.NoError(t, m.SetStatus(ctx, def.ID, schema.DefinitionStatusActive))

	err = m.SetStatus(ctx, def.ID, schema.DefinitionStatus("archived"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	err = m.SetStatus(ctx, "missing", schema.DefinitionStatusActive)
	require.Error(t, err)
	assert.True(t, schema.IsNotFound(err))
}

func TestDefinitionManager_Validate(t *testing.T) {
	m, _ := newDefinitionManager(t)

	def := draftDefinition()
	def.Status = schema.DefinitionStatusDraft
	def.Steps = append(def.Steps, schema.WorkflowStep{ID: "charge", Kind: schema.StepKindAction, Config: map[string]any{"action": "charge_card"}})

	result, err := m.Validate(def)
	require.NoError(t, err)
	assert.False(t, result.Valid())
}
