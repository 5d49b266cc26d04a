package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kocayazbey/AyazTrade-sub008/internal/store"
	"github.com/kocayazbey/AyazTrade-sub008/internal/validation"
	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// DefinitionManager is the write path for workflow definitions. Every create
// and update runs the structural and semantic validation passes before the
// definition reaches the store.
type DefinitionManager struct {
	store     store.Store
	validator *validation.DefinitionValidator
	logger    *slog.Logger
}

// NewDefinitionManager creates a manager whose validator checks handler
// references against the given lookup. lookup may be nil to skip those checks.
func NewDefinitionManager(st store.Store, lookup validation.HandlerLookup, logger *slog.Logger) (*DefinitionManager, error) {
	validator, err := validation.NewDefinitionValidator(lookup)
	if err != nil {
		return nil, err
	}
	return &DefinitionManager{store: st, validator: validator, logger: logger}, nil
}

// Create validates and persists a new definition. Missing ID and status
// default to a fresh UUID and draft.
func (m *DefinitionManager) Create(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Status == "" {
		def.Status = schema.DefinitionStatusDraft
	}
	if err := m.validator.ValidateToError(def); err != nil {
		return err
	}
	if err := m.store.CreateDefinition(ctx, def); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "workflow definition created",
		"workflow_id", def.ID, "name", def.Name, "version", def.Version)
	return nil
}

// Update validates and persists a changed definition, bumping its version.
// Running executions keep their bound snapshot.
func (m *DefinitionManager) Update(ctx context.Context, def *schema.WorkflowDefinition) error {
	if err := m.validator.ValidateToError(def); err != nil {
		return err
	}
	def.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateDefinition(ctx, def); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "workflow definition updated",
		"workflow_id", def.ID, "version", def.Version)
	return nil
}

// SetStatus flips a definition between draft, active, and inactive.
func (m *DefinitionManager) SetStatus(ctx context.Context, id string, status schema.DefinitionStatus) error {
	switch status {
	case schema.DefinitionStatusDraft, schema.DefinitionStatusActive, schema.DefinitionStatusInactive:
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown definition status %q", status)
	}
	def, err := m.store.GetDefinition(ctx, id)
	if err != nil {
		return err
	}
	if def.Status == status {
		return nil
	}
	def.Status = status
	def.UpdatedAt = time.Now().UTC()
	if err := m.store.UpdateDefinition(ctx, def); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "workflow definition status changed",
		"workflow_id", id, "status", string(status))
	return nil
}

// Validate runs the validation passes without persisting, returning every
// issue found.
func (m *DefinitionManager) Validate(def *schema.WorkflowDefinition) (*schema.ValidationResult, error) {
	return m.validator.Validate(def)
}

// Get returns a definition by ID.
func (m *DefinitionManager) Get(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	return m.store.GetDefinition(ctx, id)
}

// List returns definitions matching the filter.
func (m *DefinitionManager) List(ctx context.Context, filter store.DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	return m.store.ListDefinitions(ctx, filter)
}

// Delete removes a definition. Existing executions keep their snapshots.
func (m *DefinitionManager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteDefinition(ctx, id)
}
