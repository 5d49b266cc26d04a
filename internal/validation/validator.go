// Package validation checks workflow definitions before they are stored or
// started: a structural pass against an embedded JSON Schema, then a
// semantic pass over step graph and per-kind config constraints.
package validation

import (
	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// DefinitionValidator combines the structural and semantic passes.
type DefinitionValidator struct {
	structural *JSONSchemaValidator
	lookup     HandlerLookup
}

// NewDefinitionValidator creates a validator. lookup may be nil to skip
// handler-existence checks.
func NewDefinitionValidator(lookup HandlerLookup) (*DefinitionValidator, error) {
	structural, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{structural: structural, lookup: lookup}, nil
}

// Validate runs both passes and collects all issues from the semantic pass.
func (v *DefinitionValidator) Validate(def *schema.WorkflowDefinition) (*schema.ValidationResult, error) {
	if err := v.structural.ValidateStructure(def); err != nil {
		return nil, err
	}
	return validateSemantic(def, v.lookup), nil
}

// ValidateToError is the single-error convenience form used on the write
// path: any issue rejects the definition.
func (v *DefinitionValidator) ValidateToError(def *schema.WorkflowDefinition) error {
	result, err := v.Validate(def)
	if err != nil {
		return err
	}
	return result.ToError()
}
