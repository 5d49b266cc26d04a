package validation

import (
	"fmt"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// HandlerLookup answers whether a handler name is registered. Nil lookup
// skips handler-existence checks (e.g. validating before handlers load).
type HandlerLookup interface {
	Has(name string) bool
}

// validateSemantic performs the checks JSON Schema cannot express: unique
// step IDs, next-step references, per-kind branch counts, and per-kind
// config constraints.
func validateSemantic(def *schema.WorkflowDefinition, lookup HandlerLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	stepIDs := make(map[string]bool, len(def.Steps))
	for i, s := range def.Steps {
		if stepIDs[s.ID] {
			result.AddError(fmt.Sprintf("steps[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step id %q", s.ID))
		}
		stepIDs[s.ID] = true
	}

	for i := range def.Steps {
		validateStep(&def.Steps[i], fmt.Sprintf("steps[%d]", i), stepIDs, lookup, result)
	}

	return result
}

func validateStep(step *schema.WorkflowStep, path string, stepIDs map[string]bool, lookup HandlerLookup, result *schema.ValidationResult) {
	for j, next := range step.NextSteps {
		if !stepIDs[next] {
			result.AddError(fmt.Sprintf("%s.next_steps[%d]", path, j), schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent step %q", next))
		}
		if next == step.ID {
			result.AddError(fmt.Sprintf("%s.next_steps[%d]", path, j), schema.ErrCodeValidation,
				"step references itself")
		}
	}

	// Branch counts: condition steps take one or two successors (a single
	// branch serves both verdicts); every other kind takes zero or one.
	if step.Kind == schema.StepKindCondition {
		if len(step.NextSteps) < 1 || len(step.NextSteps) > 2 {
			result.AddError(path+".next_steps", schema.ErrCodeValidation,
				fmt.Sprintf("condition steps declare 1 or 2 next steps, got %d", len(step.NextSteps)))
		}
	} else if len(step.NextSteps) > 1 {
		result.AddError(path+".next_steps", schema.ErrCodeValidation,
			fmt.Sprintf("%s steps declare at most 1 next step, got %d", step.Kind, len(step.NextSteps)))
	}

	// The typed accessors enforce the per-kind required fields; the handler
	// existence checks on top need the registry.
	switch step.Kind {
	case schema.StepKindAction:
		cfg, err := step.ActionConfig()
		if err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation, err.Error())
			return
		}
		if lookup != nil && !lookup.Has(cfg.Action) {
			result.AddError(path+".config.action", schema.ErrCodeHandlerUnavailable,
				fmt.Sprintf("handler %q not registered", cfg.Action))
		}

	case schema.StepKindCondition:
		if _, err := step.ConditionConfig(); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation, err.Error())
		}

	case schema.StepKindDelay:
		if _, err := step.DelayConfig(); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation, err.Error())
		}

	case schema.StepKindApproval:
		if _, err := step.ApprovalConfig(); err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation, err.Error())
		}

	case schema.StepKindNotification:
		cfg, err := step.NotificationConfig()
		if err != nil {
			result.AddError(path+".config", schema.ErrCodeValidation, err.Error())
			return
		}
		if lookup != nil && !lookup.Has(cfg.Handler) {
			result.AddError(path+".config.handler", schema.ErrCodeHandlerUnavailable,
				fmt.Sprintf("handler %q not registered", cfg.Handler))
		}
	}
}
