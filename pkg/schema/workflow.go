package schema

import (
	"encoding/json"
	"time"
)

// WorkflowDefinition is a named, versioned graph of steps with a trigger.
// Definitions are owned by the configuration layer; once an execution has
// captured a version, that version's content is treated as immutable.
type WorkflowDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Trigger     Trigger          `json:"trigger"`
	Steps       []WorkflowStep   `json:"steps"`
	Status      DefinitionStatus `json:"status"`
	Version     int              `json:"version"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Step returns the step with the given ID, or nil if the definition has none.
func (d *WorkflowDefinition) Step(id string) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// FirstStep returns the entry step of the definition, or nil when empty.
func (d *WorkflowDefinition) FirstStep() *WorkflowStep {
	if len(d.Steps) == 0 {
		return nil
	}
	return &d.Steps[0]
}

// DefinitionStatus represents the publication state of a workflow definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft    DefinitionStatus = "draft"
	DefinitionStatusActive   DefinitionStatus = "active"
	DefinitionStatusInactive DefinitionStatus = "inactive"
)

// TriggerKind enumerates how an execution of a definition may be initiated.
type TriggerKind string

const (
	TriggerKindEvent    TriggerKind = "event"
	TriggerKindSchedule TriggerKind = "schedule"
	TriggerKindManual   TriggerKind = "manual"
	TriggerKindWebhook  TriggerKind = "webhook"
)

// Trigger describes what initiates executions of a definition.
// Schedule triggers carry a "cron" parameter; event and webhook triggers
// carry whatever routing parameters the host application needs.
type Trigger struct {
	Kind       TriggerKind    `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StepKind enumerates the kinds of steps in a workflow.
type StepKind string

const (
	StepKindAction       StepKind = "action"
	StepKindCondition    StepKind = "condition"
	StepKindDelay        StepKind = "delay"
	StepKindApproval     StepKind = "approval"
	StepKindNotification StepKind = "notification"
)

// WorkflowStep is a single unit of work in the graph. Config is the
// kind-specific configuration; the typed accessors below decode it into
// the per-kind variants.
type WorkflowStep struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Kind          StepKind       `json:"kind"`
	Config        map[string]any `json:"config,omitempty"`
	NextSteps     []string       `json:"next_steps,omitempty"`
	ErrorHandling ErrorHandling  `json:"error_handling,omitempty"`
}

// ErrorPolicy controls what happens when a step's retries are exhausted.
type ErrorPolicy string

const (
	ErrorPolicyStop     ErrorPolicy = "stop"
	ErrorPolicyContinue ErrorPolicy = "continue"
	ErrorPolicySkip     ErrorPolicy = "skip"
)

// ErrorHandling is a step's failure-recovery policy.
type ErrorHandling struct {
	MaxRetries        int         `json:"max_retries,omitempty"`
	RetryDelaySeconds int         `json:"retry_delay_seconds,omitempty"`
	OnError           ErrorPolicy `json:"on_error,omitempty"`
}

// Policy returns the effective error policy, defaulting to stop.
func (h ErrorHandling) Policy() ErrorPolicy {
	if h.OnError == "" {
		return ErrorPolicyStop
	}
	return h.OnError
}

// ActionConfig is the config variant for action steps.
type ActionConfig struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Condition is the boolean predicate grammar shared by condition steps and
// the platform's rule system. Either the structured field/operator/value
// form or a free-form expr expression is set, not both.
type Condition struct {
	Field      string            `json:"field,omitempty"`
	Operator   ConditionOperator `json:"operator,omitempty"`
	Value      any               `json:"value,omitempty"`
	Expression string            `json:"expression,omitempty"`
}

// ConditionOperator enumerates the comparison operators of the structured
// condition form.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorContains    ConditionOperator = "contains"
)

// ConditionConfig is the config variant for condition steps.
type ConditionConfig struct {
	Condition Condition `json:"condition"`
}

// DelayConfig is the config variant for delay steps.
type DelayConfig struct {
	DelaySeconds int `json:"delay_seconds"`
}

// ApprovalConfig is the config variant for approval steps.
type ApprovalConfig struct {
	ApproverID string `json:"approver_id"`
	Message    string `json:"message,omitempty"`
}

// NotificationConfig is the config variant for notification steps.
// Handler names the registered notification-dispatch handler.
type NotificationConfig struct {
	Handler string         `json:"handler"`
	Params  map[string]any `json:"params,omitempty"`
}

// ActionConfig decodes the step config as an action variant.
func (s *WorkflowStep) ActionConfig() (*ActionConfig, error) {
	var cfg ActionConfig
	if err := decodeConfig(s.Config, &cfg); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "invalid action config: %s", err.Error()).WithStep(s.ID)
	}
	if cfg.Action == "" {
		return nil, NewError(ErrCodeValidation, "action step config missing action name").WithStep(s.ID)
	}
	return &cfg, nil
}

// ConditionConfig decodes the step config as a condition variant.
func (s *WorkflowStep) ConditionConfig() (*ConditionConfig, error) {
	var cfg ConditionConfig
	if err := decodeConfig(s.Config, &cfg); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "invalid condition config: %s", err.Error()).WithStep(s.ID)
	}
	c := cfg.Condition
	if c.Expression == "" && (c.Field == "" || c.Operator == "") {
		return nil, NewError(ErrCodeValidation, "condition step config requires field+operator or expression").WithStep(s.ID)
	}
	return &cfg, nil
}

// DelayConfig decodes the step config as a delay variant.
func (s *WorkflowStep) DelayConfig() (*DelayConfig, error) {
	var cfg DelayConfig
	if err := decodeConfig(s.Config, &cfg); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "invalid delay config: %s", err.Error()).WithStep(s.ID)
	}
	if cfg.DelaySeconds < 0 {
		return nil, NewErrorf(ErrCodeValidation, "delay_seconds must be >= 0, got %d", cfg.DelaySeconds).WithStep(s.ID)
	}
	return &cfg, nil
}

// ApprovalConfig decodes the step config as an approval variant.
func (s *WorkflowStep) ApprovalConfig() (*ApprovalConfig, error) {
	var cfg ApprovalConfig
	if err := decodeConfig(s.Config, &cfg); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "invalid approval config: %s", err.Error()).WithStep(s.ID)
	}
	if cfg.ApproverID == "" {
		return nil, NewError(ErrCodeValidation, "approval step config missing approver_id").WithStep(s.ID)
	}
	return &cfg, nil
}

// NotificationConfig decodes the step config as a notification variant.
func (s *WorkflowStep) NotificationConfig() (*NotificationConfig, error) {
	var cfg NotificationConfig
	if err := decodeConfig(s.Config, &cfg); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "invalid notification config: %s", err.Error()).WithStep(s.ID)
	}
	if cfg.Handler == "" {
		return nil, NewError(ErrCodeValidation, "notification step config missing handler name").WithStep(s.ID)
	}
	return &cfg, nil
}

// decodeConfig round-trips an opaque config map into a typed variant.
// The dynamic map is the persistence-boundary representation; typed variants
// are what the engine consumes.
func decodeConfig(m map[string]any, out any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
