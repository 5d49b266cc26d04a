// Package handlers defines the executable units behind action and
// notification steps, and the registry used to look them up by name.
package handlers

import (
	"context"
)

// Handler is an executable unit of work invoked by action and notification
// steps. Implementations must be safe for concurrent use.
type Handler interface {
	Name() string
	Execute(ctx context.Context, input HandlerInput) (*HandlerResult, error)
}

// HandlerInput is the data provided to a handler at execution time. Params
// come from the step config; Context is a read-only snapshot of the
// execution context.
type HandlerInput struct {
	Params  map[string]any `json:"params"`
	Context map[string]any `json:"context,omitempty"`
}

// HandlerResult is the outcome of a handler invocation. Output is recorded
// in the step-completed event; ContextMutations are merged into the
// execution context before the next step runs.
type HandlerResult struct {
	Output           map[string]any `json:"output,omitempty"`
	ContextMutations map[string]any `json:"context_mutations,omitempty"`
}

// HandlerInfo is a summary of a registered handler for listing.
type HandlerInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
