package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/kocayazbey/AyazTrade-sub008/pkg/schema"
)

// IsRetryableError classifies whether a step error should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: validation errors, invalid transitions, cancellation.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Step-level deadline is retryable; a cancelled context means the
	// execution itself is going away.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		switch engErr.Code {
		case schema.ErrCodeValidation,
			schema.ErrCodeDefinitionNotFound,
			schema.ErrCodeExecutionNotFound,
			schema.ErrCodeApprovalNotFound,
			schema.ErrCodeInactiveWorkflow,
			schema.ErrCodeInvalidTransition,
			schema.ErrCodeHandlerUnavailable,
			schema.ErrCodeCancelled:
			return false
		}
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable. The per-step retry bound limits attempts.
	return true
}

// ShouldRetry reports whether a step that has already failed `attempts`
// times may be retried under its error-handling policy.
func ShouldRetry(eh *schema.ErrorHandling, attempts int) bool {
	if eh == nil {
		return false
	}
	return attempts < eh.MaxRetries
}

// RetryDelay returns the configured delay between attempts of a step.
// A non-positive configured value means retry immediately.
func RetryDelay(eh *schema.ErrorHandling) time.Duration {
	if eh == nil || eh.RetryDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(eh.RetryDelaySeconds) * time.Second
}
