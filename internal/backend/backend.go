// Package backend defines the model backend surface the coordinator calls
// into, and the error classification that drives its retry policy. The real
// LLM clients live behind the ModelBackend interface; this package ships a
// deterministic mock for offline operation and tests.
package backend

import (
	"context"
	"errors"
	"strings"

	"signalhub/internal/routing"
)

// Result is one completed model call.
type Result struct {
	// Text is the model's answer.
	Text string

	// Model names the concrete model that served the call.
	Model string

	// InputTokens and OutputTokens are the billed token counts.
	InputTokens  int
	OutputTokens int
}

// ModelBackend executes requests against a tier's model. Implementations
// must honor context cancellation and deadlines.
type ModelBackend interface {
	// Call sends the prompt to the tier's model.
	Call(ctx context.Context, tier routing.Tier, prompt string) (*Result, error)

	// Available reports whether the tier can currently take traffic.
	Available(tier routing.Tier) bool
}

// TransientError marks a failure worth retrying (rate limits, overload,
// transient server faults).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether an error is worth retrying. Typed transient
// errors, timeouts, and overload-shaped messages qualify; anything
// credential- or request-shaped does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504")
}

// PermanentError marks a failure that retrying cannot fix (bad request,
// invalid credentials).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
