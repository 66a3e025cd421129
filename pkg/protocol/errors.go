package protocol

import (
	"errors"
	"fmt"
)

// ActionErrorKind classifies an action failure for retry purposes.
type ActionErrorKind string

const (
	// ActionErrorInvalidParams is fatal, never retried.
	ActionErrorInvalidParams ActionErrorKind = "invalid_params"
	// ActionErrorTransient is retried with backoff up to the attempt cap.
	ActionErrorTransient ActionErrorKind = "transient"
	// ActionErrorUnavailable means the collaborator is down; retried with
	// backoff and eventually fatal.
	ActionErrorUnavailable ActionErrorKind = "unavailable"
)

// ActionError is the typed failure an action reports to the executor.
type ActionError struct {
	Kind    ActionErrorKind
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("action error (%s): %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("action error (%s): %s", e.Kind, e.Message)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the executor should attempt the action again.
func (e *ActionError) Retryable() bool {
	return e.Kind == ActionErrorTransient || e.Kind == ActionErrorUnavailable
}

func NewActionError(kind ActionErrorKind, message string, err error) *ActionError {
	return &ActionError{Kind: kind, Message: message, Err: err}
}

// IsRetryable reports whether err is an ActionError the executor should
// retry with backoff. Anything that is not a typed ActionError is fatal.
func IsRetryable(err error) bool {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr.Retryable()
	}

	return false
}
