package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinels matched through errors.Is by the typed errors below.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError reports a bad caller-supplied argument.
type ValidationError struct {
	Op      string
	UserID  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: user %q: invalid %s: %s", e.Op, e.UserID, e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a subscription that does not exist for the user.
type NotFoundError struct {
	Op             string
	UserID         string
	SubscriptionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: user %q: subscription %q not found", e.Op, e.UserID, e.SubscriptionID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreUnavailableError wraps an I/O failure of the transaction store or the
// subscription repository.
type StoreUnavailableError struct {
	Op     string
	UserID string
	Err    error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: user %q: store unavailable: %v", e.Op, e.UserID, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

// AsStoreUnavailable classifies err for op. Validation, not-found, deadline
// and already-classified errors pass through unchanged.
func AsStoreUnavailable(op, userID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &StoreUnavailableError{Op: op, UserID: userID, Err: err}
}
