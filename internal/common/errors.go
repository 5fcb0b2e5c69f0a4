// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound = errors.New("not found")

	// Provider errors.
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrMaxRetries   = errors.New("max retries exceeded")
	ErrNoCompletion = errors.New("no completion returned")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

// Retryable marks err as retryable for WithRetry.
func Retryable(err error) error {
	return &RetryableError{Err: err, Retryable: true}
}

// Permanent marks err as non-retryable for WithRetry.
func Permanent(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// ConfigError builds a construction-time configuration error.
func ConfigError(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
}
