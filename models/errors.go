package models

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable means an embedding or completion provider kept
	// failing after the retry budget was spent. Callers surface it as a
	// temporary outage, never as a partial result.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrDocumentNotFound is returned for operations on unknown document ids.
	ErrDocumentNotFound = errors.New("document not found")
)

// ValidationError reports unusable caller input. It is surfaced directly and
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderError records which provider gave up and after how many attempts.
// It matches errors.Is(err, ErrProviderUnavailable).
type ProviderError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider unavailable after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderUnavailable, e.Err}
}

// StorageError wraps a failed vector store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigError reports an unusable configuration value. Configuration problems
// are fatal at startup, not per-request failures.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}
