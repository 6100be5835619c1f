package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRowSkipped marks a row intentionally excluded by mapping rules. It is never a failure.
	ErrRowSkipped = errors.New("row skipped")

	// ErrExecutionTerminal is returned when mutating a finished execution.
	ErrExecutionTerminal = errors.New("execution already terminal")

	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidURL is a non-retryable download failure caused by a malformed source URL.
	ErrInvalidURL = errors.New("invalid download url")
)

// TransientNetworkError is a retryable download failure.
type TransientNetworkError struct {
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient network error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// AuthError is a non-retryable rejection of the download request (401/403 or a malformed URL).
type AuthError struct {
	StatusCode int
	Reason     string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth error: HTTP %d: %s", e.StatusCode, e.Reason)
	}
	return "auth error: " + e.Reason
}

// MalformedFileError means the artifact is not a readable spreadsheet.
type MalformedFileError struct {
	Reason string
	Err    error
}

func (e *MalformedFileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed file: %s: %v", e.Reason, e.Err)
	}
	return "malformed file: " + e.Reason
}

func (e *MalformedFileError) Unwrap() error { return e.Err }

// RecordLoadError is a per-record persistence failure.
type RecordLoadError struct {
	RowNumber int
	Err       error
}

func (e *RecordLoadError) Error() string {
	return fmt.Sprintf("row %d: load failed: %v", e.RowNumber, e.Err)
}

func (e *RecordLoadError) Unwrap() error { return e.Err }

// DimensionResolutionError is a failure to resolve or create one dimension entity.
type DimensionResolutionError struct {
	Dimension  DimensionType
	NaturalKey string
	Err        error
}

func (e *DimensionResolutionError) Error() string {
	return fmt.Sprintf("resolve %s %q: %v", e.Dimension, e.NaturalKey, e.Err)
}

func (e *DimensionResolutionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}
