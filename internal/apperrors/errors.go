package apperrors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind identifies a category of failure surfaced by backup and restore
// operations.
type Kind string

const (
	// KindSchemaInvalid indicates a schema definition violates a structural invariant
	KindSchemaInvalid Kind = "schema_invalid"
	// KindUnknownVersion indicates a schema version id is not registered
	KindUnknownVersion Kind = "unknown_version"
	// KindDuplicateVersion indicates a schema version id is already registered
	KindDuplicateVersion Kind = "duplicate_version"
	// KindNoMigrationPath indicates no version chain connects two versions
	KindNoMigrationPath Kind = "no_migration_path"
	// KindAmbiguousMatch indicates the mapper found equally scored candidates
	KindAmbiguousMatch Kind = "ambiguous_match"
	// KindUnsupportedCoercionChain indicates composed coercions are not representable
	KindUnsupportedCoercionChain Kind = "unsupported_coercion_chain"
	// KindCoverageGap indicates a non-nullable target field has no resolved rule
	KindCoverageGap Kind = "coverage_gap"
	// KindBaseVersionMismatch indicates a delta backup was requested against a base of another version
	KindBaseVersionMismatch Kind = "base_version_mismatch"
	// KindBrokenArchiveChain indicates an ancestor archive in a delta chain is missing
	KindBrokenArchiveChain Kind = "broken_archive_chain"
	// KindRowCoercion indicates a single row failed type coercion
	KindRowCoercion Kind = "row_coercion"
	// KindConstraintViolation indicates the data sink rejected staged rows
	KindConstraintViolation Kind = "constraint_violation"
	// KindTransient indicates a retryable I/O failure such as a timeout
	KindTransient Kind = "transient"
	// KindStorage indicates an archive storage provider failure
	KindStorage Kind = "storage"
	// KindCorruption indicates archive checksum or decode failure
	KindCorruption Kind = "corruption"
	// KindCancelled indicates the operation was cancelled by the caller
	KindCancelled Kind = "cancelled"
	// KindUnknown indicates an unclassified failure
	KindUnknown Kind = "unknown"
)

// Error is the application error type carried through every component.
// It records the failure kind, optional context values (table, field, row key)
// and whether retrying the operation may succeed.
type Error struct {
	Kind        Kind
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRecoverable reports whether the operation may succeed if retried.
func (e *Error) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext attaches a context value to the error and returns it.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverable creates an error of the given kind that is safe to retry.
func NewRecoverable(kind Kind, message string, cause error) *Error {
	e := New(kind, message, cause)
	e.Recoverable = true
	return e
}

// Errorf creates an error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// KindOf extracts the Kind from err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Classify folds an arbitrary error into an *Error. Context deadline and
// network timeout errors become KindTransient and recoverable; driver-level
// bad-data errors become KindRowCoercion; everything else is KindUnknown.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverable(KindTransient, "operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return New(KindCancelled, "operation cancelled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewRecoverable(KindTransient, "network timeout", err)
		}
		return NewRecoverable(KindTransient, "network failure", err)
	}

	if errors.Is(err, driver.ErrBadConn) {
		return NewRecoverable(KindTransient, "lost database connection", err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "foreign key") || strings.Contains(msg, "constraint") {
		return New(KindConstraintViolation, "data sink rejected rows", err)
	}

	return New(KindUnknown, "unexpected error", err)
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns the retry configuration applied at I/O boundaries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler retries recoverable operations with exponential backoff.
// It is applied only around single bounded I/O operations, never around a
// whole pipeline phase.
type RetryHandler struct {
	config RetryConfig
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	return &RetryHandler{config: config}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes operation, retrying while the classified error is
// recoverable. The last classified error is returned once attempts are
// exhausted.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return New(KindCancelled, "operation cancelled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := Classify(err)
		if !appErr.IsRecoverable() {
			return appErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return New(KindCancelled, "operation cancelled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return Classify(lastErr).WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay computes the exponential backoff delay for an attempt.
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}
	return delay
}
