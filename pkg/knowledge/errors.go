package knowledge

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrNotFound indicates a package or object does not exist or is not visible
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a duplicate name or content hash
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition indicates a review action on a package that is not pending
	ErrInvalidTransition = errors.New("invalid review transition")

	// ErrValidation indicates a malformed request or archive
	ErrValidation = errors.New("validation failed")

	// ErrStorageFailure indicates the database or blob store is unavailable
	ErrStorageFailure = errors.New("storage failure")
)

// Reason is a machine-readable validation failure code.
type Reason string

const (
	ReasonTooLarge          Reason = "too_large"
	ReasonUnsupportedFormat Reason = "unsupported_format"
	ReasonInvalidStructure  Reason = "invalid_structure"
	ReasonMissingField      Reason = "missing_field"
	ReasonInvalidField      Reason = "invalid_field"
)

// ValidationError describes which check rejected a request.
type ValidationError struct {
	Reason  Reason
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(reason Reason, field, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a uniqueness violation. Existing names the package
// that already holds the value when it is known.
type ConflictError struct {
	Field    string
	Value    string
	Existing string
}

func (e *ConflictError) Error() string {
	if e.Existing != "" {
		return fmt.Sprintf("%s %q already exists (duplicate of %s)", e.Field, e.Value, e.Existing)
	}
	return fmt.Sprintf("%s %q already exists", e.Field, e.Value)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// PackageError represents an error related to a package operation
type PackageError struct {
	ID  int64
	Op  string
	Err error
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("package operation %s failed for package %d: %v", e.Op, e.ID, e.Err)
}

func (e *PackageError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob storage or the database
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}
