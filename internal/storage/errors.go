package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedDriver indicates the configured driver is not available.
	ErrUnsupportedDriver = errors.New("unsupported storage driver")
	// ErrSchemaTooNew is returned when the store was written by a newer daemon.
	ErrSchemaTooNew = errors.New("store schema is newer than this build supports")
	// ErrStoreLocked means another daemon already holds the store.
	ErrStoreLocked = errors.New("store is locked by another process")
)

// ValidationError reports malformed or missing input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports a referenced id that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// MigrationError wraps the failure of one schema step. The store is left at
// the version it had before the attempt.
type MigrationError struct {
	Version int
	Name    string
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.Version, e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
