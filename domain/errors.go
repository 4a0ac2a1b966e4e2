package domain

import (
	"fmt"
)

// BackingStoreError is returned when a query or connection to the backing store fails.
type BackingStoreError struct {
	Op  string
	Err error
}

func (e *BackingStoreError) Error() string {
	return fmt.Sprintf("backing store: %s: %v", e.Op, e.Err)
}

func (e *BackingStoreError) Unwrap() error {
	return e.Err
}

func NewBackingStoreError(err error, format string, args ...any) error {
	return &BackingStoreError{Op: fmt.Sprintf(format, args...), Err: err}
}

// EstimationUnavailableError is returned when the storage engine has no statistics for a table.
type EstimationUnavailableError struct {
	Table string
}

func (e *EstimationUnavailableError) Error() string {
	return fmt.Sprintf("no row estimate available for table [%s]", e.Table)
}

// ValidationError rejects a relay request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}
