package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation_error")
	ErrNotFound       = errors.New("not_found")
	ErrTransientStore = errors.New("transient_store_error")
)

// ValidationError rejects caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation_error: " + e.Reason
	}
	return fmt.Sprintf("validation_error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a reference to a record that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not_found: %s %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransientStoreError wraps a store failure hit during a scheduled run.
// The run is abandoned and retried on the next schedule.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient_store_error: %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Is(target error) bool { return target == ErrTransientStore }

func (e *TransientStoreError) Unwrap() error { return e.Err }
