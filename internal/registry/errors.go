package registry

import "fmt"

// ValidationError is a synchronous, never-persisted failure: a duplicate
// id/prefix or a malformed backend definition caught before any side
// effect.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func errDuplicateID(id string) error {
	return &ValidationError{Message: fmt.Sprintf("Backend id '%s' already registered", id)}
}

func errDuplicatePrefix(prefix, owner string) error {
	return &ValidationError{Message: fmt.Sprintf("Prefix '%s' already in use by backend '%s'", prefix, owner)}
}

// NotFoundError is returned by operations keyed on a backend id that isn't
// registered.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("Backend '%s' not found", e.ID) }
