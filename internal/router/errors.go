package router

import "fmt"

// ValidationError reports a message that is missing required addressing
// fields or violates content limits. Surfaced synchronously to the caller and
// never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "router: validation failed: " + e.Reason
}

// PersistenceError reports a storage write failure. The routing operation is
// aborted before any fan-out; delivery must never outrun durability.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("router: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
