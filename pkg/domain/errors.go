package domain

import "fmt"

// ValidationError reports malformed or missing input on a request-scoped
// operation. Surfaced directly to the caller, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ForbiddenError reports an authenticated but unpermitted request. It is also
// used when an entity exists but the actor lacks visibility, so existence is
// never leaked inconsistently with list filtering.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason == "" {
		return "forbidden"
	}
	return "forbidden: " + e.Reason
}

// NotFoundError is returned when an entity id does not resolve.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// UnauthenticatedError reports a request carrying no identity.
type UnauthenticatedError struct{}

func (UnauthenticatedError) Error() string { return "unauthenticated" }

// ConflictError reports an optimistic-concurrency version mismatch on a write.
type ConflictError struct {
	Entity   EntityType
	ID       string
	Expected int64
	Actual   int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s version conflict: expected %d, have %d", e.Entity, e.ID, e.Expected, e.Actual)
}

// DependencyError wraps a failure in a secondary subsystem (cache, push
// channel). Logged at the point of occurrence and never surfaced to callers:
// the primary store mutation's success is authoritative.
type DependencyError struct {
	Subsystem string
	Err       error
}

func (e DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Subsystem, e.Err)
}

func (e DependencyError) Unwrap() error { return e.Err }
