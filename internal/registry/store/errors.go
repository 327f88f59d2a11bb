package store

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds, the stable vocabulary operations fail with. Transports map
// these to their own status codes.
const (
	KindInvalidArgument   = "InvalidArgument"
	KindNotFound          = "NotFound"
	KindStorageConflict   = "StorageConflict"
	KindScopeUnauthorized = "ScopeUnauthorized"
	KindTimeout           = "Timeout"
	KindDependencyFailure = "DependencyFailure"
	KindInternal          = "Internal"
)

// NotFoundError indicates the resource was not found (or user lacks access).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
	Code    string
	Details map[string]interface{}
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ScopeError indicates the caller asked for a scope its identity does not
// grant, such as a global-scope retrieval without the global capability.
type ScopeError struct {
	Scope string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope %q not authorized", e.Scope)
}

// TimeoutError indicates a deadline expired. Partial marks operations that
// completed some work before giving up.
type TimeoutError struct {
	Partial bool
}

func (e *TimeoutError) Error() string {
	if e.Partial {
		return "deadline exceeded; partial results available"
	}
	return "deadline exceeded"
}

// DependencyError indicates an external collaborator (summarizer, enricher,
// cache) failed after fallbacks were exhausted.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s failed: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// Kind classifies err into one of the error kind constants. Unknown errors
// classify as Internal.
func Kind(err error) string {
	var (
		notFound   *NotFoundError
		validation *ValidationError
		conflict   *ConflictError
		scope      *ScopeError
		timeout    *TimeoutError
		dependency *DependencyError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindInvalidArgument
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &conflict):
		return KindStorageConflict
	case errors.As(err, &scope):
		return KindScopeUnauthorized
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &dependency):
		return KindDependencyFailure
	default:
		return KindInternal
	}
}
