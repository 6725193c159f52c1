package harvest

import (
	"errors"
	"fmt"
	"net/http"
)

// Class buckets a fetch failure for retry and fallback decisions.
type Class string

// Failure classes, ordered roughly by authority.
const (
	// ClassNotFound is authoritative: no identity or fallback can change a 404.
	ClassNotFound Class = "not_found"
	// ClassServiceUnavailable is retryable with backoff, terminal after budget.
	ClassServiceUnavailable Class = "service_unavailable"
	// ClassRateLimited is retryable with backoff, terminal after budget.
	ClassRateLimited Class = "rate_limited"
	// ClassTransient covers generic network and stream faults.
	ClassTransient Class = "transient"
	// ClassRendererFailure is terminal; no further fallback exists.
	ClassRendererFailure Class = "renderer_failure"
)

// Retryable reports whether the direct fetcher may retry this class
// against the same identity.
func (c Class) Retryable() bool {
	switch c {
	case ClassServiceUnavailable, ClassRateLimited, ClassTransient:
		return true
	default:
		return false
	}
}

// ClassifiedError wraps a fetch failure with its class.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Class)
	}
	return e.Err.Error()
}

// Unwrap exposes the underlying cause for errors.Is chains.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError builds a ClassifiedError from a class and cause.
func NewClassifiedError(class Class, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err}
}

// ClassifyStatus maps an HTTP status code to a failure class. The zero
// return value reports success (2xx).
func ClassifyStatus(code int) (Class, bool) {
	switch {
	case code >= 200 && code < 300:
		return "", false
	case code == http.StatusNotFound:
		return ClassNotFound, true
	case code == http.StatusServiceUnavailable:
		return ClassServiceUnavailable, true
	case code == http.StatusTooManyRequests:
		return ClassRateLimited, true
	default:
		return ClassTransient, true
	}
}

// StatusReason renders the canonical reason text for a status code,
// e.g. "404 Not Found". This string is persisted in failure records.
func StatusReason(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

// ClassOf extracts the failure class from err, defaulting to transient
// for unclassified errors.
func ClassOf(err error) Class {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class
	}
	return ClassTransient
}
