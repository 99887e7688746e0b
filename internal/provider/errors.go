package provider

import (
	"errors"
	"fmt"
)

// ErrorClass categorizes call-placement failures. Every adapter maps its
// backend's error vocabulary onto these classes.
type ErrorClass string

const (
	// ErrorRateLimited means the backend rejected the request with an
	// HTTP 429 equivalent. Retryable with backoff.
	ErrorRateLimited ErrorClass = "rate_limited"
	// ErrorAuthorization means the from-number is not owned by or
	// registered with the backend account.
	ErrorAuthorization ErrorClass = "authorization_failed"
	// ErrorValidation means the destination or from-number is malformed.
	// Terminal, never retried.
	ErrorValidation ErrorClass = "validation_failed"
	// ErrorUnavailable means a transport failure or backend 5xx.
	ErrorUnavailable ErrorClass = "provider_unavailable"
	// ErrorUnknown is everything else.
	ErrorUnknown ErrorClass = "unknown"
)

// CallError is a classified call-placement failure.
type CallError struct {
	Class   ErrorClass
	Backend Backend
	Message string
	Err     error
}

func (e *CallError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Backend, e.Message, e.Class)
	}
	return fmt.Sprintf("%s: call placement failed (%s)", e.Backend, e.Class)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// NewCallError builds a classified error for a backend.
func NewCallError(backend Backend, class ErrorClass, message string, err error) *CallError {
	return &CallError{Class: class, Backend: backend, Message: message, Err: err}
}

// Classify returns the error class of err, or ErrorUnknown when err is not
// a CallError.
func Classify(err error) ErrorClass {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ErrorUnknown
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	return Classify(err) == ErrorRateLimited
}
