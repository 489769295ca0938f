package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Class splits provider failures into the two handling paths: transient
// failures are retried with backoff at the call site, permanent failures are
// not retried at all. Both degrade the bundle entry rather than the run.
type Class string

const (
	Transient Class = "transient"
	Permanent Class = "permanent"
)

// Error is a classified provider failure.
type Error struct {
	Provider string
	Class    Class
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s failure: %v", e.Provider, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable provider failure.
func NewTransient(provider string, err error) *Error {
	return &Error{Provider: provider, Class: Transient, Err: err}
}

// NewPermanent wraps err as a non-retryable provider failure.
func NewPermanent(provider string, err error) *Error {
	return &Error{Provider: provider, Class: Permanent, Err: err}
}

// ClassifyStatus maps an HTTP status to a failure class. Rate limits and
// server errors are transient; everything else in the error range is a bad
// request or auth problem and retrying cannot help.
func ClassifyStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return Transient
	case status >= 500:
		return Transient
	default:
		return Permanent
	}
}

// ClassifyErr maps a transport-level error to a failure class. Timeouts and
// connection resets are transient; context cancellation propagates as
// transient so the caller's deadline policy decides.
func ClassifyErr(err error) Class {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	return Transient // unknown transport errors default to retryable
}

// ClassOf extracts the failure class from an error chain, defaulting to
// transient for unclassified errors.
func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return Transient
}
