// Package apperr defines the failure taxonomy shared by the recording pipeline
// and the remote job poller.
//
// Every terminal failure carries a Kind so that callers (UI, CLI, HTTP glue)
// can tell "capability unsupported" apart from "resource denied" apart from
// "remote job failed" without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnsupportedCapability Kind = "unsupported_capability"
	KindResourceAcquisition   Kind = "resource_acquisition_failure"
	KindEngine                Kind = "engine_error"
	KindRemoteJob             Kind = "remote_job_failure"
	KindCancelled             Kind = "cancelled"
	KindBusy                  Kind = "busy"
	KindNotReady              Kind = "not_ready"
)

// Error is a classified failure raised at a component boundary.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	// Reason is a short human-readable explanation.
	Reason string
	// StatusCode is set when the failure came from an HTTP exchange.
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Component, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, component, op, reason string) *Error {
	return &Error{Kind: kind, Component: component, Op: op, Reason: reason}
}

func Wrap(kind Kind, component, op string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Op: op, Cause: cause}
}

// WithStatusCode records the HTTP status that produced the error.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage renders a message the UI can show as-is.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong: " + err.Error()
	}
	detail := e.Reason
	if detail == "" && e.Cause != nil {
		detail = e.Cause.Error()
	}
	switch e.Kind {
	case KindUnsupportedCapability:
		return "This feature is not supported on this device: " + detail
	case KindResourceAcquisition:
		return "Access to a capture device was denied or unavailable: " + detail
	case KindEngine:
		return "Recording or narration failed: " + detail
	case KindRemoteJob:
		return "Video generation failed: " + detail
	case KindCancelled:
		return "Cancelled."
	case KindBusy:
		return "Another recording is already in progress."
	case KindNotReady:
		return "Not ready to record: " + detail
	}
	return err.Error()
}
