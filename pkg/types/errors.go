package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to chat users and recorded on spans and metrics.
const (
	ErrKindConfiguration = "CONFIGURATION"
	ErrKindTransport     = "TRANSPORT"
	ErrKindBackend       = "BACKEND"
	ErrKindSecurity      = "SECURITY"
	ErrKindParse         = "PARSE"
	ErrKindInternal      = "INTERNAL"
)

// Error is the structured failure returned by every backend adapter.
type Error struct {
	Kind    string `json:"kind"`
	Op      string `json:"op"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Kind, e.Op, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ConfigurationError reports a missing credential or URL for an integration.
func ConfigurationError(integration, detail string) *Error {
	return &Error{Kind: ErrKindConfiguration, Op: integration, Message: integration + " is not configured", Detail: detail}
}

// TransportError wraps a network or timeout failure talking to a backend.
func TransportError(op string, err error) *Error {
	return &Error{Kind: ErrKindTransport, Op: op, Message: "could not reach backend", Detail: errString(err), Err: err}
}

// BackendError reports a failure the remote system answered with.
func BackendError(op, reason string, err error) *Error {
	return &Error{Kind: ErrKindBackend, Op: op, Message: reason, Err: err}
}

// SecurityRejection reports a command refused before any backend call.
func SecurityRejection(op, reason string) *Error {
	return &Error{Kind: ErrKindSecurity, Op: op, Message: reason}
}

// ParseError reports input that matches no known grammar; Detail holds a usage hint.
func ParseError(op, message, usage string) *Error {
	return &Error{Kind: ErrKindParse, Op: op, Message: message, Detail: usage}
}

// KindOf returns the error kind, or INTERNAL for errors that are not *Error.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindInternal
}

// UserMessage renders err as a sentence suitable for posting to a conversation.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("Sorry, something went wrong: %v", err)
	}
	switch e.Kind {
	case ErrKindConfiguration:
		return fmt.Sprintf("Sorry, the %s integration is not configured. Please contact the administrator.", e.Op)
	case ErrKindTransport:
		return fmt.Sprintf("Sorry, I couldn't reach the backend for %s. Please try again later.", e.Op)
	case ErrKindBackend:
		return fmt.Sprintf("Error %s: %s", e.Op, e.Message)
	case ErrKindSecurity:
		return fmt.Sprintf("Error: %s", e.Message)
	case ErrKindParse:
		if e.Detail != "" {
			return fmt.Sprintf("%s\n\nUsage: %s", e.Message, e.Detail)
		}
		return e.Message
	default:
		return fmt.Sprintf("Sorry, something went wrong while %s: %s", e.Op, e.Message)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
