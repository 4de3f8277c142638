// Package chaterr defines the failure kinds surfaced by the chat endpoint.
package chaterr

import (
	"errors"
	"net/http"
)

// Kind classifies a chat failure.
type Kind int

const (
	KindProvider Kind = iota
	KindInvalidRequest
	KindAuthentication
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindAuthentication:
		return "authentication"
	case KindConfiguration:
		return "configuration"
	default:
		return "provider"
	}
}

// Title is the short label placed in the "error" field of the JSON envelope.
func (k Kind) Title() string {
	switch k {
	case KindInvalidRequest:
		return "Invalid request"
	case KindAuthentication:
		return "Authentication error"
	case KindConfiguration:
		return "Configuration error"
	default:
		return "Chat request failed"
	}
}

// Status is the HTTP status for the kind. Authentication and configuration
// failures share 500 with provider failures; only the details differ.
func (k Kind) Status() int {
	if k == KindInvalidRequest {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Error carries a kind plus operator-facing details.
type Error struct {
	Kind    Kind
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Details == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Details + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Details
}

func (e *Error) Unwrap() error { return e.Err }

func InvalidRequest(details string) *Error {
	return &Error{Kind: KindInvalidRequest, Details: details}
}

func Authentication(details string, err error) *Error {
	return &Error{Kind: KindAuthentication, Details: details, Err: err}
}

func Configuration(details string, err error) *Error {
	return &Error{Kind: KindConfiguration, Details: details, Err: err}
}

func Provider(err error) *Error {
	return &Error{Kind: KindProvider, Err: err}
}

// KindOf reports the kind of err; unclassified errors are provider failures.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindProvider
}

// DetailsOf returns the human-readable details for the JSON envelope.
func DetailsOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Details != "" {
			return ce.Details
		}
		if ce.Err != nil {
			return ce.Err.Error()
		}
	}
	return err.Error()
}
