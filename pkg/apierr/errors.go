// Package apierr defines the error taxonomy shared by the GerryDB client
// packages. Every failure surfaced by the client is an *Error whose Kind is one
// of the sentinels below, so callers can branch with errors.Is without
// inspecting status codes or wire formats.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig reports an invalid or incomplete client configuration.
	ErrConfig = errors.New("gerrydb: configuration error")
	// ErrNetwork reports a connection failure or timeout before a response arrived.
	ErrNetwork = errors.New("gerrydb: network error")
	// ErrAuth reports a rejected or missing API key (401/403).
	ErrAuth = errors.New("gerrydb: authentication error")
	// ErrValidation reports a payload that failed a schema or geometry check.
	ErrValidation = errors.New("gerrydb: validation error")
	// ErrServer reports a 5xx response.
	ErrServer = errors.New("gerrydb: server error")
	// ErrNotFound reports a 404 response.
	ErrNotFound = errors.New("gerrydb: not found")
	// ErrRequest reports any other rejected request, including client-side preconditions.
	ErrRequest = errors.New("gerrydb: request error")
	// ErrOffline reports a write or uncached read attempted in offline mode.
	ErrOffline = errors.New("gerrydb: offline")
	// ErrCache reports a local cache failure.
	ErrCache = errors.New("gerrydb: cache error")
)

// Error is the concrete error type returned by the client.
type Error struct {
	Kind       error
	Method     string
	Path       string
	StatusCode int
	Message    string
	Detail     string
	Issues     []Issue
	Err        error
}

// Issue is a single schema violation.
type Issue struct {
	Field   string
	Message string
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("gerrydb: error")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Method != "" || e.Path != "" {
		fmt.Fprintf(&b, " (%s %s", e.Method, e.Path)
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, " -> %d", e.StatusCode)
		}
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Issues) > 0 {
		n := len(e.Issues)
		shown := e.Issues
		if n > 3 {
			shown = shown[:3]
		}
		parts := make([]string, 0, len(shown))
		for _, iss := range shown {
			parts = append(parts, iss.String())
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
		if n > 3 {
			fmt.Fprintf(&b, " (and %d more)", n-3)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the error's Kind sentinel.
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind != nil && target == e.Kind
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Config builds a configuration error.
func Config(format string, args ...any) *Error {
	return &Error{Kind: ErrConfig, Message: fmt.Sprintf(format, args...)}
}

// ConfigWrap builds a configuration error wrapping cause.
func ConfigWrap(cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrConfig, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Request builds a client-side request error.
func Request(format string, args ...any) *Error {
	return &Error{Kind: ErrRequest, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a validation error from a list of issues.
func Validation(message string, issues ...Issue) *Error {
	return &Error{Kind: ErrValidation, Message: message, Issues: issues}
}

// ValidationWrap builds a validation error wrapping a decode or parse failure.
func ValidationWrap(cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Offline builds an offline-mode error for the named operation.
func Offline(op string) *Error {
	return &Error{Kind: ErrOffline, Message: op + " is unavailable in offline mode"}
}

// Cache builds a cache error.
func Cache(cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrCache, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 404:
		return ErrNotFound
	case status == 422:
		return ErrValidation
	case status >= 500:
		return ErrServer
	default:
		return ErrRequest
	}
}

// IsRetryable reports whether err is worth retrying: network failures and
// server errors are, anything the caller must fix is not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrServer)
}
