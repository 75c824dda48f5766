package chaterr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrLoginRequired is returned by the route guard when no usable session exists.
var ErrLoginRequired = errors.New("login required")

const (
	incorrectCredentials = "Incorrect email or password"
	genericFailure       = "Something went wrong. Try again."
)

// AuthError reports rejected credentials (HTTP 401 on login).
type AuthError struct {
	Status int
	Detail string
}

func (e *AuthError) Error() string {
	return incorrectCredentials
}

// ValidationError collects client-side or server-reported field problems.
// Fields maps the client field name to its first message; Message is a
// form-level message that is not tied to a field.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

// NewValidation builds a form-level validation error.
func NewValidation(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

// Add records a field message, keeping the first one per field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = msg
}

// Empty reports whether nothing was recorded.
func (e *ValidationError) Empty() bool {
	return e == nil || (len(e.Fields) == 0 && e.Message == "")
}

// Field returns the message recorded for field, if any.
func (e *ValidationError) Field(field string) string {
	if e == nil {
		return ""
	}
	return e.Fields[field]
}

func (e *ValidationError) Error() string {
	if e.Message != "" && len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// FetchError is any request/response failure other than rejected credentials.
type FetchError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// StreamError is a socket-level failure. It is logged, never shown.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	if e.Err == nil {
		return "stream " + e.Op
	}
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// UserMessage maps err to the inline text a form or action shows.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Error()
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Error()
	}
	if errors.Is(err, ErrLoginRequired) {
		return "Please log in first."
	}
	return genericFailure
}
