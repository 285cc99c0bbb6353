package calendar

import (
	"fmt"
)

// CalendarError is the base error type for all calendar integration failures.
// Every specialized error embeds it for the shared message, details and
// provider fields; match the concrete refinement types with errors.As.
type CalendarError struct {
	Message  string
	Details  map[string]any
	Provider string
}

func (e *CalendarError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
	}
	return e.Message
}

// NewCalendarError creates a generic calendar error.
func NewCalendarError(message string) *CalendarError {
	return &CalendarError{Message: message}
}

// AuthError indicates credential or token failures: OAuth failures, token
// expiration, invalid credentials, authorization scope issues.
type AuthError struct {
	CalendarError
}

// NewAuthError creates an authentication error.
func NewAuthError(message string) *AuthError {
	return &AuthError{CalendarError{Message: "authentication error: " + message}}
}

// SyncError indicates provider API failures that are not authentication,
// rate limit, or conflict problems.
type SyncError struct {
	CalendarError
}

// NewSyncError creates a synchronization error.
func NewSyncError(message string) *SyncError {
	return &SyncError{CalendarError{Message: "sync error: " + message}}
}

// ValidationError indicates locally invalid data. Field names the offending
// attribute so UI forms can highlight it.
type ValidationError struct {
	CalendarError
	Field string
}

// NewValidationError creates a validation error for the given field.
func NewValidationError(message, field string) *ValidationError {
	msg := "validation error: " + message
	if field != "" {
		msg = fmt.Sprintf("validation error [%s]: %s", field, message)
	}
	return &ValidationError{CalendarError: CalendarError{Message: msg}, Field: field}
}

// ConnectionError indicates network connectivity issues, timeouts, and
// calendar service unavailability.
type ConnectionError struct {
	CalendarError
	cause error
}

// NewConnectionError creates a connection error.
func NewConnectionError(message string) *ConnectionError {
	return &ConnectionError{CalendarError: CalendarError{Message: "connection error: " + message}}
}

// WrapConnectionError creates a connection error preserving the transport
// error, so timeouts stay detectable through errors.As.
func WrapConnectionError(err error) *ConnectionError {
	return &ConnectionError{
		CalendarError: CalendarError{Message: "connection error: " + err.Error()},
		cause:         err,
	}
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// RateLimitError indicates the provider rejected a request due to rate
// limiting. RetryAfter is the server-suggested wait in seconds.
type RateLimitError struct {
	CalendarError
	RetryAfter int
}

// NewRateLimitError creates a rate limit error. A positive retryAfter is
// appended to the message.
func NewRateLimitError(message string, retryAfter int) *RateLimitError {
	msg := "rate limit error: " + message
	if retryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %d seconds)", retryAfter)
	}
	return &RateLimitError{CalendarError: CalendarError{Message: msg}, RetryAfter: retryAfter}
}

// ConflictError indicates divergence between the local and provider-held
// state of an event. Both snapshots are carried in Details for the
// conflict-resolution UI.
type ConflictError struct {
	CalendarError
	LocalEvent  map[string]any
	RemoteEvent map[string]any
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, localEvent, remoteEvent map[string]any) *ConflictError {
	details := map[string]any{}
	if localEvent != nil {
		details["local_event"] = localEvent
	}
	if remoteEvent != nil {
		details["remote_event"] = remoteEvent
	}
	return &ConflictError{
		CalendarError: CalendarError{Message: "conflict error: " + message, Details: details},
		LocalEvent:    localEvent,
		RemoteEvent:   remoteEvent,
	}
}
