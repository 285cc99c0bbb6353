package providers

import (
	"context"

	"github.com/rlehmann/billsync/pkg/calendar"
	"github.com/rlehmann/billsync/pkg/oauth"
)

// EventStatus classifies the outcome of a single event operation.
type EventStatus string

const (
	StatusSuccess     EventStatus = "success"
	StatusFailed      EventStatus = "failed"
	StatusNotFound    EventStatus = "not_found"
	StatusConflict    EventStatus = "conflict"
	StatusRateLimited EventStatus = "rate_limited"
)

// ConnectionStatus classifies the outcome of a connectivity probe.
type ConnectionStatus string

const (
	ConnectionOK      ConnectionStatus = "connected"
	ConnectionFailed  ConnectionStatus = "failed"
	ConnectionTimeout ConnectionStatus = "timeout"
	ConnectionNoAuth  ConnectionStatus = "unauthorized"
)

// EventResult reports the outcome of one event operation. Expected failures
// (not found, conflict, throttling, vendor errors) are statuses, not errors.
type EventResult struct {
	Status       EventStatus
	EventID      string
	ErrorMessage string
	// RetryAfter is the server-requested backoff in seconds when
	// rate limited.
	RetryAfter int
	// ConflictData carries the local and remote snapshots when the
	// provider reports a version conflict.
	ConflictData map[string]any
}

// IsSuccess reports whether the operation succeeded.
func (r *EventResult) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// ShouldRetry reports whether re-submitting the same operation can succeed.
func (r *EventResult) ShouldRetry() bool {
	return r.Status == StatusRateLimited || r.Status == StatusFailed
}

// ConnectionResult reports the outcome of TestConnection.
type ConnectionResult struct {
	Status       ConnectionStatus
	Message      string
	LatencyMS    int64
	CalendarName string
}

// EventUpdate pairs an external event ID with its replacement content for
// batch updates.
type EventUpdate struct {
	EventID string
	Event   *calendar.Event
}

// CalendarInfo describes one calendar on the provider account.
type CalendarInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Primary     bool   `json:"primary"`
	AccessRole  string `json:"access_role,omitempty"`
}

// Provider is the uniform contract every calendar backend implements. CRUD
// methods return a non-nil error only for caller misuse (operating before
// authentication); everything the remote end does wrong is an EventResult.
type Provider interface {
	// Name returns the provider identifier ("google", "outlook").
	Name() string

	// IsAuthenticated reports whether the provider holds usable credentials.
	IsAuthenticated() bool

	// Authenticate completes the authorization-code flow with the code and
	// state delivered by the browser redirect.
	Authenticate(ctx context.Context, code, state string) *oauth.AuthResult

	// RefreshAuthentication refreshes the access token.
	RefreshAuthentication(ctx context.Context) *oauth.AuthResult

	// RevokeAuthentication revokes access and discards local credentials.
	RevokeAuthentication(ctx context.Context) bool

	// TestConnection verifies API reachability with live credentials.
	TestConnection(ctx context.Context) *ConnectionResult

	// CreateEvent creates the event and returns its external ID.
	CreateEvent(ctx context.Context, event *calendar.Event, calendarID string) (*EventResult, error)

	// GetEvent fetches one event by external ID, or a NOT_FOUND result.
	GetEvent(ctx context.Context, eventID, calendarID string) (*calendar.Event, *EventResult, error)

	// UpdateEvent replaces the event content under the same external ID.
	UpdateEvent(ctx context.Context, eventID string, event *calendar.Event, calendarID string) (*EventResult, error)

	// DeleteEvent removes the event. Deleting an already-deleted event
	// reports NOT_FOUND.
	DeleteEvent(ctx context.Context, eventID, calendarID string) (*EventResult, error)

	// GetEvents lists events in the range. Best effort: failures yield an
	// empty slice, never an error.
	GetEvents(ctx context.Context, rng calendar.DateRange, calendarID string) []*calendar.Event

	// BatchCreateEvents creates events sequentially, one result per input
	// in input order.
	BatchCreateEvents(ctx context.Context, events []*calendar.Event, calendarID string) ([]*EventResult, error)

	// BatchUpdateEvents updates events sequentially, one result per input.
	BatchUpdateEvents(ctx context.Context, updates []EventUpdate, calendarID string) ([]*EventResult, error)

	// BatchDeleteEvents deletes events sequentially, one result per input.
	BatchDeleteEvents(ctx context.Context, eventIDs []string, calendarID string) ([]*EventResult, error)

	// GetCalendars lists the calendars visible to the account.
	GetCalendars(ctx context.Context) ([]CalendarInfo, error)

	// GetDefaultCalendarID returns the calendar used when none is given.
	GetDefaultCalendarID(ctx context.Context) string

	// RateLimits describes the provider's published quota figures.
	RateLimits() map[string]int

	// SupportedFeatures lists capability names the provider implements.
	SupportedFeatures() []string
}
