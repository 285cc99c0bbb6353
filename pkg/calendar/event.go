package calendar

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Provider identifiers for the supported calendar services.
const (
	ProviderGoogle  = "google"
	ProviderOutlook = "outlook"
	ProviderApple   = "apple"
)

// Reminder delivery methods.
const (
	ReminderPopup = "popup"
	ReminderEmail = "email"
	ReminderSMS   = "sms"
)

// MaxReminderMinutes caps reminders at 4 weeks before the event.
const MaxReminderMinutes = 4 * 7 * 24 * 60

var hexColorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ValidProvider reports whether id names a supported provider.
func ValidProvider(id string) bool {
	switch strings.ToLower(id) {
	case ProviderGoogle, ProviderOutlook, ProviderApple:
		return true
	}
	return false
}

// Reminder is a notification attached to an event.
type Reminder struct {
	MinutesBefore int    `json:"minutes_before"`
	Method        string `json:"method"`
}

// NewReminder creates a validated reminder.
func NewReminder(minutesBefore int, method string) (Reminder, error) {
	r := Reminder{MinutesBefore: minutesBefore, Method: method}
	if err := r.Validate(); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

// Validate checks the reminder fields.
func (r Reminder) Validate() error {
	if r.MinutesBefore < 0 {
		return NewValidationError("reminder minutes must be non-negative", "minutes_before")
	}
	if r.MinutesBefore > MaxReminderMinutes {
		return NewValidationError("reminder cannot be more than 4 weeks before event", "minutes_before")
	}
	switch r.Method {
	case ReminderPopup, ReminderEmail, ReminderSMS:
	default:
		return NewValidationError("invalid reminder method, must be one of: popup, email, sms", "method")
	}
	return nil
}

// Event is the canonical, provider-neutral representation of a bill-derived
// calendar entry. Construct with NewEvent or call Validate after filling the
// fields; an Event that fails validation must not be handed to a provider.
type Event struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Start           time.Time  `json:"start_datetime"`
	End             time.Time  `json:"end_datetime"`
	AllDay          bool       `json:"all_day"`
	Reminders       []Reminder `json:"reminders"`
	BillID          int64      `json:"bill_id"`
	Color           string     `json:"color,omitempty"`
	Location        string     `json:"location,omitempty"`
	ExternalEventID string     `json:"external_event_id,omitempty"`
	Provider        string     `json:"provider,omitempty"`
	LastModified    time.Time  `json:"last_modified"`
}

// NewEvent creates a validated event. LastModified defaults to now.
func NewEvent(title, description string, start, end time.Time, allDay bool, reminders []Reminder, billID int64) (*Event, error) {
	e := &Event{
		Title:        title,
		Description:  description,
		Start:        start,
		End:          end,
		AllDay:       allDay,
		Reminders:    reminders,
		BillID:       billID,
		LastModified: time.Now(),
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks all fields and trims strings on success. It fails fast
// with a *ValidationError identifying the offending field.
func (e *Event) Validate() error {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		return NewValidationError("event title is required", "title")
	}
	if len(title) > 255 {
		return NewValidationError("event title cannot exceed 255 characters", "title")
	}
	if len(e.Description) > 8192 {
		return NewValidationError("event description cannot exceed 8192 characters", "description")
	}
	if !e.Start.Before(e.End) {
		return NewValidationError("event start time must be before end time", "start_datetime")
	}
	if e.BillID <= 0 {
		return NewValidationError("bill ID must be a positive integer", "bill_id")
	}
	if e.Color != "" && !hexColorRe.MatchString(e.Color) {
		return NewValidationError("color must be in hex format (#RRGGBB)", "color")
	}
	if len(e.Location) > 255 {
		return NewValidationError("location cannot exceed 255 characters", "location")
	}
	if e.Provider != "" && !ValidProvider(e.Provider) {
		return NewValidationError("invalid provider, must be one of: google, outlook, apple", "provider")
	}
	for _, r := range e.Reminders {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	e.Title = title
	e.Description = strings.TrimSpace(e.Description)
	e.Location = strings.TrimSpace(e.Location)
	if e.LastModified.IsZero() {
		e.LastModified = time.Now()
	}
	return nil
}

// DecodeEvent unmarshals and validates an event from JSON.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid event data: %v", err), "")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Encode marshals the event to JSON.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Duration returns the length of the event.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Equal reports whether two events carry the same data, comparing times by
// instant rather than location.
func (e *Event) Equal(other *Event) bool {
	if other == nil {
		return false
	}
	if e.Title != other.Title || e.Description != other.Description ||
		e.AllDay != other.AllDay || e.BillID != other.BillID ||
		e.Color != other.Color || e.Location != other.Location ||
		e.ExternalEventID != other.ExternalEventID || e.Provider != other.Provider {
		return false
	}
	if !e.Start.Equal(other.Start) || !e.End.Equal(other.End) {
		return false
	}
	if len(e.Reminders) != len(other.Reminders) {
		return false
	}
	for i := range e.Reminders {
		if e.Reminders[i] != other.Reminders[i] {
			return false
		}
	}
	return true
}
