package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/rlehmann/billsync/pkg/calendar"
	"github.com/rlehmann/billsync/pkg/oauth"
	"github.com/rlehmann/billsync/pkg/providers"
)

const (
	defaultBaseURL = "https://www.googleapis.com/calendar/v3"
	userInfoURL    = "https://www.googleapis.com/oauth2/v3/userinfo"
	tokenInfoURL   = "https://www.googleapis.com/oauth2/v3/tokeninfo"
	revokeURL      = "https://oauth2.googleapis.com/revoke"

	maxListResults = 2500
)

// Provider syncs events to Google Calendar through the v3 REST API.
type Provider struct {
	manager           *oauth.Manager
	userID            string
	authenticated     bool
	defaultCalendarID string
	httpClient        *http.Client

	// baseURL is overridable in tests.
	baseURL string
}

var _ providers.Provider = (*Provider)(nil)

// RegisterOAuth installs the Google OAuth configuration on the manager.
// access_type=offline with prompt=consent forces Google to issue a refresh
// token on every authorization.
func RegisterOAuth(m *oauth.Manager, clientID, clientSecret, redirectURL string) error {
	return m.RegisterProvider(calendar.ProviderGoogle, &oauth.Config{
		OAuth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     googleoauth.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/calendar",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
		},
		ExtraAuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		Hooks: oauth.Hooks{
			UserInfo: fetchUserInfo,
			Revoke:   revokeToken,
			Validate: validateToken,
		},
	})
}

func fetchUserInfo(ctx context.Context, client *http.Client) (*oauth.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &oauth.UserInfo{ID: payload.Sub, Email: payload.Email, Name: payload.Name, Picture: payload.Picture}, nil
}

func revokeToken(ctx context.Context, client *http.Client, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke request failed with status %d", resp.StatusCode)
	}
	return nil
}

func validateToken(ctx context.Context, client *http.Client, token string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenInfoURL+"?access_token="+url.QueryEscape(token), nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// New creates a Google provider on the given OAuth manager. If no Google
// configuration is registered yet, one is built from GOOGLE_CLIENT_ID and
// GOOGLE_CLIENT_SECRET.
func New(manager *oauth.Manager, redirectURL string) (*Provider, error) {
	if manager.Config(calendar.ProviderGoogle) == nil {
		clientID := os.Getenv("GOOGLE_CLIENT_ID")
		clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
		if clientID == "" || clientSecret == "" {
			return nil, calendar.NewAuthError("Google OAuth client credentials are not configured")
		}
		if err := RegisterOAuth(manager, clientID, clientSecret, redirectURL); err != nil {
			return nil, err
		}
	}

	return &Provider{
		manager:           manager,
		defaultCalendarID: "primary",
		httpClient:        providers.NewHTTPClient(),
		baseURL:           defaultBaseURL,
	}, nil
}

// Name returns "google".
func (p *Provider) Name() string {
	return calendar.ProviderGoogle
}

// IsAuthenticated reports whether a user is bound and credentials exist.
func (p *Provider) IsAuthenticated() bool {
	return p.authenticated && p.userID != ""
}

// UseAccount binds the provider to a previously connected account. Returns
// false when no usable credentials are stored for it.
func (p *Provider) UseAccount(ctx context.Context, user string) bool {
	if p.manager.GetValidToken(ctx, calendar.ProviderGoogle, user) == "" {
		return false
	}
	p.userID = user
	p.authenticated = true
	return true
}

// Authenticate completes the authorization-code flow.
func (p *Provider) Authenticate(ctx context.Context, code, state string) *oauth.AuthResult {
	result := p.manager.HandleAuthCallback(ctx, calendar.ProviderGoogle, code, state)
	if result.IsSuccess() && result.UserInfo != nil && result.UserInfo.Email != "" {
		p.userID = result.UserInfo.Email
		p.authenticated = true
	}
	return result
}

// RefreshAuthentication refreshes the bound account's tokens.
func (p *Provider) RefreshAuthentication(ctx context.Context) *oauth.AuthResult {
	if !p.IsAuthenticated() {
		return &oauth.AuthResult{Status: oauth.AuthFailed, ErrorMessage: "not authenticated"}
	}
	return p.manager.RefreshToken(ctx, calendar.ProviderGoogle, p.userID)
}

// RevokeAuthentication revokes access and unbinds the account.
func (p *Provider) RevokeAuthentication(ctx context.Context) bool {
	if p.userID == "" {
		return true
	}
	ok := p.manager.RevokeAccess(ctx, calendar.ProviderGoogle, p.userID)
	p.authenticated = false
	p.userID = ""
	return ok
}

// TestConnection verifies API reachability by listing one calendar.
func (p *Provider) TestConnection(ctx context.Context) *providers.ConnectionResult {
	token, err := p.token(ctx)
	if err != nil {
		return &providers.ConnectionResult{Status: providers.ConnectionNoAuth, Message: "not authenticated"}
	}

	start := time.Now()
	status, _, body, err := p.doJSON(ctx, http.MethodGet, p.baseURL+"/users/me/calendarList?maxResults=1", token, nil)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if providers.IsTimeout(err) {
			return &providers.ConnectionResult{Status: providers.ConnectionTimeout, Message: err.Error(), LatencyMS: latency}
		}
		return &providers.ConnectionResult{Status: providers.ConnectionFailed, Message: err.Error(), LatencyMS: latency}
	}
	if status != http.StatusOK {
		apiErr := providers.ClassifyResponse(calendar.ProviderGoogle, status, nil, body)
		return &providers.ConnectionResult{Status: providers.ConnectionFailed, Message: apiErr.Error(), LatencyMS: latency}
	}

	var payload struct {
		Items []struct {
			Summary string `json:"summary"`
		} `json:"items"`
	}
	result := &providers.ConnectionResult{Status: providers.ConnectionOK, Message: "connected", LatencyMS: latency}
	if json.Unmarshal(body, &payload) == nil && len(payload.Items) > 0 {
		result.CalendarName = payload.Items[0].Summary
	}
	return result
}

// CreateEvent creates the event and returns the Google event ID.
func (p *Provider) CreateEvent(ctx context.Context, event *calendar.Event, calendarID string) (*providers.EventResult, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return providers.FailedResult(err.Error()), nil
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", p.baseURL, url.PathEscape(p.calendarOrDefault(calendarID)))
	status, header, body, err := p.doJSON(ctx, http.MethodPost, endpoint, token, toGoogleEvent(event))
	if err != nil {
		return providers.FailedResult(err.Error()), nil
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return providers.ResultFromError(providers.ClassifyResponse(calendar.ProviderGoogle, status, header, body)), nil
	}

	var created googleEvent
	if err := json.Unmarshal(body, &created); err != nil {
		return providers.FailedResult(fmt.Sprintf("invalid response: %v", err)), nil
	}
	return &providers.EventResult{Status: providers.StatusSuccess, EventID: created.ID}, nil
}

// GetEvent fetches one event by its Google event ID.
func (p *Provider) GetEvent(ctx context.Context, eventID, calendarID string) (*calendar.Event, *providers.EventResult, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, nil, err
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", p.baseURL, url.PathEscape(p.calendarOrDefault(calendarID)), url.PathEscape(eventID))
	status, header, body, err := p.doJSON(ctx, http.MethodGet, endpoint, token, nil)
	if err != nil {
		return nil, providers.FailedResult(err.Error()), nil
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return nil, &providers.EventResult{Status: providers.StatusNotFound, EventID: eventID}, nil
	}
	if status != http.StatusOK {
		return nil, providers.ResultFromError(providers.ClassifyResponse(calendar.ProviderGoogle, status, header, body)), nil
	}

	var ge googleEvent
	if err := json.Unmarshal(body, &ge); err != nil {
		return nil, providers.FailedResult(fmt.Sprintf("invalid response: %v", err)), nil
	}
	event, err := fromGoogleEvent(&ge)
	if err != nil {
		return nil, providers.FailedResult(err.Error()), nil
	}
	return event, &providers.EventResult{Status: providers.StatusSuccess, EventID: ge.ID}, nil
}

// UpdateEvent replaces the event content under the same Google event ID.
func (p *Provider) UpdateEvent(ctx context.Context, eventID string, event *calendar.Event, calendarID string) (*providers.EventResult, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return providers.FailedResult(err.Error()), nil
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", p.baseURL, url.PathEscape(p.calendarOrDefault(calendarID)), url.PathEscape(eventID))
	status, header, body, err := p.doJSON(ctx, http.MethodPut, endpoint, token, toGoogleEvent(event))
	if err != nil {
		return providers.FailedResult(err.Error()), nil
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return &providers.EventResult{Status: providers.StatusNotFound, EventID: eventID}, nil
	}
	if status != http.StatusOK {
		return providers.ResultFromError(providers.ClassifyResponse(calendar.ProviderGoogle, status, header, body)), nil
	}
	return &providers.EventResult{Status: providers.StatusSuccess, EventID: eventID}, nil
}

// DeleteEvent removes the event. Already-deleted events report NOT_FOUND.
func (p *Provider) DeleteEvent(ctx context.Context, eventID, calendarID string) (*providers.EventResult, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events/%s", p.baseURL, url.PathEscape(p.calendarOrDefault(calendarID)), url.PathEscape(eventID))
	status, header, body, err := p.doJSON(ctx, http.MethodDelete, endpoint, token, nil)
	if err != nil {
		return providers.FailedResult(err.Error()), nil
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return &providers.EventResult{Status: providers.StatusSuccess, EventID: eventID}, nil
	case http.StatusNotFound, http.StatusGone:
		return &providers.EventResult{Status: providers.StatusNotFound, EventID: eventID}, nil
	default:
		return providers.ResultFromError(providers.ClassifyResponse(calendar.ProviderGoogle, status, header, body)), nil
	}
}

// GetEvents lists events in the range, expanded to single instances. Best
// effort: any failure yields an empty slice.
func (p *Provider) GetEvents(ctx context.Context, rng calendar.DateRange, calendarID string) []*calendar.Event {
	token, err := p.token(ctx)
	if err != nil {
		return nil
	}

	query := url.Values{}
	query.Set("timeMin", rng.Start.Format(time.RFC3339))
	query.Set("timeMax", rng.End.Add(24*time.Hour).Format(time.RFC3339))
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")
	query.Set("maxResults", strconv.Itoa(maxListResults))

	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", p.baseURL, url.PathEscape(p.calendarOrDefault(calendarID)), query.Encode())
	status, _, body, err := p.doJSON(ctx, http.MethodGet, endpoint, token, nil)
	if err != nil || status != http.StatusOK {
		return nil
	}

	var payload struct {
		Items []googleEvent `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	var events []*calendar.Event
	for i := range payload.Items {
		event, err := fromGoogleEvent(&payload.Items[i])
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events
}

// BatchCreateEvents creates events one by one, results in input order.
func (p *Provider) BatchCreateEvents(ctx context.Context, events []*calendar.Event, calendarID string) ([]*providers.EventResult, error) {
	if _, err := p.token(ctx); err != nil {
		return nil, err
	}

	results := make([]*providers.EventResult, 0, len(events))
	for _, event := range events {
		result, err := p.CreateEvent(ctx, event, calendarID)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// BatchUpdateEvents updates events one by one, results in input order.
func (p *Provider) BatchUpdateEvents(ctx context.Context, updates []providers.EventUpdate, calendarID string) ([]*providers.EventResult, error) {
	if _, err := p.token(ctx); err != nil {
		return nil, err
	}

	results := make([]*providers.EventResult, 0, len(updates))
	for _, u := range updates {
		result, err := p.UpdateEvent(ctx, u.EventID, u.Event, calendarID)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// BatchDeleteEvents deletes events one by one, results in input order.
func (p *Provider) BatchDeleteEvents(ctx context.Context, eventIDs []string, calendarID string) ([]*providers.EventResult, error) {
	if _, err := p.token(ctx); err != nil {
		return nil, err
	}

	results := make([]*providers.EventResult, 0, len(eventIDs))
	for _, id := range eventIDs {
		result, err := p.DeleteEvent(ctx, id, calendarID)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// GetCalendars lists the calendars visible to the account.
func (p *Provider) GetCalendars(ctx context.Context) ([]providers.CalendarInfo, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	status, header, body, err := p.doJSON(ctx, http.MethodGet, p.baseURL+"/users/me/calendarList", token, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, providers.ClassifyResponse(calendar.ProviderGoogle, status, header, body)
	}

	var payload struct {
		Items []struct {
			ID          string `json:"id"`
			Summary     string `json:"summary"`
			Description string `json:"description"`
			Primary     bool   `json:"primary"`
			AccessRole  string `json:"accessRole"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, calendar.NewSyncError(fmt.Sprintf("invalid calendar list response: %v", err))
	}

	calendars := make([]providers.CalendarInfo, 0, len(payload.Items))
	for _, item := range payload.Items {
		calendars = append(calendars, providers.CalendarInfo{
			ID:          item.ID,
			Name:        item.Summary,
			Description: item.Description,
			Primary:     item.Primary,
			AccessRole:  item.AccessRole,
		})
	}
	return calendars, nil
}

// GetDefaultCalendarID returns the primary calendar.
func (p *Provider) GetDefaultCalendarID(ctx context.Context) string {
	calendars, err := p.GetCalendars(ctx)
	if err == nil {
		for _, c := range calendars {
			if c.Primary {
				return c.ID
			}
		}
	}
	return p.defaultCalendarID
}

// RateLimits returns Google's published quota figures.
func (p *Provider) RateLimits() map[string]int {
	return map[string]int{
		"daily_quota":               1000000,
		"user_rate_limit_per_100s":  500,
		"batch_size_recommendation": 50,
	}
}

// SupportedFeatures lists what this provider implements.
func (p *Provider) SupportedFeatures() []string {
	return []string{"create", "read", "update", "delete", "batch", "all_day_events", "reminders", "recurring_expansion", "extended_properties"}
}

func (p *Provider) calendarOrDefault(calendarID string) string {
	if calendarID == "" {
		return p.defaultCalendarID
	}
	return calendarID
}

func (p *Provider) token(ctx context.Context) (string, error) {
	if !p.IsAuthenticated() {
		return "", providers.ErrNotAuthenticated(calendar.ProviderGoogle)
	}
	token := p.manager.GetValidToken(ctx, calendar.ProviderGoogle, p.userID)
	if token == "" {
		p.authenticated = false
		return "", providers.ErrNotAuthenticated(calendar.ProviderGoogle)
	}
	return token, nil
}

func (p *Provider) doJSON(ctx context.Context, method, endpoint, token string, payload any) (int, http.Header, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		connErr := calendar.WrapConnectionError(err)
		connErr.Provider = calendar.ProviderGoogle
		return 0, nil, nil, connErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

// --- Wire format ---

const dateOnly = "2006-01-02"

type googleEventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleReminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type googleReminders struct {
	UseDefault bool                     `json:"useDefault"`
	Overrides  []googleReminderOverride `json:"overrides,omitempty"`
}

type googleExtendedProps struct {
	Private map[string]string `json:"private,omitempty"`
}

type googleEvent struct {
	ID                 string               `json:"id,omitempty"`
	Summary            string               `json:"summary"`
	Description        string               `json:"description,omitempty"`
	Location           string               `json:"location,omitempty"`
	Start              *googleEventTime     `json:"start,omitempty"`
	End                *googleEventTime     `json:"end,omitempty"`
	Reminders          *googleReminders     `json:"reminders,omitempty"`
	ExtendedProperties *googleExtendedProps `json:"extendedProperties,omitempty"`
	Updated            string               `json:"updated,omitempty"`
}

// toGoogleEvent converts to the Google wire format. All-day events use the
// API's exclusive end date, so the end is the day after the last event day.
func toGoogleEvent(e *calendar.Event) *googleEvent {
	ge := &googleEvent{
		Summary:     e.Title,
		Description: e.Description,
		Location:    e.Location,
		ExtendedProperties: &googleExtendedProps{
			Private: map[string]string{"billId": strconv.FormatInt(e.BillID, 10)},
		},
	}

	if e.AllDay {
		ge.Start = &googleEventTime{Date: e.Start.Format(dateOnly)}
		ge.End = &googleEventTime{Date: e.End.AddDate(0, 0, 1).Format(dateOnly)}
	} else {
		ge.Start = &googleEventTime{DateTime: e.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"}
		ge.End = &googleEventTime{DateTime: e.End.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	}

	if len(e.Reminders) == 0 {
		ge.Reminders = &googleReminders{UseDefault: true}
	} else {
		overrides := make([]googleReminderOverride, 0, len(e.Reminders))
		for _, r := range e.Reminders {
			method := "popup"
			if r.Method == calendar.ReminderEmail {
				method = "email"
			}
			overrides = append(overrides, googleReminderOverride{Method: method, Minutes: r.MinutesBefore})
		}
		ge.Reminders = &googleReminders{UseDefault: false, Overrides: overrides}
	}

	return ge
}

// fromGoogleEvent converts back, undoing the exclusive end date for all-day
// events: the last day ends at 23:59:59.
func fromGoogleEvent(ge *googleEvent) (*calendar.Event, error) {
	if ge.Start == nil || ge.End == nil {
		return nil, calendar.NewSyncError("event is missing start or end time")
	}

	e := &calendar.Event{
		Title:           ge.Summary,
		Description:     ge.Description,
		Location:        ge.Location,
		ExternalEventID: ge.ID,
		Provider:        calendar.ProviderGoogle,
	}

	if ge.Start.Date != "" {
		start, err := time.ParseInLocation(dateOnly, ge.Start.Date, time.UTC)
		if err != nil {
			return nil, calendar.NewSyncError(fmt.Sprintf("invalid start date: %v", err))
		}
		end, err := time.ParseInLocation(dateOnly, ge.End.Date, time.UTC)
		if err != nil {
			return nil, calendar.NewSyncError(fmt.Sprintf("invalid end date: %v", err))
		}
		e.AllDay = true
		e.Start = start
		e.End = end.AddDate(0, 0, -1).Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	} else {
		start, err := time.Parse(time.RFC3339, ge.Start.DateTime)
		if err != nil {
			return nil, calendar.NewSyncError(fmt.Sprintf("invalid start time: %v", err))
		}
		end, err := time.Parse(time.RFC3339, ge.End.DateTime)
		if err != nil {
			return nil, calendar.NewSyncError(fmt.Sprintf("invalid end time: %v", err))
		}
		e.Start = start
		e.End = end
	}

	if ge.ExtendedProperties != nil {
		if v, ok := ge.ExtendedProperties.Private["billId"]; ok {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				e.BillID = id
			}
		}
	}

	if ge.Reminders != nil {
		for _, o := range ge.Reminders.Overrides {
			method := calendar.ReminderPopup
			if o.Method == "email" {
				method = calendar.ReminderEmail
			}
			e.Reminders = append(e.Reminders, calendar.Reminder{MinutesBefore: o.Minutes, Method: method})
		}
	}

	if ge.Updated != "" {
		if updated, err := time.Parse(time.RFC3339, ge.Updated); err == nil {
			e.LastModified = updated
		}
	}

	return e, nil
}
