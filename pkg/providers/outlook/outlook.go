package outlook

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
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/rlehmann/billsync/pkg/calendar"
	"github.com/rlehmann/billsync/pkg/oauth"
	"github.com/rlehmann/billsync/pkg/providers"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"

	// extensionName is the open extension that carries the bill ID on
	// Graph events.
	extensionName = "com.billstracker.eventdata"

	pageSize = 100
)

// Provider syncs events to Outlook calendars through the Microsoft Graph
// REST API.
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

// RegisterOAuth installs the Microsoft OAuth configuration on the manager.
// The "common" tenant accepts both personal and work accounts; offline_access
// is what makes Graph issue a refresh token.
func RegisterOAuth(m *oauth.Manager, clientID, clientSecret, redirectURL string) error {
	return m.RegisterProvider(calendar.ProviderOutlook, &oauth.Config{
		OAuth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes: []string{
				"https://graph.microsoft.com/Calendars.ReadWrite",
				"https://graph.microsoft.com/User.Read",
				"offline_access",
			},
		},
		ExtraAuthParams: map[string]string{
			"response_mode": "query",
		},
		Hooks: oauth.Hooks{
			UserInfo: fetchUserInfo,
			// Microsoft has no self-service token revocation endpoint;
			// local credential deletion is all we can do.
			Revoke:   nil,
			Validate: validateToken,
		},
	})
}

func fetchUserInfo(ctx context.Context, client *http.Client) (*oauth.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, defaultBaseURL+"/me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	email := payload.Mail
	if email == "" {
		email = payload.UserPrincipalName
	}
	return &oauth.UserInfo{ID: payload.ID, Email: email, Name: payload.DisplayName}, nil
}

func validateToken(ctx context.Context, client *http.Client, token string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, defaultBaseURL+"/me", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// New creates an Outlook provider on the given OAuth manager. If no
// configuration is registered yet, one is built from MICROSOFT_CLIENT_ID and
// MICROSOFT_CLIENT_SECRET.
func New(manager *oauth.Manager, redirectURL string) (*Provider, error) {
	if manager.Config(calendar.ProviderOutlook) == nil {
		clientID := os.Getenv("MICROSOFT_CLIENT_ID")
		clientSecret := os.Getenv("MICROSOFT_CLIENT_SECRET")
		if clientID == "" || clientSecret == "" {
			return nil, calendar.NewAuthError("Microsoft OAuth client credentials are not configured")
		}
		if err := RegisterOAuth(manager, clientID, clientSecret, redirectURL); err != nil {
			return nil, err
		}
	}

	return &Provider{
		manager:    manager,
		httpClient: providers.NewHTTPClient(),
		baseURL:    defaultBaseURL,
	}, nil
}

// Name returns "outlook".
func (p *Provider) Name() string {
	return calendar.ProviderOutlook
}

// IsAuthenticated reports whether a user is bound and credentials exist.
func (p *Provider) IsAuthenticated() bool {
	return p.authenticated && p.userID != ""
}

// UseAccount binds the provider to a previously connected account.
func (p *Provider) UseAccount(ctx context.Context, user string) bool {
	if p.manager.GetValidToken(ctx, calendar.ProviderOutlook, user) == "" {
		return false
	}
	p.userID = user
	p.authenticated = true
	return true
}

// Authenticate completes the authorization-code flow.
func (p *Provider) Authenticate(ctx context.Context, code, state string) *oauth.AuthResult {
	result := p.manager.HandleAuthCallback(ctx, calendar.ProviderOutlook, code, state)
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
	return p.manager.RefreshToken(ctx, calendar.ProviderOutlook, p.userID)
}

// RevokeAuthentication discards local credentials. Graph offers no remote
// revocation, so the token lives on until it expires server-side.
func (p *Provider) RevokeAuthentication(ctx context.Context) bool {
	if p.userID == "" {
		return true
	}
	ok := p.manager.RevokeAccess(ctx, calendar.ProviderOutlook, p.userID)
	p.authenticated = false
	p.userID = ""
	return ok
}

// TestConnection verifies Graph reachability with the default calendar.
func (p *Provider) TestConnection(ctx context.Context) *providers.ConnectionResult {
	token, err := p.token(ctx)
	if err != nil {
		return &providers.ConnectionResult{Status: providers.ConnectionNoAuth, Message: "not authenticated"}
	}

	start := time.Now()
	status, _, body, err := p.doJSON(ctx, http.MethodGet, p.baseURL+"/me/calendar", token, nil)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if providers.IsTimeout(err) {
			return &providers.ConnectionResult{Status: providers.ConnectionTimeout, Message: err.Error(), LatencyMS: latency}
		}
		return &providers.ConnectionResult{Status: providers.ConnectionFailed, Message: err.Error(), LatencyMS: latency}
	}
	if status != http.StatusOK {
		apiErr := providers.ClassifyResponse(calendar.ProviderOutlook, status, nil, body)
		return &providers.ConnectionResult{Status: providers.ConnectionFailed, Message: apiErr.Error(), LatencyMS: latency}
	}

	var payload struct {
		Name string `json:"name"`
	}
	result := &providers.ConnectionResult{Status: providers.ConnectionOK, Message: "connected", LatencyMS: latency}
	if json.Unmarshal(body, &payload) == nil {
		result.CalendarName = payload.Name
	}
	return result
}

// CreateEvent creates the event and returns the Graph event ID.
func (p *Provider) CreateEvent(ctx context.Context, event *calendar.Event, calendarID string) (*providers.EventResult, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return providers.FailedResult(err.Error()), nil
	}

	status, header, body, err := p.doJSON(ctx, http.MethodPost, p.eventsURL(calendarID), token, toOutlookEvent(event))
	if err != nil {
		return providers.FailedResult(err.Error()), nil
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return providers.ResultFromError(providers.ClassifyResponse(calendar.ProviderOutlook, status, header, body)), nil
	}

	var created outlookEvent
	if err := json.Unmarshal(body, &created); err != nil {
		return providers.FailedResult(fmt.Sprintf("invalid response: %v", err)), nil
	}
	return &providers.EventResult{Status: providers.StatusSuccess, EventID: created.ID}, nil
}

// GetEvent fetches one event by its Graph event ID.
func (p *Provider) GetEvent(ctx context.Context, eventID, calendarID string) (*calendar.Event, *providers.EventResult, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, nil, err
	}

	endpoint := p.eventURL(calendarID, eventID) + "?$expand=" + url.QueryEscape(fmt.Sprintf("extensions($filter=id eq '%s')", extensionName))
	status, header, body, err := p.doJSON(ctx, http.MethodGet, endpoint, token, nil)
	if err != nil {
		return nil, providers.FailedResult(err.Error()), nil
	}
	if status == http.StatusNotFound {
		return nil, &providers.EventResult{Status: providers.StatusNotFound, EventID: eventID}, nil
	}
	if status != http.StatusOK {
		return nil, providers.ResultFromError(providers.ClassifyResponse(calendar.ProviderOutlook, status, header, body)), nil
	}

	var oe outlookEvent
	if err := json.Unmarshal(body, &oe); err != nil {
		return nil, providers.FailedResult(fmt.Sprintf("invalid response: %v", err)), nil
	}
	event, err := fromOutlookEvent(&oe)
	if err != nil {
		return nil, providers.FailedResult(err.Error()), nil
	}
	return event, &providers.EventResult{Status: providers.StatusSuccess, EventID: oe.ID}, nil
}

// UpdateEvent replaces the event content under the same Graph event ID.
func (p *Provider) UpdateEvent(ctx context.Context, eventID string, event *calendar.Event, calendarID string) (*providers.EventResult, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return providers.FailedResult(err.Error()), nil
	}

	status, header, body, err := p.doJSON(ctx, http.MethodPatch, p.eventURL(calendarID, eventID), token, toOutlookEvent(event))
	if err != nil {
		return providers.FailedResult(err.Error()), nil
	}
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return &providers.EventResult{Status: providers.StatusSuccess, EventID: eventID}, nil
	case http.StatusNotFound:
		return &providers.EventResult{Status: providers.StatusNotFound, EventID: eventID}, nil
	default:
		return providers.ResultFromError(providers.ClassifyResponse(calendar.ProviderOutlook, status, header, body)), nil
	}
}

// DeleteEvent removes the event. Already-deleted events report NOT_FOUND.
func (p *Provider) DeleteEvent(ctx context.Context, eventID, calendarID string) (*providers.EventResult, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	status, header, body, err := p.doJSON(ctx, http.MethodDelete, p.eventURL(calendarID, eventID), token, nil)
	if err != nil {
		return providers.FailedResult(err.Error()), nil
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return &providers.EventResult{Status: providers.StatusSuccess, EventID: eventID}, nil
	case http.StatusNotFound:
		return &providers.EventResult{Status: providers.StatusNotFound, EventID: eventID}, nil
	default:
		return providers.ResultFromError(providers.ClassifyResponse(calendar.ProviderOutlook, status, header, body)), nil
	}
}

// GetEvents lists events in the range via calendarView, following
// @odata.nextLink pagination. Best effort: failures yield an empty slice.
func (p *Provider) GetEvents(ctx context.Context, rng calendar.DateRange, calendarID string) []*calendar.Event {
	token, err := p.token(ctx)
	if err != nil {
		return nil
	}

	query := url.Values{}
	query.Set("startDateTime", rng.Start.UTC().Format(time.RFC3339))
	query.Set("endDateTime", rng.End.Add(24*time.Hour).UTC().Format(time.RFC3339))
	query.Set("$top", strconv.Itoa(pageSize))
	query.Set("$expand", fmt.Sprintf("extensions($filter=id eq '%s')", extensionName))

	endpoint := p.calendarViewURL(calendarID) + "?" + query.Encode()

	var events []*calendar.Event
	for endpoint != "" {
		status, _, body, err := p.doJSON(ctx, http.MethodGet, endpoint, token, nil)
		if err != nil || status != http.StatusOK {
			return events
		}

		var payload struct {
			Value    []outlookEvent `json:"value"`
			NextLink string         `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return events
		}

		for i := range payload.Value {
			event, err := fromOutlookEvent(&payload.Value[i])
			if err != nil {
				continue
			}
			events = append(events, event)
		}
		endpoint = payload.NextLink
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

	status, header, body, err := p.doJSON(ctx, http.MethodGet, p.baseURL+"/me/calendars", token, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, providers.ClassifyResponse(calendar.ProviderOutlook, status, header, body)
	}

	var payload struct {
		Value []struct {
			ID                string `json:"id"`
			Name              string `json:"name"`
			IsDefaultCalendar bool   `json:"isDefaultCalendar"`
			CanEdit           bool   `json:"canEdit"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, calendar.NewSyncError(fmt.Sprintf("invalid calendar list response: %v", err))
	}

	calendars := make([]providers.CalendarInfo, 0, len(payload.Value))
	for _, item := range payload.Value {
		role := "reader"
		if item.CanEdit {
			role = "writer"
		}
		calendars = append(calendars, providers.CalendarInfo{
			ID:         item.ID,
			Name:       item.Name,
			Primary:    item.IsDefaultCalendar,
			AccessRole: role,
		})
	}
	return calendars, nil
}

// GetDefaultCalendarID resolves the account's default calendar.
func (p *Provider) GetDefaultCalendarID(ctx context.Context) string {
	if p.defaultCalendarID != "" {
		return p.defaultCalendarID
	}

	token, err := p.token(ctx)
	if err != nil {
		return ""
	}
	status, _, body, err := p.doJSON(ctx, http.MethodGet, p.baseURL+"/me/calendar", token, nil)
	if err != nil || status != http.StatusOK {
		return ""
	}

	var payload struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(body, &payload) == nil {
		p.defaultCalendarID = payload.ID
	}
	return p.defaultCalendarID
}

// RateLimits returns Graph's published throttling figures.
func (p *Provider) RateLimits() map[string]int {
	return map[string]int{
		"requests_per_minute":       600,
		"requests_per_30s_per_app":  10000,
		"batch_size_recommendation": 20,
	}
}

// SupportedFeatures lists what this provider implements. Only a single
// reminder per event survives the trip to Graph.
func (p *Provider) SupportedFeatures() []string {
	return []string{"create", "read", "update", "delete", "batch", "all_day_events", "single_reminder", "categories", "open_extensions"}
}

func (p *Provider) eventsURL(calendarID string) string {
	if calendarID == "" {
		return p.baseURL + "/me/events"
	}
	return fmt.Sprintf("%s/me/calendars/%s/events", p.baseURL, url.PathEscape(calendarID))
}

func (p *Provider) eventURL(calendarID, eventID string) string {
	if calendarID == "" {
		return fmt.Sprintf("%s/me/events/%s", p.baseURL, url.PathEscape(eventID))
	}
	return fmt.Sprintf("%s/me/calendars/%s/events/%s", p.baseURL, url.PathEscape(calendarID), url.PathEscape(eventID))
}

func (p *Provider) calendarViewURL(calendarID string) string {
	if calendarID == "" {
		return p.baseURL + "/me/calendarView"
	}
	return fmt.Sprintf("%s/me/calendars/%s/calendarView", p.baseURL, url.PathEscape(calendarID))
}

func (p *Provider) token(ctx context.Context) (string, error) {
	if !p.IsAuthenticated() {
		return "", providers.ErrNotAuthenticated(calendar.ProviderOutlook)
	}
	token := p.manager.GetValidToken(ctx, calendar.ProviderOutlook, p.userID)
	if token == "" {
		p.authenticated = false
		return "", providers.ErrNotAuthenticated(calendar.ProviderOutlook)
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
		connErr.Provider = calendar.ProviderOutlook
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

const graphTimeLayout = "2006-01-02T15:04:05"

type outlookDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type outlookBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type outlookLocation struct {
	DisplayName string `json:"displayName"`
}

type outlookExtension struct {
	ODataType     string `json:"@odata.type,omitempty"`
	ExtensionName string `json:"extensionName,omitempty"`
	ID            string `json:"id,omitempty"`
	BillID        string `json:"billId,omitempty"`
}

type outlookEvent struct {
	ID                         string             `json:"id,omitempty"`
	Subject                    string             `json:"subject"`
	Body                       *outlookBody       `json:"body,omitempty"`
	Start                      *outlookDateTime   `json:"start,omitempty"`
	End                        *outlookDateTime   `json:"end,omitempty"`
	IsAllDay                   bool               `json:"isAllDay"`
	IsReminderOn               bool               `json:"isReminderOn"`
	ReminderMinutesBeforeStart int                `json:"reminderMinutesBeforeStart,omitempty"`
	Location                   *outlookLocation   `json:"location,omitempty"`
	Categories                 []string           `json:"categories,omitempty"`
	Extensions                 []outlookExtension `json:"extensions,omitempty"`
	LastModifiedDateTime       string             `json:"lastModifiedDateTime,omitempty"`
}

// toOutlookEvent converts to the Graph wire format. Graph requires all-day
// events to span midnight-to-midnight with an exclusive end, so the end is
// moved to midnight of the day after the last event day. Graph carries only
// one reminder per event; the first one wins, the rest are dropped.
func toOutlookEvent(e *calendar.Event) *outlookEvent {
	oe := &outlookEvent{
		Subject:  e.Title,
		IsAllDay: e.AllDay,
		Extensions: []outlookExtension{{
			ODataType:     "microsoft.graph.openTypeExtension",
			ExtensionName: extensionName,
			BillID:        strconv.FormatInt(e.BillID, 10),
		}},
	}

	if e.Description != "" {
		oe.Body = &outlookBody{ContentType: "text", Content: e.Description}
	}
	if e.Location != "" {
		oe.Location = &outlookLocation{DisplayName: e.Location}
	}

	if e.AllDay {
		start := truncateToDay(e.Start)
		end := truncateToDay(e.End).AddDate(0, 0, 1)
		oe.Start = &outlookDateTime{DateTime: start.Format(graphTimeLayout), TimeZone: "UTC"}
		oe.End = &outlookDateTime{DateTime: end.Format(graphTimeLayout), TimeZone: "UTC"}
	} else {
		oe.Start = &outlookDateTime{DateTime: e.Start.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
		oe.End = &outlookDateTime{DateTime: e.End.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
	}

	if len(e.Reminders) > 0 {
		oe.IsReminderOn = true
		oe.ReminderMinutesBeforeStart = e.Reminders[0].MinutesBefore
	}

	return oe
}

// fromOutlookEvent converts back, undoing the exclusive all-day end: the
// last day ends at 23:59:59.
func fromOutlookEvent(oe *outlookEvent) (*calendar.Event, error) {
	if oe.Start == nil || oe.End == nil {
		return nil, calendar.NewSyncError("event is missing start or end time")
	}

	start, err := parseGraphTime(oe.Start.DateTime)
	if err != nil {
		return nil, calendar.NewSyncError(fmt.Sprintf("invalid start time: %v", err))
	}
	end, err := parseGraphTime(oe.End.DateTime)
	if err != nil {
		return nil, calendar.NewSyncError(fmt.Sprintf("invalid end time: %v", err))
	}

	e := &calendar.Event{
		Title:           oe.Subject,
		AllDay:          oe.IsAllDay,
		ExternalEventID: oe.ID,
		Provider:        calendar.ProviderOutlook,
		Start:           start,
		End:             end,
	}

	if oe.IsAllDay {
		e.Start = truncateToDay(start)
		e.End = truncateToDay(end).AddDate(0, 0, -1).Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	}

	if oe.Body != nil {
		e.Description = oe.Body.Content
	}
	if oe.Location != nil {
		e.Location = oe.Location.DisplayName
	}

	if oe.IsReminderOn {
		e.Reminders = []calendar.Reminder{{MinutesBefore: oe.ReminderMinutesBeforeStart, Method: calendar.ReminderPopup}}
	}

	for _, ext := range oe.Extensions {
		if ext.ID == extensionName || ext.ExtensionName == extensionName {
			if id, err := strconv.ParseInt(ext.BillID, 10, 64); err == nil {
				e.BillID = id
			}
		}
	}

	if oe.LastModifiedDateTime != "" {
		if modified, err := time.Parse(time.RFC3339, oe.LastModifiedDateTime); err == nil {
			e.LastModified = modified
		}
	}

	return e, nil
}

// parseGraphTime handles Graph's timestamp variants: with or without
// fractional seconds, with or without a zone suffix.
func parseGraphTime(s string) (time.Time, error) {
	for _, layout := range []string{
		graphTimeLayout + ".999999999",
		graphTimeLayout,
		time.RFC3339,
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
