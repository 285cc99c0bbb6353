package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlehmann/billsync/pkg/calendar"
	"github.com/rlehmann/billsync/pkg/oauth"
	"github.com/rlehmann/billsync/pkg/providers"
)

func testProvider(t *testing.T, handler http.Handler) (*Provider, context.Context) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	storage, err := oauth.NewCredentialStorage(t.TempDir())
	require.NoError(t, err)
	manager := oauth.NewManager(storage, "pw")
	require.NoError(t, RegisterOAuth(manager, "client-id", "client-secret", "http://localhost:8085/callback"))

	storage.Store("google", "user@example.com", &oauth.Credentials{
		AccessToken: "test-token",
		ExpiresAt:   time.Now().Add(time.Hour),
		UserInfo:    &oauth.UserInfo{Email: "user@example.com"},
	}, "pw")

	p, err := New(manager, "http://localhost:8085/callback")
	require.NoError(t, err)
	p.baseURL = srv.URL

	ctx := context.Background()
	require.True(t, p.UseAccount(ctx, "user@example.com"))
	return p, ctx
}

func timedEvent(t *testing.T) *calendar.Event {
	t.Helper()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	event, err := calendar.NewEvent("Electric Bill", "Monthly bill", start, start.Add(time.Hour), false,
		[]calendar.Reminder{{MinutesBefore: 60, Method: calendar.ReminderEmail}}, 42)
	require.NoError(t, err)
	return event
}

func allDayEvent(t *testing.T) *calendar.Event {
	t.Helper()
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	event, err := calendar.NewEvent("Rent", "", start, start.Add(24*time.Hour-time.Second), true, nil, 7)
	require.NoError(t, err)
	return event
}

func TestCreateEventWireFormat(t *testing.T) {
	var captured googleEvent
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]string{"id": "evt123"})
	}))

	result, err := p.CreateEvent(ctx, timedEvent(t), "")
	require.NoError(t, err)
	assert.Equal(t, providers.StatusSuccess, result.Status)
	assert.Equal(t, "evt123", result.EventID)

	assert.Equal(t, "Electric Bill", captured.Summary)
	assert.Equal(t, "2026-03-10T09:00:00Z", captured.Start.DateTime)
	assert.Equal(t, "42", captured.ExtendedProperties.Private["billId"])
	require.NotNil(t, captured.Reminders)
	assert.False(t, captured.Reminders.UseDefault)
	require.Len(t, captured.Reminders.Overrides, 1)
	assert.Equal(t, "email", captured.Reminders.Overrides[0].Method)
	assert.Equal(t, 60, captured.Reminders.Overrides[0].Minutes)
}

func TestCreateAllDayUsesExclusiveEndDate(t *testing.T) {
	var captured googleEvent
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]string{"id": "evt1"})
	}))

	_, err := p.CreateEvent(ctx, allDayEvent(t), "")
	require.NoError(t, err)

	assert.Equal(t, "2026-03-10", captured.Start.Date)
	assert.Equal(t, "2026-03-11", captured.End.Date)
	require.NotNil(t, captured.Reminders)
	assert.True(t, captured.Reminders.UseDefault)
	assert.Empty(t, captured.Reminders.Overrides)
}

func TestGetEventUndoesExclusiveEndDate(t *testing.T) {
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(googleEvent{
			ID:      "evt1",
			Summary: "Rent",
			Start:   &googleEventTime{Date: "2026-03-10"},
			End:     &googleEventTime{Date: "2026-03-11"},
			ExtendedProperties: &googleExtendedProps{
				Private: map[string]string{"billId": "7"},
			},
		})
	}))

	event, result, err := p.GetEvent(ctx, "evt1", "")
	require.NoError(t, err)
	assert.Equal(t, providers.StatusSuccess, result.Status)
	require.NotNil(t, event)

	assert.True(t, event.AllDay)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), event.Start)
	assert.Equal(t, time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC), event.End)
	assert.Equal(t, int64(7), event.BillID)
	assert.Equal(t, calendar.ProviderGoogle, event.Provider)
}

func TestAllDayRoundTripCancelsExactly(t *testing.T) {
	original := allDayEvent(t)
	wire := toGoogleEvent(original)
	wire.ID = "evt1"

	back, err := fromGoogleEvent(wire)
	require.NoError(t, err)
	assert.True(t, back.Start.Equal(original.Start))
	assert.True(t, back.End.Equal(original.End))
}

func TestRateLimitedCreate(t *testing.T) {
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate Limit Exceeded"}}`))
	}))

	result, err := p.CreateEvent(ctx, timedEvent(t), "")
	require.NoError(t, err)
	assert.Equal(t, providers.StatusRateLimited, result.Status)
	assert.Equal(t, 45, result.RetryAfter)
	assert.True(t, result.ShouldRetry())
}

func TestConnectionTimeoutStatus(t *testing.T) {
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	p.httpClient = &http.Client{Timeout: 20 * time.Millisecond}

	result := p.TestConnection(ctx)
	assert.Equal(t, providers.ConnectionTimeout, result.Status)
}

func TestDeleteEventNotFound(t *testing.T) {
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	result, err := p.DeleteEvent(ctx, "gone", "")
	require.NoError(t, err)
	assert.Equal(t, providers.StatusNotFound, result.Status)
	assert.False(t, result.IsSuccess())
}

func TestCRUDRequiresAuthentication(t *testing.T) {
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	p.authenticated = false

	_, err := p.CreateEvent(ctx, timedEvent(t), "")
	var authErr *calendar.AuthError
	require.ErrorAs(t, err, &authErr)

	_, err = p.BatchDeleteEvents(ctx, []string{"x"}, "")
	require.ErrorAs(t, err, &authErr)
}

func TestGetEventsBestEffort(t *testing.T) {
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		assert.Equal(t, "startTime", r.URL.Query().Get("orderBy"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []googleEvent{
				{
					ID:      "a",
					Summary: "Bill A",
					Start:   &googleEventTime{DateTime: "2026-03-10T09:00:00Z"},
					End:     &googleEventTime{DateTime: "2026-03-10T10:00:00Z"},
				},
				// Malformed entries are skipped, not fatal
				{ID: "b", Summary: "broken"},
			},
		})
	}))

	rng, err := calendar.NewDateRange(
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	events := p.GetEvents(ctx, rng, "")
	require.Len(t, events, 1)
	assert.Equal(t, "Bill A", events[0].Title)
}

func TestGetEventsFailureIsEmpty(t *testing.T) {
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	rng, err := calendar.NewDateRange(
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Empty(t, p.GetEvents(ctx, rng, ""))
}

func TestBatchCreateResultsInInputOrder(t *testing.T) {
	calls := 0
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":{"message":"The requested identifier already exists."}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "evt"})
	}))

	events := []*calendar.Event{timedEvent(t), timedEvent(t), timedEvent(t)}
	results, err := p.BatchCreateEvents(ctx, events, "")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, providers.StatusSuccess, results[0].Status)
	assert.Equal(t, providers.StatusConflict, results[1].Status)
	assert.Equal(t, providers.StatusSuccess, results[2].Status)
}

func TestGetCalendars(t *testing.T) {
	p, ctx := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me/calendarList", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "primary-id", "summary": "Personal", "primary": true, "accessRole": "owner"},
				{"id": "shared-id", "summary": "Household", "accessRole": "writer"},
			},
		})
	}))

	calendars, err := p.GetCalendars(ctx)
	require.NoError(t, err)
	require.Len(t, calendars, 2)
	assert.True(t, calendars[0].Primary)

	assert.Equal(t, "primary-id", p.GetDefaultCalendarID(ctx))
}
