package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeTokenServer mimics a provider token endpoint. Every exchange and
// refresh returns the same access token; refresh responses omit the refresh
// token, as Google does.
func fakeTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testManager(t *testing.T, srv *httptest.Server, hooks Hooks) *Manager {
	t.Helper()
	storage, err := NewCredentialStorage(t.TempDir())
	require.NoError(t, err)

	m := NewManager(storage, "test-password")
	require.NoError(t, m.RegisterProvider("google", &Config{
		OAuth: oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://localhost:8085/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  srv.URL + "/auth",
				TokenURL: srv.URL + "/token",
			},
			Scopes: []string{"calendar"},
		},
		ExtraAuthParams: map[string]string{"access_type": "offline"},
		Hooks:           hooks,
	}))
	return m
}

func userInfoHook(email string) Hooks {
	return Hooks{
		UserInfo: func(ctx context.Context, client *http.Client) (*UserInfo, error) {
			return &UserInfo{Email: email, Name: "Test User"}, nil
		},
	}
}

func TestRegisterProviderValidation(t *testing.T) {
	storage, err := NewCredentialStorage(t.TempDir())
	require.NoError(t, err)
	m := NewManager(storage, "")

	require.Error(t, m.RegisterProvider("  ", &Config{}))
	require.Error(t, m.RegisterProvider("google", nil))
	require.NoError(t, m.RegisterProvider("Google", &Config{}))
	assert.NotNil(t, m.Config("google"))
}

func TestInitiateAuthFlow(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))

	url, state, err := m.InitiateAuthFlow("google")
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, url, "state="+state)
	assert.Contains(t, url, "access_type=offline")
	assert.Contains(t, url, "client_id=client-id")

	_, _, err = m.InitiateAuthFlow("fastmail")
	require.Error(t, err)
}

func TestHandleAuthCallback(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))
	ctx := context.Background()

	_, state, err := m.InitiateAuthFlow("google")
	require.NoError(t, err)

	result := m.HandleAuthCallback(ctx, "google", "auth-code", state)
	require.True(t, result.IsSuccess(), result.ErrorMessage)
	assert.Equal(t, "fresh-access-token", result.AccessToken)
	assert.Equal(t, "user@example.com", result.UserInfo.Email)
	assert.False(t, result.IsExpired())

	// The bundle was persisted under the resolved email
	creds, err := m.storage.Retrieve("google", "user@example.com", "test-password")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "fresh-access-token", creds.AccessToken)
}

func TestStateTokenIsSingleUse(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))
	ctx := context.Background()

	_, state, err := m.InitiateAuthFlow("google")
	require.NoError(t, err)

	first := m.HandleAuthCallback(ctx, "google", "auth-code", state)
	require.True(t, first.IsSuccess())

	replay := m.HandleAuthCallback(ctx, "google", "auth-code", state)
	assert.Equal(t, AuthFailed, replay.Status)
	assert.Contains(t, replay.ErrorMessage, "state")
}

func TestStateTokenExpires(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))

	_, state, err := m.InitiateAuthFlow("google")
	require.NoError(t, err)

	// Age the token past its TTL
	m.mu.Lock()
	m.states[state] = authState{provider: "google", createdAt: time.Now().Add(-stateTTL - time.Minute)}
	m.mu.Unlock()

	result := m.HandleAuthCallback(context.Background(), "google", "auth-code", state)
	assert.Equal(t, AuthFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "state")
}

func TestExpiredStatesAreSwept(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))

	_, stale, err := m.InitiateAuthFlow("google")
	require.NoError(t, err)
	m.mu.Lock()
	m.states[stale] = authState{provider: "google", createdAt: time.Now().Add(-stateTTL - time.Minute)}
	m.mu.Unlock()

	// Issuing a new state purges expired ones
	_, _, err = m.InitiateAuthFlow("google")
	require.NoError(t, err)

	m.mu.Lock()
	_, present := m.states[stale]
	m.mu.Unlock()
	assert.False(t, present)
}

func TestHandleAuthCallbackUnknownState(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))

	result := m.HandleAuthCallback(context.Background(), "google", "auth-code", "forged-state")
	assert.Equal(t, AuthFailed, result.Status)
}

func TestRefreshTokenPreservesRefreshToken(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))

	m.storage.Store("google", "user@example.com", &Credentials{
		AccessToken:  "stale-access-token",
		RefreshToken: "original-refresh-token",
		ExpiresAt:    time.Now().Add(-time.Minute),
		UserInfo:     &UserInfo{Email: "user@example.com"},
	}, "test-password")

	result := m.RefreshToken(context.Background(), "google", "user@example.com")
	require.True(t, result.IsSuccess(), result.ErrorMessage)
	assert.Equal(t, "fresh-access-token", result.AccessToken)
	assert.Equal(t, "original-refresh-token", result.RefreshToken)

	creds, err := m.storage.Retrieve("google", "user@example.com", "test-password")
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "fresh-access-token", creds.AccessToken)
	assert.Equal(t, "original-refresh-token", creds.RefreshToken)
}

func TestRefreshTokenWithoutCredentials(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))

	result := m.RefreshToken(context.Background(), "google", "nobody@example.com")
	assert.Equal(t, AuthFailed, result.Status)

	m.storage.Store("google", "norefresh@example.com", &Credentials{
		AccessToken: "stale-access-token",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}, "test-password")
	result = m.RefreshToken(context.Background(), "google", "norefresh@example.com")
	assert.Equal(t, AuthFailed, result.Status)
}

func TestGetValidToken(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))
	ctx := context.Background()

	assert.Empty(t, m.GetValidToken(ctx, "google", "nobody@example.com"))

	m.storage.Store("google", "live@example.com", &Credentials{
		AccessToken: "live-access-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, "test-password")
	assert.Equal(t, "live-access-token", m.GetValidToken(ctx, "google", "live@example.com"))

	m.storage.Store("google", "expired@example.com", &Credentials{
		AccessToken:  "stale-access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}, "test-password")
	assert.Equal(t, "fresh-access-token", m.GetValidToken(ctx, "google", "expired@example.com"))
}

func TestRevokeAccess(t *testing.T) {
	srv := fakeTokenServer(t)
	revoked := ""
	hooks := userInfoHook("user@example.com")
	hooks.Revoke = func(ctx context.Context, client *http.Client, token string) error {
		revoked = token
		return nil
	}
	m := testManager(t, srv, hooks)

	m.storage.Store("google", "user@example.com", &Credentials{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, "test-password")

	assert.True(t, m.RevokeAccess(context.Background(), "google", "user@example.com"))
	assert.Equal(t, "refresh-token", revoked)

	creds, err := m.storage.Retrieve("google", "user@example.com", "test-password")
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestValidateTokenWithoutHook(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))

	m.storage.Store("google", "user@example.com", &Credentials{
		AccessToken: "access-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, "test-password")

	assert.False(t, m.ValidateToken(context.Background(), "google", "user@example.com"))
}

func TestListConnectedAccounts(t *testing.T) {
	srv := fakeTokenServer(t)
	m := testManager(t, srv, userInfoHook("user@example.com"))

	m.storage.Store("google", "a@example.com", &Credentials{
		AccessToken: "token-a",
		ExpiresAt:   time.Now().Add(time.Hour),
		UserInfo:    &UserInfo{Email: "a@example.com", Name: "A"},
	}, "test-password")
	m.storage.Store("google", "b@example.com", &Credentials{
		AccessToken: "token-b",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, "test-password")

	accounts := m.ListConnectedAccounts()
	require.Len(t, accounts["google"], 2)

	emails := []string{accounts["google"][0].Email, accounts["google"][1].Email}
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, emails)
}
