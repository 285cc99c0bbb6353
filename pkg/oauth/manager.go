package oauth

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/rlehmann/billsync/pkg/calendar"
)

// stateTTL is how long an issued state token remains redeemable.
const stateTTL = 15 * time.Minute

// defaultTokenLifetime is assumed when the token endpoint omits expires_in.
const defaultTokenLifetime = time.Hour

// Manager drives the authorization-code flow for all registered providers
// and owns the encrypted credential storage. It is safe for concurrent use.
type Manager struct {
	storage  *CredentialStorage
	password string

	mu      sync.Mutex
	configs map[string]*Config
	states  map[string]authState

	refresh    singleflight.Group
	httpClient *http.Client
}

type authState struct {
	provider  string
	createdAt time.Time
}

// NewManager creates a manager backed by the given credential storage. An
// empty password selects machine-bound key derivation.
func NewManager(storage *CredentialStorage, password string) *Manager {
	return &Manager{
		storage:    storage,
		password:   password,
		configs:    map[string]*Config{},
		states:     map[string]authState{},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RegisterProvider installs the OAuth configuration for a provider. Provider
// IDs are case-insensitive. Registering twice replaces the configuration.
func (m *Manager) RegisterProvider(provider string, cfg *Config) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return calendar.NewValidationError("provider ID cannot be empty", "provider")
	}
	if cfg == nil {
		return calendar.NewValidationError("provider config cannot be nil", "config")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[provider] = cfg
	return nil
}

// Config returns the registered configuration for a provider, or nil.
func (m *Manager) Config(provider string) *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[strings.ToLower(provider)]
}

// InitiateAuthFlow builds the authorization URL for a provider and returns
// it with the single-use state token embedded in it.
func (m *Manager) InitiateAuthFlow(provider string) (authURL, state string, err error) {
	cfg := m.Config(provider)
	if cfg == nil {
		return "", "", calendar.NewAuthError(fmt.Sprintf("provider %q is not registered", provider))
	}

	state = uuid.NewString()

	m.mu.Lock()
	m.sweepStatesLocked()
	m.states[state] = authState{provider: strings.ToLower(provider), createdAt: time.Now()}
	m.mu.Unlock()

	opts := make([]oauth2.AuthCodeOption, 0, len(cfg.ExtraAuthParams))
	for k, v := range cfg.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return cfg.OAuth.AuthCodeURL(state, opts...), state, nil
}

// sweepStatesLocked drops expired state tokens. Caller holds mu.
func (m *Manager) sweepStatesLocked() {
	cutoff := time.Now().Add(-stateTTL)
	for state, st := range m.states {
		if st.createdAt.Before(cutoff) {
			delete(m.states, state)
		}
	}
}

// popState atomically consumes a state token, so a replayed callback cannot
// redeem it twice. Returns the provider it was issued for.
func (m *Manager) popState(state string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[state]
	if !ok {
		return "", false
	}
	delete(m.states, state)
	if time.Since(st.createdAt) > stateTTL {
		return "", false
	}
	return st.provider, true
}

// HandleAuthCallback exchanges the authorization code for tokens, resolves
// the account identity, and persists the encrypted bundle. Every failure
// mode comes back as a failed AuthResult, not an error.
func (m *Manager) HandleAuthCallback(ctx context.Context, provider, code, state string) *AuthResult {
	stateProvider, ok := m.popState(state)
	if !ok {
		return failedResult("invalid or expired state token")
	}
	if stateProvider != strings.ToLower(provider) {
		return failedResult("state token was issued for a different provider")
	}

	cfg := m.Config(provider)
	if cfg == nil {
		return failedResult(fmt.Sprintf("provider %q is not registered", provider))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := cfg.OAuth.Exchange(ctx, code)
	if err != nil {
		return failedResult(fmt.Sprintf("token exchange failed: %v", err))
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultTokenLifetime)
	}

	result := &AuthResult{
		Status:       AuthSuccess,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
	}

	if cfg.Hooks.UserInfo != nil {
		info, err := cfg.Hooks.UserInfo(ctx, cfg.OAuth.Client(ctx, token))
		if err != nil {
			log.Printf("oauth: failed to fetch user info from %s: %v", provider, err)
		} else {
			result.UserInfo = info
		}
	}

	// Without an account identity there is no storage key; the tokens are
	// still returned to the caller for the current session.
	if result.UserInfo != nil && result.UserInfo.Email != "" {
		m.storage.Store(strings.ToLower(provider), result.UserInfo.Email, &Credentials{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    expiresAt,
			UserInfo:     result.UserInfo,
		}, m.password)
	}

	return result
}

// RefreshToken exchanges the stored refresh token for a fresh access token
// and persists the updated bundle. Concurrent refreshes for the same account
// are coalesced into one round trip.
func (m *Manager) RefreshToken(ctx context.Context, provider, user string) *AuthResult {
	key := strings.ToLower(provider) + "\x00" + user
	v, _, _ := m.refresh.Do(key, func() (any, error) {
		return m.refreshLocked(ctx, provider, user), nil
	})
	return v.(*AuthResult)
}

func (m *Manager) refreshLocked(ctx context.Context, provider, user string) *AuthResult {
	cfg := m.Config(provider)
	if cfg == nil {
		return failedResult(fmt.Sprintf("provider %q is not registered", provider))
	}

	creds, err := m.storage.Retrieve(strings.ToLower(provider), user, m.password)
	if err != nil {
		return failedResult(err.Error())
	}
	if creds == nil {
		return failedResult("no stored credentials for " + user)
	}
	if creds.RefreshToken == "" {
		return failedResult("stored credentials have no refresh token")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	src := cfg.OAuth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: creds.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	token, err := src.Token()
	if err != nil {
		return failedResult(fmt.Sprintf("token refresh failed: %v", err))
	}

	// Providers may omit the refresh token from the refresh response; the
	// original one stays valid and must be kept.
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = creds.RefreshToken
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultTokenLifetime)
	}

	creds.AccessToken = token.AccessToken
	creds.RefreshToken = refreshToken
	creds.ExpiresAt = expiresAt
	m.storage.Store(strings.ToLower(provider), user, creds, m.password)

	return &AuthResult{
		Status:       AuthSuccess,
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		UserInfo:     creds.UserInfo,
	}
}

// GetValidToken returns a live access token for the account, refreshing
// transparently when the stored one has expired. An empty string means the
// account is not authenticated.
func (m *Manager) GetValidToken(ctx context.Context, provider, user string) string {
	creds, err := m.storage.Retrieve(strings.ToLower(provider), user, m.password)
	if err != nil || creds == nil {
		return ""
	}
	if !creds.Expired() {
		return creds.AccessToken
	}

	result := m.RefreshToken(ctx, provider, user)
	if !result.IsSuccess() {
		return ""
	}
	return result.AccessToken
}

// RevokeAccess revokes the token with the provider (best effort) and always
// deletes the local bundle.
func (m *Manager) RevokeAccess(ctx context.Context, provider, user string) bool {
	provider = strings.ToLower(provider)
	cfg := m.Config(provider)

	if cfg != nil && cfg.Hooks.Revoke != nil {
		if creds, err := m.storage.Retrieve(provider, user, m.password); err == nil && creds != nil {
			token := creds.AccessToken
			if creds.RefreshToken != "" {
				token = creds.RefreshToken
			}
			if err := cfg.Hooks.Revoke(ctx, m.httpClient, token); err != nil {
				log.Printf("oauth: remote revoke failed for %s/%s: %v", provider, user, err)
			}
		}
	}

	return m.storage.Delete(provider, user)
}

// ValidateToken probes whether the stored access token is still accepted by
// the provider. Providers without a validation hook report false.
func (m *Manager) ValidateToken(ctx context.Context, provider, user string) bool {
	cfg := m.Config(provider)
	if cfg == nil || cfg.Hooks.Validate == nil {
		return false
	}

	token := m.GetValidToken(ctx, provider, user)
	if token == "" {
		return false
	}
	return cfg.Hooks.Validate(ctx, m.httpClient, token)
}

// ListConnectedAccounts returns the stored account identities per provider.
func (m *Manager) ListConnectedAccounts() map[string][]*UserInfo {
	accounts := map[string][]*UserInfo{}
	for _, provider := range m.storage.ListProviders() {
		for _, user := range m.storage.ListUsers(provider) {
			creds, err := m.storage.Retrieve(provider, user, m.password)
			if err != nil || creds == nil {
				continue
			}
			info := creds.UserInfo
			if info == nil {
				info = &UserInfo{Email: user}
			}
			accounts[provider] = append(accounts[provider], info)
		}
	}
	return accounts
}
