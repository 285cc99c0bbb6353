package oauth

import (
	"time"
)

// AuthStatus classifies the outcome of an authentication operation.
type AuthStatus string

const (
	AuthSuccess AuthStatus = "success"
	AuthFailed  AuthStatus = "failed"
	AuthExpired AuthStatus = "expired"
	AuthInvalid AuthStatus = "invalid"
	AuthPending AuthStatus = "pending"
)

// UserInfo identifies the account a credential bundle belongs to.
type UserInfo struct {
	ID      string `json:"id,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// AuthResult is the outcome of an auth flow, token refresh or validation.
// Expected failures are reported through Status, never as an error.
type AuthResult struct {
	Status       AuthStatus
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	ErrorMessage string
	UserInfo     *UserInfo
}

// IsSuccess reports whether the operation succeeded.
func (r *AuthResult) IsSuccess() bool {
	return r.Status == AuthSuccess
}

// IsExpired reports whether the token has already expired.
func (r *AuthResult) IsExpired() bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Before(r.ExpiresAt)
}

func failedResult(message string) *AuthResult {
	return &AuthResult{Status: AuthFailed, ErrorMessage: message}
}

// Credentials is the token bundle persisted by CredentialStorage. The OAuth
// manager never writes tokens anywhere else.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserInfo     *UserInfo `json:"user_info,omitempty"`
}

// Expired reports whether the access token needs a refresh.
func (c *Credentials) Expired() bool {
	return !time.Now().Before(c.ExpiresAt)
}
