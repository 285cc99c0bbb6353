package oauth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// Config holds everything the manager needs to drive the authorization-code
// flow for one provider: the oauth2 endpoints and client credentials, extra
// authorize-URL parameters, and the provider-specific hooks. New providers
// plug in by registering a Config; the manager itself stays provider-free.
type Config struct {
	OAuth           oauth2.Config
	ExtraAuthParams map[string]string
	Hooks           Hooks
}

// Hooks are the per-provider strategy functions the manager dispatches to.
// Any hook may be nil; the manager degrades gracefully (no user info, no
// remote revoke, validation reports false).
type Hooks struct {
	// UserInfo fetches the identity of the authorized account. The client
	// already carries the bearer token.
	UserInfo func(ctx context.Context, client *http.Client) (*UserInfo, error)

	// Revoke invalidates the token server-side. Best effort.
	Revoke func(ctx context.Context, client *http.Client, token string) error

	// Validate probes whether the token is still live.
	Validate func(ctx context.Context, client *http.Client, token string) bool
}
