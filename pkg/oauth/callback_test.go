package oauth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackServerDeliversCode(t *testing.T) {
	server, err := NewCallbackServer(0)
	require.NoError(t, err)
	server.Start()
	defer server.Stop()

	resp, err := http.Get(server.RedirectURL() + "?code=auth-code&state=state-token")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := server.WaitForCallback(ctx)
	require.NoError(t, err)
	assert.Equal(t, "auth-code", result.Code)
	assert.Equal(t, "state-token", result.State)
}

func TestCallbackServerShedsDuplicateRedirects(t *testing.T) {
	server, err := NewCallbackServer(0)
	require.NoError(t, err)
	server.Start()
	defer server.Stop()

	// A stale browser tab can replay the redirect. Both requests must
	// complete; only the first code is delivered.
	for _, code := range []string{"first-code", "second-code"} {
		resp, err := http.Get(server.RedirectURL() + "?code=" + code + "&state=state-token")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := server.WaitForCallback(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first-code", result.Code)
}

func TestCallbackServerReportsDenial(t *testing.T) {
	server, err := NewCallbackServer(0)
	require.NoError(t, err)
	server.Start()
	defer server.Stop()

	resp, err := http.Get(server.RedirectURL() + "?error=access_denied")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = server.WaitForCallback(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
}
