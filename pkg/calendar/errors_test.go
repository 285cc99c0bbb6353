package calendar

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRendering(t *testing.T) {
	err := NewAuthError("token expired")
	assert.Equal(t, "authentication error: token expired", err.Error())

	err.Provider = "google"
	assert.Equal(t, "[google] authentication error: token expired", err.Error())

	verr := NewValidationError("title is required", "title")
	assert.Equal(t, "validation error [title]: title is required", verr.Error())
	assert.Equal(t, "title", verr.Field)

	rerr := NewRateLimitError("too many requests", 45)
	assert.Equal(t, "rate limit error: too many requests (retry after 45 seconds)", rerr.Error())

	cerr := NewConflictError("remote changed", map[string]any{"v": 1}, map[string]any{"v": 2})
	assert.Equal(t, map[string]any{"v": 1}, cerr.Details["local_event"])
	assert.Equal(t, map[string]any{"v": 2}, cerr.Details["remote_event"])
}

func TestErrorsAsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("sync failed: %w", NewRateLimitError("throttled", 10))

	var rateErr *RateLimitError
	require.True(t, errors.As(wrapped, &rateErr))
	assert.Equal(t, 10, rateErr.RetryAfter)

	// A refinement is not mistaken for a sibling
	var authErr *AuthError
	assert.False(t, errors.As(wrapped, &authErr))
}
