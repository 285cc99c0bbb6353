package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rlehmann/billsync/pkg/calendar"
)

// defaultRetryAfter is assumed when a 429 carries no Retry-After header.
const defaultRetryAfter = 60

// NewHTTPClient returns the HTTP client providers use for API calls.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// IsTimeout reports whether err is a request timeout, either from the HTTP
// client deadline or a context deadline.
func IsTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ErrNotAuthenticated is the error CRUD methods return when called before
// authentication. This is caller misuse, not an operational failure.
func ErrNotAuthenticated(provider string) error {
	err := calendar.NewAuthError("not authenticated")
	err.Provider = provider
	return err
}

// FailedResult wraps a plain failure message.
func FailedResult(message string) *EventResult {
	return &EventResult{Status: StatusFailed, ErrorMessage: message}
}

// RateLimitedResult reports throttling with the backoff the server asked for.
func RateLimitedResult(retryAfter int) *EventResult {
	return &EventResult{
		Status:       StatusRateLimited,
		ErrorMessage: fmt.Sprintf("rate limited, retry after %d seconds", retryAfter),
		RetryAfter:   retryAfter,
	}
}

// ResultFromError converts a classified API error into the result the CRUD
// contract promises for it.
func ResultFromError(err error) *EventResult {
	var rateErr *calendar.RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := rateErr.RetryAfter
		if retryAfter <= 0 {
			retryAfter = defaultRetryAfter
		}
		return RateLimitedResult(retryAfter)
	}

	var conflictErr *calendar.ConflictError
	if errors.As(err, &conflictErr) {
		return &EventResult{
			Status:       StatusConflict,
			ErrorMessage: conflictErr.Error(),
			ConflictData: conflictErr.Details,
		}
	}

	return FailedResult(err.Error())
}

// ClassifyResponse maps a non-2xx API response onto the shared error
// taxonomy. 404 is not classified here: absence is a NOT_FOUND result, not
// an error, and each call site decides that.
func ClassifyResponse(provider string, statusCode int, header http.Header, body []byte) error {
	message := extractAPIError(body)
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		if v := header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				retryAfter = n
			}
		}
		err := calendar.NewRateLimitError(message, retryAfter)
		err.Provider = provider
		return err

	case statusCode == http.StatusConflict:
		err := calendar.NewConflictError(message, nil, nil)
		err.Provider = provider
		return err

	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		err := calendar.NewAuthError(message)
		err.Provider = provider
		return err

	default:
		err := calendar.NewSyncError(message)
		err.Provider = provider
		return err
	}
}

// extractAPIError pulls the human-readable message out of a vendor error
// body. Google and Microsoft both nest it under "error".
func extractAPIError(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}
