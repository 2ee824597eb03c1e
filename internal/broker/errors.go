package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// AuthError means the brokerage rejected our credentials or the account is
// not in a tradable state. It aborts the whole run before any symbol is
// processed.
type AuthError struct {
	Msg string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker auth: %s: %v", e.Msg, e.Err)
	}
	return "broker auth: " + e.Msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized ||
			apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsReplaceUnsupported reports whether err means the order cannot be replaced
// in place (held, pending trigger, or partially filled). The caller should
// fall back to cancel-then-create.
func IsReplaceUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnprocessableEntity
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not replaceable") ||
		strings.Contains(msg, "unable to replace")
}

// IsTransient reports whether err is worth retrying: rate limits, server-side
// failures, and network timeouts. Auth and validation errors are permanent.
func IsTransient(err error) bool {
	if err == nil || IsAuth(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// The market-data client surfaces plain errors for HTTP failures; fall
	// back to matching the status text.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"too many requests", "429", "timeout", "temporarily unavailable", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
