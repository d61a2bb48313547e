package powerplexy

import (
	"fmt"
	"time"
)

// RateLimitError reports a 429 from the API. RetryAfter is zero when the
// server did not send the header.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("powerplexy: rate limited, retry after %s", e.RetryAfter)
	}
	return "powerplexy: rate limited"
}

// RetryAfterDelay exposes the server-stated delay to retry helpers.
func (e *RateLimitError) RetryAfterDelay() time.Duration {
	return e.RetryAfter
}

// ResponseError reports any non-200, non-429 status.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("powerplexy: unexpected status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Retryable reports whether the failure is a server-side one worth retrying.
func (e *ResponseError) Retryable() bool {
	return e.StatusCode >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
