package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// httpStatusError carries the remote status code so retryability can be
// decided per status class.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

// isRetryable classifies transient network and remote errors. Semantic
// errors (404/403, redirect loops) are non-retryable: the item is gone or
// blocked and another attempt will not change that.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.status {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// retryDelay is the linear backoff between immediate in-process retries,
// distinct from the outer scheduled re-publish backoff.
func retryDelay(attempt int) time.Duration {
	return baseRetryDelay * time.Duration(attempt+1)
}
