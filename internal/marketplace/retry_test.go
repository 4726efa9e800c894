package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"status 429", &httpStatusError{status: 429}, true},
		{"status 503", &httpStatusError{status: 503}, true},
		{"status 404", &httpStatusError{status: 404}, false},
		{"status 403", &httpStatusError{status: 403}, false},
		{"wrapped status 502", fmt.Errorf("fetch: %w", &httpStatusError{status: 502}), true},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, isRetryable(tc.err))
		})
	}
}

func TestRetryDelayGrowsLinearly(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2*time.Second, retryDelay(0))
	require.Equal(t, 4*time.Second, retryDelay(1))
	require.Equal(t, 6*time.Second, retryDelay(2))
}
