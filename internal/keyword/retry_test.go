package keyword

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, 100*time.Millisecond, time.Second)

	require.False(t, p.ShouldRetry(nil, 0))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))

	require.True(t, p.ShouldRetry(NewFetchError(FetchTransient, errors.New("timeout")), 1))
	require.False(t, p.ShouldRetry(NewFetchError(FetchBlocked, errors.New("429")), 0))
	require.False(t, p.ShouldRetry(NewFetchError(FetchInvalidTerm, errors.New("empty")), 0))

	// Unclassified failures default to retryable.
	require.True(t, p.ShouldRetry(errors.New("boom"), 1))
}

func TestRetryPolicy_BackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, time.Second)
	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
}

func TestRetryPolicy_DefaultsApplied(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(0, 0, 0)
	require.Equal(t, 3, p.MaxAttempts())
	require.True(t, p.ShouldRetry(errors.New("x"), 2))
	require.False(t, p.ShouldRetry(errors.New("x"), 3))
}

func TestFetchKind(t *testing.T) {
	t.Parallel()

	wrapped := NewFetchError(FetchBlocked, errors.New("captcha"))
	require.Equal(t, FetchBlocked, FetchKind(wrapped))
	require.Equal(t, FetchTransient, FetchKind(errors.New("plain")))
}
