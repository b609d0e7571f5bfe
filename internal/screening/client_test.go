package screening

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

func newTestClient(url string, opts ...Option) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithRetryDelay(time.Millisecond), WithMaxDelay(5 * time.Millisecond)}, opts...)
	return NewClient(url, logger, opts...)
}

func TestScreen_Pass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TOKEN1", r.URL.Query().Get("coin"))
		assert.Equal(t, "300", r.URL.Query().Get("max_results"))
		_, _ = w.Write([]byte(`{"positive_pct": 72.5, "total_mentions": 40}`))
	}))
	defer srv.Close()

	v, err := newTestClient(srv.URL, WithMinScore(60)).Screen(context.Background(), "TOKEN1")
	require.NoError(t, err)
	assert.True(t, v.Pass)
	assert.Equal(t, 72.5, v.Score)
	assert.Equal(t, 40, v.Mentions)
}

func TestScreen_ZeroMentionsFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"positive_pct": 90, "total_mentions": 0}`))
	}))
	defer srv.Close()

	v, err := newTestClient(srv.URL).Screen(context.Background(), "T")
	require.NoError(t, err)
	assert.False(t, v.Pass)
	assert.Equal(t, ReasonNoMentions, v.Reason)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScreen_LowScoreAndAmbiguous(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"low score", `{"positive_pct": 10, "total_mentions": 5}`, ReasonLowScore},
		{"missing score", `{"total_mentions": 5}`, ReasonAmbiguous},
		{"garbage", `not json`, ReasonAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			v, err := newTestClient(srv.URL, WithMinScore(50)).Screen(context.Background(), "T")
			require.NoError(t, err)
			assert.False(t, v.Pass)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestScreen_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"positive_pct": 80, "total_mentions": 3}`))
	}))
	defer srv.Close()

	v, err := newTestClient(srv.URL).Screen(context.Background(), "T")
	require.NoError(t, err)
	assert.True(t, v.Pass)
	assert.Equal(t, int32(3), calls.Load())
}

func TestScreen_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		calls     int32
		exhausted bool
	}{
		{"bad request fails at once", http.StatusBadRequest, 1, false},
		{"not found fails at once", http.StatusNotFound, 1, false},
		{"too many requests retries", http.StatusTooManyRequests, DefaultMaxAttempts, true},
		{"bad gateway retries", http.StatusBadGateway, DefaultMaxAttempts, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			v, err := newTestClient(srv.URL).Screen(context.Background(), "T")
			assert.Equal(t, tt.calls, calls.Load())
			if tt.exhausted {
				assert.ErrorIs(t, err, domain.ErrDependencyExhausted)
				return
			}
			require.NoError(t, err)
			assert.False(t, v.Pass)
			assert.Equal(t, ReasonAmbiguous, v.Reason)
		})
	}
}

func TestScreen_ExhaustedAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Screen(context.Background(), "T")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDependencyExhausted))
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
}

type denyLimiter struct{ calls int }

func (d *denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	d.calls++
	return false, nil
}

func (d *denyLimiter) Wait(context.Context, string) error { return nil }

func TestScreen_RateLimitedCountsAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should have been throttled")
	}))
	defer srv.Close()

	lim := &denyLimiter{}
	_, err := newTestClient(srv.URL, WithRateLimiter(lim, 1, time.Second)).Screen(context.Background(), "T")
	assert.True(t, errors.Is(err, domain.ErrDependencyExhausted))
	assert.Equal(t, DefaultMaxAttempts, lim.calls)
}

func TestScreen_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	c := newTestClient(srv.URL, WithRetryDelay(time.Hour), WithMaxDelay(time.Hour))
	_, err := c.Screen(ctx, "T")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
