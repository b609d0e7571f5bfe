package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// Default retry values for transient feed failures.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultBackoffMult = 2.0
)

// Retrying decorates a Source so that transient failures (dial errors,
// dropped connections) reopen the stream with bounded exponential backoff.
// Once more than maxRetries consecutive attempts fail, Next returns an error
// wrapping domain.ErrDependencyExhausted. A delivered tick resets the count.
type Retrying struct {
	src         Source
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	logger      *slog.Logger
}

// RetryOption configures Retrying.
type RetryOption func(*Retrying)

// WithMaxRetries sets the number of retries after the first failure.
func WithMaxRetries(n int) RetryOption {
	return func(r *Retrying) {
		r.maxRetries = n
	}
}

// WithRetryDelay sets the initial backoff delay.
func WithRetryDelay(d time.Duration) RetryOption {
	return func(r *Retrying) {
		r.retryDelay = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(r *Retrying) {
		r.maxDelay = d
	}
}

// NewRetrying wraps src.
func NewRetrying(src Source, logger *slog.Logger, opts ...RetryOption) *Retrying {
	r := &Retrying{
		src:         src,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      logger.With(slog.String("component", "feed_retry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open returns a stream that connects lazily on the first Next.
func (r *Retrying) Open(_ context.Context, token string) (Stream, error) {
	return &retryingStream{r: r, token: token, delay: r.retryDelay}, nil
}

type retryingStream struct {
	r        *Retrying
	token    string
	inner    Stream
	failures int
	delay    time.Duration
	closed   bool
}

func (s *retryingStream) Next(ctx context.Context) (domain.Tick, error) {
	for {
		if s.closed {
			return domain.Tick{}, ErrStreamEnded
		}
		if s.inner == nil {
			st, err := s.r.src.Open(ctx, s.token)
			if err != nil {
				if ctx.Err() != nil {
					return domain.Tick{}, ctx.Err()
				}
				if IsPermanent(err) {
					return domain.Tick{}, err
				}
				if werr := s.backoff(ctx, err); werr != nil {
					return domain.Tick{}, werr
				}
				continue
			}
			s.inner = st
		}

		tick, err := s.inner.Next(ctx)
		if err == nil {
			s.failures = 0
			s.delay = s.r.retryDelay
			return tick, nil
		}
		if IsPermanent(err) {
			return domain.Tick{}, err
		}
		_ = s.inner.Close()
		s.inner = nil
		if werr := s.backoff(ctx, err); werr != nil {
			return domain.Tick{}, werr
		}
	}
}

// backoff records a failure and sleeps, or reports exhaustion.
func (s *retryingStream) backoff(ctx context.Context, cause error) error {
	s.failures++
	if s.failures > s.r.maxRetries {
		return fmt.Errorf("feed: %s: %d attempts failed: %w (last: %v)",
			s.token, s.failures, domain.ErrDependencyExhausted, cause)
	}

	s.r.logger.WarnContext(ctx, "feed failure, retrying",
		slog.String("token", s.token),
		slog.Int("attempt", s.failures),
		slog.Duration("delay", s.delay),
		slog.String("error", cause.Error()),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
	}

	s.delay = time.Duration(float64(s.delay) * s.r.backoffMult)
	if s.delay > s.r.maxDelay {
		s.delay = s.r.maxDelay
	}
	return nil
}

func (s *retryingStream) Close() error {
	s.closed = true
	if s.inner != nil {
		err := s.inner.Close()
		s.inner = nil
		return err
	}
	return nil
}
