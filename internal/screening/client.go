// Package screening asks an external sentiment service whether a token is
// worth trading before a session commits capital to it.
package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Second
	DefaultMaxDelay    = 60 * time.Second
	DefaultBackoffMult = 2.0
	DefaultMaxResults  = 300
)

// Verdict reasons.
const (
	ReasonNoMentions = "no mentions"
	ReasonLowScore   = "score below threshold"
	ReasonAmbiguous  = "ambiguous response"
)

// response is the service payload.
type response struct {
	PositivePct   *float64 `json:"positive_pct"`
	TotalMentions int      `json:"total_mentions"`
}

// Client calls the screening endpoint with bounded exponential backoff.
type Client struct {
	endpoint    string
	client      *http.Client
	maxResults  int
	minScore    float64
	maxAttempts int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	limiter     domain.RateLimiter
	rateLimit   int
	rateWindow  time.Duration
	logger      *slog.Logger
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithMinScore sets the lowest positive percentage that passes.
func WithMinScore(score float64) Option {
	return func(c *Client) {
		c.minScore = score
	}
}

// WithMaxAttempts sets the total number of attempts per token.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the delay before the second attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithRateLimiter throttles outgoing calls to limit per window, shared by
// every process using the same limiter backend.
func WithRateLimiter(l domain.RateLimiter, limit int, window time.Duration) Option {
	return func(c *Client) {
		c.limiter = l
		c.rateLimit = limit
		c.rateWindow = window
	}
}

// NewClient creates a screening client for endpoint.
func NewClient(endpoint string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxResults:  DefaultMaxResults,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      logger.With(slog.String("component", "screening")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Screen returns the verdict for token. A response with zero mentions fails
// immediately without retry; an unparseable response fails as ambiguous.
// Transport errors and non-2xx statuses are retried, and once every attempt
// failed the error wraps domain.ErrDependencyExhausted.
func (c *Client) Screen(ctx context.Context, token string) (domain.Verdict, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			c.logger.WarnContext(ctx, "screening failed, retrying",
				slog.String("token", token),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return domain.Verdict{}, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		v, retry, err := c.attempt(ctx, token)
		if err == nil {
			c.logger.InfoContext(ctx, "screening verdict",
				slog.String("token", token),
				slog.Bool("pass", v.Pass),
				slog.Float64("score", v.Score),
				slog.Int("mentions", v.Mentions),
			)
			return v, nil
		}
		if !retry || ctx.Err() != nil {
			return domain.Verdict{}, err
		}
		lastErr = err
	}

	return domain.Verdict{}, fmt.Errorf("screening: %s: %d attempts: %w (last: %v)",
		token, c.maxAttempts, domain.ErrDependencyExhausted, lastErr)
}

// attempt performs one request. retry reports whether a failure is transient.
func (c *Client) attempt(ctx context.Context, token string) (v domain.Verdict, retry bool, err error) {
	if c.limiter != nil && c.rateLimit > 0 {
		ok, err := c.limiter.Allow(ctx, "screening", c.rateLimit, c.rateWindow)
		if err != nil {
			return domain.Verdict{}, true, fmt.Errorf("screening: rate limiter: %w", err)
		}
		if !ok {
			return domain.Verdict{}, true, fmt.Errorf("screening: %w", domain.ErrRateLimited)
		}
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return domain.Verdict{}, false, fmt.Errorf("screening: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("coin", token)
	q.Set("max_results", strconv.Itoa(c.maxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Verdict{}, false, fmt.Errorf("screening: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Verdict{}, true, fmt.Errorf("screening: send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Verdict{}, true, fmt.Errorf("screening: unexpected status %d: %s", resp.StatusCode, string(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.WarnContext(ctx, "screening request refused",
			slog.String("token", token),
			slog.Int("status", resp.StatusCode),
		)
		return domain.Verdict{Reason: ReasonAmbiguous}, false, nil
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return domain.Verdict{Reason: ReasonAmbiguous}, false, nil
	}
	if r.TotalMentions <= 0 {
		return domain.Verdict{Reason: ReasonNoMentions}, false, nil
	}
	if r.PositivePct == nil {
		return domain.Verdict{Mentions: r.TotalMentions, Reason: ReasonAmbiguous}, false, nil
	}

	v = domain.Verdict{Score: *r.PositivePct, Mentions: r.TotalMentions}
	if v.Score < c.minScore {
		v.Reason = ReasonLowScore
		return v, false, nil
	}
	v.Pass = true
	return v, false, nil
}
