package feed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// SyntheticConfig parameterises the geometric Brownian motion generator.
type SyntheticConfig struct {
	InitialPrice float64
	Drift        float64 // per unit of Dt
	Volatility   float64 // per sqrt unit of Dt
	Dt           float64
	Steps        int           // ticks per stream; 0 means unbounded
	Seed         uint64        // combined with the token so streams differ
	Interval     time.Duration // wall-clock pacing between ticks; 0 = none
}

// DefaultSyntheticConfig starts at 0.01 with 0.1% drift and 2% volatility
// per step, for 1000 steps.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		InitialPrice: 0.01,
		Drift:        0.001,
		Volatility:   0.02,
		Dt:           1,
		Steps:        1000,
		Seed:         1,
	}
}

// Synthetic generates deterministic GBM price paths per token.
type Synthetic struct {
	cfg   SyntheticConfig
	clock func() time.Time
}

// NewSynthetic creates a Synthetic source.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Dt <= 0 {
		cfg.Dt = 1
	}
	return &Synthetic{cfg: cfg, clock: time.Now}
}

// Open starts a new path for token. The same seed and token always produce
// the same prices.
func (s *Synthetic) Open(_ context.Context, token string) (Stream, error) {
	if s.cfg.InitialPrice <= 0 {
		return nil, fmt.Errorf("feed: synthetic %s: %w", token, domain.ErrInvalidPrice)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))

	step := s.cfg.Interval
	if step <= 0 {
		step = time.Second
	}
	return &syntheticStream{
		cfg:   s.cfg,
		token: token,
		rng:   rand.New(rand.NewPCG(s.cfg.Seed, h.Sum64())),
		price: s.cfg.InitialPrice,
		start: s.clock().UTC(),
		step:  step,
	}, nil
}

type syntheticStream struct {
	cfg    SyntheticConfig
	token  string
	rng    *rand.Rand
	price  float64
	start  time.Time
	step   time.Duration
	n      int
	closed bool
}

func (s *syntheticStream) Next(ctx context.Context) (domain.Tick, error) {
	if s.closed || (s.cfg.Steps > 0 && s.n >= s.cfg.Steps) {
		return domain.Tick{}, ErrStreamEnded
	}
	if s.cfg.Interval > 0 && s.n > 0 {
		t := time.NewTimer(s.cfg.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.Tick{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return domain.Tick{}, err
	}

	if s.n > 0 {
		dt := s.cfg.Dt
		sigma := s.cfg.Volatility
		z := s.rng.NormFloat64()
		s.price *= math.Exp((s.cfg.Drift-0.5*sigma*sigma)*dt + sigma*math.Sqrt(dt)*z)
	}

	tick := domain.Tick{
		Token:     s.token,
		Timestamp: s.start.Add(time.Duration(s.n) * s.step),
		Price:     s.price,
		Volume:    1000 * (1 + s.rng.Float64()),
	}
	s.n++
	return tick, nil
}

func (s *syntheticStream) Close() error {
	s.closed = true
	return nil
}
