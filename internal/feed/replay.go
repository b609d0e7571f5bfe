package feed

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// Replay serves fixed price paths, one per token. Tokens without a path get
// an immediately ended stream. It is used for scripted demos and tests.
type Replay struct {
	mu    sync.RWMutex
	paths map[string][]float64
	start time.Time
	step  time.Duration
}

// NewReplay creates a Replay source. Tick timestamps start at start and
// advance by step.
func NewReplay(paths map[string][]float64, start time.Time, step time.Duration) *Replay {
	if step <= 0 {
		step = time.Second
	}
	cp := make(map[string][]float64, len(paths))
	for k, v := range paths {
		cp[k] = append([]float64(nil), v...)
	}
	return &Replay{paths: cp, start: start, step: step}
}

// Set replaces the path for token.
func (r *Replay) Set(token string, prices []float64) {
	r.mu.Lock()
	r.paths[token] = append([]float64(nil), prices...)
	r.mu.Unlock()
}

// Open returns a stream over the token's path.
func (r *Replay) Open(_ context.Context, token string) (Stream, error) {
	r.mu.RLock()
	prices := r.paths[token]
	r.mu.RUnlock()
	return &replayStream{token: token, prices: prices, start: r.start, step: r.step}, nil
}

type replayStream struct {
	token  string
	prices []float64
	start  time.Time
	step   time.Duration
	i      int
}

func (s *replayStream) Next(ctx context.Context) (domain.Tick, error) {
	if err := ctx.Err(); err != nil {
		return domain.Tick{}, err
	}
	if s.i >= len(s.prices) {
		return domain.Tick{}, ErrStreamEnded
	}
	t := domain.Tick{
		Token:     s.token,
		Timestamp: s.start.Add(time.Duration(s.i) * s.step),
		Price:     s.prices[s.i],
	}
	s.i++
	return t, nil
}

func (s *replayStream) Close() error {
	s.i = len(s.prices)
	return nil
}
