package feed

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// Cached decorates a Source so every delivered tick is also written to a
// PriceCache. Cache failures are logged and never interrupt the stream.
type Cached struct {
	src    Source
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewCached wraps src.
func NewCached(src Source, cache domain.PriceCache, logger *slog.Logger) *Cached {
	return &Cached{
		src:    src,
		cache:  cache,
		logger: logger.With(slog.String("component", "feed_cache")),
	}
}

// Open opens the underlying stream.
func (c *Cached) Open(ctx context.Context, token string) (Stream, error) {
	st, err := c.src.Open(ctx, token)
	if err != nil {
		return nil, err
	}
	return &cachedStream{Stream: st, c: c}, nil
}

type cachedStream struct {
	Stream
	c *Cached
}

func (s *cachedStream) Next(ctx context.Context) (domain.Tick, error) {
	tick, err := s.Stream.Next(ctx)
	if err != nil {
		return tick, err
	}
	if err := s.c.cache.SetPrice(ctx, tick.Token, tick.Price, tick.Timestamp); err != nil {
		s.c.logger.WarnContext(ctx, "price cache write failed",
			slog.String("token", tick.Token),
			slog.String("error", err.Error()),
		)
	}
	return tick, nil
}
