// Package feed supplies per-token price ticks to trading sessions. Streams are
// pull-based: a session asks for the next tick when it is ready for it, so a
// slow consumer throttles its producer.
package feed

import (
	"context"
	"errors"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// ErrStreamEnded is returned by Stream.Next once a stream has no more ticks
// and will not produce any.
var ErrStreamEnded = errors.New("feed: stream ended")

// Source opens tick streams for individual tokens.
type Source interface {
	Open(ctx context.Context, token string) (Stream, error)
}

// Stream is a cancellable sequence of ticks for one token, delivered in
// increasing timestamp order.
type Stream interface {
	// Next blocks until the next tick is available, ctx is done, or the
	// stream fails. A permanently finished stream returns ErrStreamEnded.
	Next(ctx context.Context) (domain.Tick, error)
	Close() error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, token string) (Stream, error)

// Open calls f.
func (f SourceFunc) Open(ctx context.Context, token string) (Stream, error) {
	return f(ctx, token)
}

// IsPermanent reports whether err ends a stream for good, as opposed to a
// transient failure worth retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrStreamEnded) ||
		errors.Is(err, domain.ErrFeedUnavailable) ||
		errors.Is(err, domain.ErrDependencyExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
