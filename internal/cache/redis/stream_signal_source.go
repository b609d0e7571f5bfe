package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// DefaultSignalStream is the stream external producers append signals to.
const DefaultSignalStream = "signals:incoming"

// Submitter accepts signals for admission.
type Submitter interface {
	Submit(ctx context.Context, sig domain.Signal) (domain.Signal, error)
}

// StreamSignalSource consumes JSON-encoded signals from a Redis stream and
// submits them. The last consumed entry ID is stored under
// "{stream}:cursor" so a restart resumes where it stopped; entries delivered
// twice are filtered by signal ID downstream.
type StreamSignalSource struct {
	c      *Client
	bus    domain.SignalBus
	sink   Submitter
	stream string
	batch  int
	idle   time.Duration
	logger *slog.Logger
}

// NewStreamSignalSource creates a source reading stream through bus. idle is
// the pause after an empty read when the bus does not block.
func NewStreamSignalSource(c *Client, bus domain.SignalBus, sink Submitter, stream string, idle time.Duration, logger *slog.Logger) *StreamSignalSource {
	if stream == "" {
		stream = DefaultSignalStream
	}
	if idle <= 0 {
		idle = 500 * time.Millisecond
	}
	return &StreamSignalSource{
		c:      c,
		bus:    bus,
		sink:   sink,
		stream: stream,
		batch:  64,
		idle:   idle,
		logger: logger.With(slog.String("component", "stream_signal_source")),
	}
}

func (s *StreamSignalSource) cursorKey() string {
	return s.c.Key(s.stream + ":cursor")
}

// Run consumes the stream until ctx is cancelled.
func (s *StreamSignalSource) Run(ctx context.Context) error {
	lastID, err := s.c.Underlying().Get(ctx, s.cursorKey()).Result()
	switch {
	case errors.Is(err, redis.Nil):
		lastID = "0"
	case err != nil:
		return fmt.Errorf("redis: signal source cursor: %w", err)
	}

	s.logger.InfoContext(ctx, "signal stream consumer started",
		slog.String("stream", s.stream),
		slog.String("from", lastID),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := s.bus.StreamRead(ctx, s.stream, lastID, s.batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WarnContext(ctx, "signal stream read failed", slog.String("error", err.Error()))
			if !sleep(ctx, s.idle) {
				return nil
			}
			continue
		}
		if len(msgs) == 0 {
			if !sleep(ctx, s.idle) {
				return nil
			}
			continue
		}

		for _, m := range msgs {
			s.handle(ctx, m)
			lastID = m.ID
		}
		if err := s.c.Underlying().Set(ctx, s.cursorKey(), lastID, 0).Err(); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "signal stream cursor save failed", slog.String("error", err.Error()))
		}
	}
}

func (s *StreamSignalSource) handle(ctx context.Context, m domain.StreamMessage) {
	var sig domain.Signal
	if err := json.Unmarshal(m.Payload, &sig); err != nil {
		s.logger.WarnContext(ctx, "malformed signal skipped",
			slog.String("entry", m.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if sig.ID == "" {
		// Stream entry IDs are unique and stable across redelivery.
		sig.ID = "stream:" + m.ID
	}
	if _, err := s.sink.Submit(ctx, sig); err != nil {
		s.logger.DebugContext(ctx, "stream signal rejected",
			slog.String("entry", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Publish appends sig to the stream. It is the producer side used by tools
// and tests.
func (s *StreamSignalSource) Publish(ctx context.Context, sig domain.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("redis: marshal signal: %w", err)
	}
	return s.bus.StreamAppend(ctx, s.stream, payload)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
