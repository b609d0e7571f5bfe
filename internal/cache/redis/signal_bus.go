package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// BusOption configures a SignalBus.
type BusOption func(*SignalBus)

// WithStreamBlock makes StreamRead wait up to d for new entries. The default
// returns immediately.
func WithStreamBlock(d time.Duration) BusOption {
	return func(sb *SignalBus) {
		if d > 0 {
			sb.block = d
		}
	}
}

// WithStreamMaxLen caps streams at roughly n entries. The default is 10000.
func WithStreamMaxLen(n int64) BusOption {
	return func(sb *SignalBus) {
		if n > 0 {
			sb.maxLen = n
		}
	}
}

// SignalBus carries journal events over Redis pub/sub and incoming signals
// over Redis streams. Names are namespaced; callers use the short names.
type SignalBus struct {
	c      *Client
	rdb    *redis.Client
	block  time.Duration // <0: never block
	maxLen int64
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, opts ...BusOption) *SignalBus {
	sb := &SignalBus{c: c, rdb: c.Underlying(), block: -1, maxLen: 10000}
	for _, opt := range opts {
		opt(sb)
	}
	return sb
}

// Publish sends payload to a pub/sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, sb.c.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, or on a pattern when it contains glob
// characters. The returned channel closes when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.c.Key(channel)
	subscribe := sb.rdb.Subscribe
	if strings.ContainsAny(channel, "*?[") {
		subscribe = sb.rdb.PSubscribe
	}
	pubsub := subscribe(ctx, name)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream under the "payload" field, trimming
// the stream to about maxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.Key(stream),
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// start). Nothing arriving in time is an empty result, not an error.
//
// Entries are either a single "payload" field holding JSON, or flat fields
// written by shell producers such as
//
//	XADD signals:incoming * token MOON kind GREEN_FLAG priority 3 meta.source tg
//
// which are folded into the equivalent JSON object.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{sb.c.Key(stream), lastID},
		Count:   int64(count),
		Block:   sb.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, msg := range s.Messages {
			data, ok := entryPayload(msg.Values)
			if !ok {
				continue
			}
			out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return out, nil
}

// integerFields are decoded as numbers when folding flat entries.
var integerFields = map[string]bool{"priority": true, "attempt": true}

func entryPayload(values map[string]any) ([]byte, bool) {
	if p, ok := values["payload"]; ok {
		switch v := p.(type) {
		case string:
			return []byte(v), true
		case []byte:
			return v, true
		}
		return nil, false
	}
	if _, ok := values["token"]; !ok {
		return nil, false
	}

	obj := make(map[string]any, len(values))
	meta := make(map[string]string)
	for k, raw := range values {
		v := fmt.Sprint(raw)
		switch {
		case strings.HasPrefix(k, "meta."):
			meta[strings.TrimPrefix(k, "meta.")] = v
		case integerFields[k]:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, false
			}
			obj[k] = n
		default:
			obj[k] = v
		}
	}
	if len(meta) > 0 {
		obj["metadata"] = meta
	}
	data, err := json.Marshal(obj)
	return data, err == nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
