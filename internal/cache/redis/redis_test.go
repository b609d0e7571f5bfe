package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Key(t *testing.T) {
	assert.Equal(t, "autotrader:price:X", Wrap(goredis.NewClient(&goredis.Options{}), "").Key("price:X"))
	assert.Equal(t, "bot2:lock:a", Wrap(goredis.NewClient(&goredis.Options{}), "bot2").Key("lock:a"))
}

func TestPriceCache(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	pc := NewPriceCache(c, time.Minute)

	_, _, err := pc.GetPrice(ctx, "TOK")
	require.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, pc.SetPrice(ctx, "TOK", 0.125, ts))
	price, got, err := pc.GetPrice(ctx, "TOK")
	require.NoError(t, err)
	assert.Equal(t, 0.125, price)
	assert.True(t, got.Equal(ts))

	ttl, err := c.Underlying().TTL(ctx, "test:price:TOK").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)

	prices, err := pc.GetPrices(ctx, []string{"TOK", "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"TOK": 0.125}, prices)
}

func TestLockManager(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "wallet:abc", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "wallet:abc", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "wallet:abc", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestRateLimiter(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()
	rl := NewRateLimiter(c, 2, time.Minute)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "screening", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "screening", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rl.Wait(ctx, "other"))
	require.NoError(t, rl.Wait(ctx, "other"))
	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(rl.Wait(short, "other"), context.DeadlineExceeded))
}

func TestSignalBus_PubSubAndStreams(t *testing.T) {
	c := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(c)

	sub, err := bus.Subscribe(ctx, "trades")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "trades", []byte("hello")))
	select {
	case msg := <-sub:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no pub/sub message")
	}

	msgs, err := bus.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, "events", []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, "events", []byte("b")))
	msgs, err = bus.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", string(msgs[1].Payload))

	msgs, err = bus.StreamRead(ctx, "events", msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

type recordingSubmitter struct {
	mu   sync.Mutex
	sigs []domain.Signal
}

func (r *recordingSubmitter) Submit(_ context.Context, sig domain.Signal) (domain.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigs = append(r.sigs, sig)
	return sig, nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sigs)
}

func TestStreamSignalSource_ConsumesAndResumes(t *testing.T) {
	c := setupRedis(t)
	bus := NewSignalBus(c, WithStreamBlock(50*time.Millisecond))
	sub := &recordingSubmitter{}
	src := NewStreamSignalSource(c, bus, sub, "", 10*time.Millisecond, testLogger())

	ctx := context.Background()
	require.NoError(t, src.Publish(ctx, domain.Signal{Token: "A", Kind: domain.SignalKindGreenFlag}))
	require.NoError(t, bus.StreamAppend(ctx, DefaultSignalStream, []byte("not json")))
	require.NoError(t, src.Publish(ctx, domain.Signal{ID: "fixed", Token: "B", Kind: domain.SignalKindBullish}))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- src.Run(runCtx) }()

	require.Eventually(t, func() bool { return sub.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sub.mu.Lock()
	assert.Contains(t, sub.sigs[0].ID, "stream:")
	assert.Equal(t, "fixed", sub.sigs[1].ID)
	sub.mu.Unlock()

	// A restarted consumer resumes after the stored cursor.
	require.NoError(t, src.Publish(ctx, domain.Signal{Token: "C", Kind: domain.SignalKindGreenFlag}))
	runCtx, cancel = context.WithCancel(ctx)
	defer cancel()
	go func() { done <- src.Run(runCtx) }()
	require.Eventually(t, func() bool { return sub.count() == 3 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sub.mu.Lock()
	assert.Equal(t, "C", sub.sigs[2].Token)
	sub.mu.Unlock()
}

func TestEntryPayload(t *testing.T) {
	data, ok := entryPayload(map[string]any{"payload": `{"token":"A"}`})
	require.True(t, ok)
	assert.JSONEq(t, `{"token":"A"}`, string(data))

	data, ok = entryPayload(map[string]any{
		"token": "MOON_TOKEN", "kind": "GREEN_FLAG", "priority": "3", "meta.source": "tg",
	})
	require.True(t, ok)
	assert.JSONEq(t, `{"token":"MOON_TOKEN","kind":"GREEN_FLAG","priority":3,"metadata":{"source":"tg"}}`, string(data))

	_, ok = entryPayload(map[string]any{"token": "X", "priority": "high"})
	assert.False(t, ok, "non-numeric priority")
	_, ok = entryPayload(map[string]any{"other": "x"})
	assert.False(t, ok, "neither payload nor token")
}

func TestStreamSignalSource_FlatFieldEntries(t *testing.T) {
	c := setupRedis(t)
	bus := NewSignalBus(c, WithStreamBlock(50*time.Millisecond), WithStreamMaxLen(100))
	sub := &recordingSubmitter{}
	src := NewStreamSignalSource(c, bus, sub, "flat", 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Underlying().XAdd(ctx, &goredis.XAddArgs{
		Stream: c.Key("flat"),
		Values: []any{"token", "FLAT", "kind", "BULLISH", "priority", "4"},
	}).Err())

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	require.Eventually(t, func() bool { return sub.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, "FLAT", sub.sigs[0].Token)
	assert.Equal(t, domain.SignalKindBullish, sub.sigs[0].Kind)
	assert.Equal(t, 4, sub.sigs[0].Priority)
}
