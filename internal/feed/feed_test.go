package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, st Stream) []domain.Tick {
	t.Helper()
	var out []domain.Tick
	for {
		tick, err := st.Next(context.Background())
		if errors.Is(err, ErrStreamEnded) {
			return out
		}
		require.NoError(t, err)
		out = append(out, tick)
	}
}

func TestSynthetic_DeterministicAndBounded(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.Steps = 50
	src := NewSynthetic(cfg)

	a, err := src.Open(context.Background(), "TOK")
	require.NoError(t, err)
	b, err := src.Open(context.Background(), "TOK")
	require.NoError(t, err)

	ta, tb := collect(t, a), collect(t, b)
	require.Len(t, ta, 50)
	for i := range ta {
		assert.Equal(t, ta[i].Price, tb[i].Price)
	}

	assert.Equal(t, cfg.InitialPrice, ta[0].Price)
	for i := 1; i < len(ta); i++ {
		assert.Greater(t, ta[i].Price, 0.0)
		assert.True(t, ta[i].Timestamp.After(ta[i-1].Timestamp))
	}

	c, _ := src.Open(context.Background(), "OTHER")
	tc := collect(t, c)
	assert.NotEqual(t, ta[10].Price, tc[10].Price, "tokens get distinct paths")
}

func TestSynthetic_InvalidInitialPrice(t *testing.T) {
	_, err := NewSynthetic(SyntheticConfig{}).Open(context.Background(), "TOK")
	assert.True(t, errors.Is(err, domain.ErrInvalidPrice))
}

func TestSynthetic_HonoursContext(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.Interval = time.Hour
	st, err := NewSynthetic(cfg).Open(context.Background(), "TOK")
	require.NoError(t, err)

	_, err = st.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = st.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestReplay(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	r := NewReplay(map[string][]float64{"A": {0.1, 0.2}}, start, time.Second)

	st, _ := r.Open(context.Background(), "A")
	ticks := collect(t, st)
	require.Len(t, ticks, 2)
	assert.Equal(t, 0.2, ticks[1].Price)
	assert.Equal(t, start.Add(time.Second), ticks[1].Timestamp)

	st, _ = r.Open(context.Background(), "missing")
	_, err := st.Next(context.Background())
	assert.True(t, errors.Is(err, ErrStreamEnded))
}

// flakySource fails to open the first failOpens times, and its streams fail
// after failAfter ticks.
type flakySource struct {
	mu        sync.Mutex
	failOpens int
	opens     int
	failAfter int
	price     float64
}

func (f *flakySource) Open(_ context.Context, token string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.opens <= f.failOpens {
		return nil, errors.New("dial refused")
	}
	return &flakyStream{src: f, token: token}, nil
}

type flakyStream struct {
	src   *flakySource
	token string
	n     int
}

func (s *flakyStream) Next(context.Context) (domain.Tick, error) {
	if s.src.failAfter > 0 && s.n >= s.src.failAfter {
		return domain.Tick{}, domain.ErrWSDisconnect
	}
	s.n++
	s.src.mu.Lock()
	s.src.price += 0.01
	p := s.src.price
	s.src.mu.Unlock()
	return domain.Tick{Token: s.token, Price: p, Timestamp: time.Now()}, nil
}

func (s *flakyStream) Close() error { return nil }

func TestRetrying_RecoversFromTransientFailures(t *testing.T) {
	src := &flakySource{failOpens: 2, failAfter: 2}
	r := NewRetrying(src, testLogger(), WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))

	st, err := r.Open(context.Background(), "TOK")
	require.NoError(t, err)
	defer st.Close()

	for i := 0; i < 6; i++ {
		_, err := st.Next(context.Background())
		require.NoError(t, err, "tick %d", i)
	}
	assert.Equal(t, 5, src.opens)
}

func TestRetrying_ExhaustsAfterMaxRetries(t *testing.T) {
	src := &flakySource{failOpens: 100}
	r := NewRetrying(src, testLogger(), WithMaxRetries(2), WithRetryDelay(time.Millisecond))

	st, _ := r.Open(context.Background(), "TOK")
	_, err := st.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDependencyExhausted))
	assert.Equal(t, 3, src.opens)
}

func TestRetrying_PassesThroughStreamEnd(t *testing.T) {
	r := NewRetrying(NewReplay(nil, time.Now(), time.Second), testLogger())
	st, _ := r.Open(context.Background(), "TOK")
	_, err := st.Next(context.Background())
	assert.True(t, errors.Is(err, ErrStreamEnded))
}

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
	fail   bool
}

func (m *memPriceCache) SetPrice(_ context.Context, token string, price float64, _ time.Time) error {
	if m.fail {
		return errors.New("redis down")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices == nil {
		m.prices = map[string]float64{}
	}
	m.prices[token] = price
	return nil
}

func (m *memPriceCache) GetPrice(_ context.Context, token string) (float64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[token]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}

func (m *memPriceCache) GetPrices(context.Context, []string) (map[string]float64, error) {
	return nil, nil
}

func TestCached_WritesEveryTick(t *testing.T) {
	cache := &memPriceCache{}
	src := NewCached(NewReplay(map[string][]float64{"A": {0.1, 0.3}}, time.Now(), time.Second), cache, testLogger())

	st, err := src.Open(context.Background(), "A")
	require.NoError(t, err)
	collect(t, st)

	p, _, err := cache.GetPrice(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 0.3, p)
}

func TestCached_CacheFailureDoesNotBreakStream(t *testing.T) {
	cache := &memPriceCache{fail: true}
	src := NewCached(NewReplay(map[string][]float64{"A": {0.1}}, time.Now(), time.Second), cache, testLogger())

	st, _ := src.Open(context.Background(), "A")
	assert.Len(t, collect(t, st), 1)
}

func TestWSSource_StreamsTicksUntilClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd subscribeCommand
		if err := conn.ReadJSON(&cmd); err != nil || cmd.Action != "subscribe" {
			return
		}
		base := time.Unix(1_700_000_000, 0).UTC()
		_ = conn.WriteJSON(domain.Tick{Token: "other", Timestamp: base, Price: 9})
		for i := 0; i < 3; i++ {
			_ = conn.WriteJSON(domain.Tick{Token: cmd.Token, Timestamp: base.Add(time.Duration(i) * time.Second), Price: 0.1 * float64(i+1)})
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	src := NewWSSource(url, time.Second, testLogger())

	st, err := src.Open(context.Background(), "TOK")
	require.NoError(t, err)
	defer st.Close()

	ticks := collect(t, st)
	require.Len(t, ticks, 3)
	assert.Equal(t, "TOK", ticks[0].Token)
	assert.InDelta(t, 0.3, ticks[2].Price, 1e-12)
}

func TestWSSource_DialFailure(t *testing.T) {
	src := NewWSSource("ws://127.0.0.1:1/none", time.Second, testLogger())
	_, err := src.Open(context.Background(), "TOK")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWSDisconnect))
	assert.False(t, IsPermanent(err))
}
