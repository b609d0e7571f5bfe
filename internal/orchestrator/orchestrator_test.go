package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/executor"
	"github.com/alanyoungcy/autotrader/internal/feed"
	"github.com/alanyoungcy/autotrader/internal/ledger"
	"github.com/alanyoungcy/autotrader/internal/strategy"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IntakeInterval = 5 * time.Millisecond
	cfg.SnapshotInterval = 0
	cfg.RequeueDelay = 5 * time.Millisecond
	cfg.RequeueMaxDelay = 20 * time.Millisecond
	cfg.Execution = executor.Config{}
	return cfg
}

// chanFeed hands out one buffered channel per token; tests push ticks into
// it and close it to end the stream.
type chanFeed struct {
	mu    sync.Mutex
	chans map[string]chan domain.Tick
	seq   map[string]int
}

func newChanFeed() *chanFeed {
	return &chanFeed{chans: make(map[string]chan domain.Tick), seq: make(map[string]int)}
}

func (f *chanFeed) ch(token string) chan domain.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chans[token]
	if !ok {
		c = make(chan domain.Tick, 64)
		f.chans[token] = c
	}
	return c
}

func (f *chanFeed) Open(_ context.Context, token string) (feed.Stream, error) {
	return &chanStream{ch: f.ch(token)}, nil
}

func (f *chanFeed) push(token string, prices ...float64) {
	c := f.ch(token)
	for _, p := range prices {
		f.mu.Lock()
		f.seq[token]++
		ts := epoch.Add(time.Duration(f.seq[token]) * time.Second)
		f.mu.Unlock()
		c <- domain.Tick{Token: token, Timestamp: ts, Price: p}
	}
}

func (f *chanFeed) pushAt(token string, ts time.Time, price float64) {
	f.ch(token) <- domain.Tick{Token: token, Timestamp: ts, Price: price}
}

func (f *chanFeed) end(token string) {
	close(f.ch(token))
}

type chanStream struct {
	ch chan domain.Tick
}

func (s *chanStream) Next(ctx context.Context) (domain.Tick, error) {
	select {
	case <-ctx.Done():
		return domain.Tick{}, ctx.Err()
	case t, ok := <-s.ch:
		if !ok {
			return domain.Tick{}, feed.ErrStreamEnded
		}
		return t, nil
	}
}

func (s *chanStream) Close() error { return nil }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Emit(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) ofType(typ domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// waitEvents blocks until the sink holds at least n events of typ.
func (s *recordingSink) waitEvents(t *testing.T, typ domain.EventType, n int) []domain.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.ofType(typ)) >= n
	}, 5*time.Second, 2*time.Millisecond)
	return s.ofType(typ)
}

type screenerFunc func(ctx context.Context, token string) (domain.Verdict, error)

func (f screenerFunc) Screen(ctx context.Context, token string) (domain.Verdict, error) {
	return f(ctx, token)
}

func newTestOrchestrator(t *testing.T, cfg Config, src feed.Source, balance float64, opts ...Option) (*Orchestrator, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	o := New(cfg, src, sink, testLogger(), opts...)
	require.NoError(t, o.AddAccount(domain.Account{ID: domain.DefaultAccountID, InitialBalance: balance}))
	return o, sink
}

// runInBackground starts o and returns an idempotent stop func that waits
// for Run to return.
func runInBackground(t *testing.T, o *Orchestrator) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	require.Eventually(t, o.Running, time.Second, time.Millisecond)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("orchestrator did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func findSession(o *Orchestrator, account, token string) (domain.Session, bool) {
	list, err := o.Sessions(account)
	if err != nil {
		return domain.Session{}, false
	}
	for _, s := range list {
		if s.Token == token {
			return s, true
		}
	}
	return domain.Session{}, false
}

func waitStatus(t *testing.T, o *Orchestrator, account, token string, status domain.SessionStatus) domain.Session {
	t.Helper()
	var out domain.Session
	require.Eventually(t, func() bool {
		s, ok := findSession(o, account, token)
		if ok && s.Status == status {
			out = s
			return true
		}
		return false
	}, 5*time.Second, 2*time.Millisecond, "session %s/%s never reached %s", account, token, status)
	return out
}

func waitTerminal(t *testing.T, o *Orchestrator, account, token string) domain.Session {
	t.Helper()
	var out domain.Session
	require.Eventually(t, func() bool {
		s, ok := findSession(o, account, token)
		if ok && s.Status.Terminal() {
			out = s
			return true
		}
		return false
	}, 5*time.Second, 2*time.Millisecond, "session %s/%s never ended", account, token)
	return out
}

func signal(token string) domain.Signal {
	return domain.Signal{Token: token, Kind: domain.SignalKindGreenFlag, Priority: 1}
}

func TestOrchestrator_SessionTakesProfitThenStopsAtBreakeven(t *testing.T) {
	f := newChanFeed()
	o, sink := newTestOrchestrator(t, testConfig(), f, 50)
	runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("TOK"))
	require.NoError(t, err)

	f.push("TOK", 0.10, 0.11, 0.13, 0.10)
	s := waitTerminal(t, o, domain.DefaultAccountID, "TOK")

	assert.Equal(t, domain.SessionFinished, s.Status)
	assert.Equal(t, strategy.ReasonBreakevenStop, s.Reason)
	assert.Equal(t, 0.10, s.EntryPrice)
	assert.InDelta(t, 10.0, s.Quantity, 1e-9)
	require.NotNil(t, s.PnL)
	assert.InDelta(t, 0.099, *s.PnL, 1e-9)
	require.NotNil(t, s.PnLPercent)
	assert.InDelta(t, 9.9, *s.PnLPercent, 1e-6)
	require.NotNil(t, s.EndedAt)

	trades, err := o.Trades(domain.DefaultAccountID)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Equal(t, "take-profit 1", trades[1].Reason)
	assert.InDelta(t, 3.3, trades[1].Quantity, 1e-9)
	assert.Equal(t, strategy.ReasonBreakevenStop, trades[2].Reason)
	assert.InDelta(t, 6.7, trades[2].Quantity, 1e-9)

	snap, err := o.Snapshot(domain.DefaultAccountID)
	require.NoError(t, err)
	assert.InDelta(t, 50.099, snap.Capital, 1e-9)
	assert.Empty(t, snap.Positions)

	assert.Len(t, sink.ofType(domain.EventTradeExecuted), 3)
	closed := sink.ofType(domain.EventPositionClosed)
	require.Len(t, closed, 1)
	assert.InDelta(t, 0.099, *closed[0].PnL, 1e-9)

	var kinds []string
	for _, ev := range sink.ofType(domain.EventStrategyTransition) {
		kinds = append(kinds, ev.Transition)
	}
	assert.Equal(t, []string{"opened", "tier_hit", "breakeven_armed", "closed"}, kinds)

	var statuses []domain.SessionStatus
	for _, ev := range sink.waitEvents(t, domain.EventSessionStatus, 3) {
		statuses = append(statuses, ev.Status)
	}
	assert.Equal(t, []domain.SessionStatus{domain.SessionPending, domain.SessionActive, domain.SessionFinished}, statuses)

	assert.Zero(t, o.LiveSessions())
}

func TestOrchestrator_InitialStopLoss(t *testing.T) {
	src := feed.NewReplay(map[string][]float64{"TOK": {1.0, 0.95, 0.80}}, epoch, time.Second)
	o, _ := newTestOrchestrator(t, testConfig(), src, 50)
	runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("TOK"))
	require.NoError(t, err)

	s := waitTerminal(t, o, domain.DefaultAccountID, "TOK")
	assert.Equal(t, domain.SessionFinished, s.Status)
	assert.Equal(t, strategy.ReasonInitialStop, s.Reason)
	require.NotNil(t, s.PnL)
	assert.InDelta(t, -0.2, *s.PnL, 1e-9)
}

func TestOrchestrator_ConcurrencyLimitRequeues(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.RequeueMaxAttempts = 1000
	f := newChanFeed()
	o, sink := newTestOrchestrator(t, cfg, f, 50)
	runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("A"))
	require.NoError(t, err)
	waitStatus(t, o, domain.DefaultAccountID, "A", domain.SessionActive)

	_, err = o.Submit(context.Background(), signal("B"))
	require.NoError(t, err)

	// B cannot be admitted while A holds the only slot.
	time.Sleep(50 * time.Millisecond)
	_, ok := findSession(o, domain.DefaultAccountID, "B")
	assert.False(t, ok)
	assert.Empty(t, sink.ofType(domain.EventSignalDropped))

	f.end("A")
	a := waitTerminal(t, o, domain.DefaultAccountID, "A")
	assert.Equal(t, domain.ReasonFeedUnavailable, a.Reason)

	b := waitStatus(t, o, domain.DefaultAccountID, "B", domain.SessionActive)
	assert.Positive(t, b.Signal.Attempt)
}

func TestOrchestrator_ConcurrencyLimitWithoutRequeueDrops(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.RequeueMaxAttempts = 0
	f := newChanFeed()
	o, sink := newTestOrchestrator(t, cfg, f, 50)
	runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("A"))
	require.NoError(t, err)
	waitStatus(t, o, domain.DefaultAccountID, "A", domain.SessionActive)

	_, err = o.Submit(context.Background(), signal("B"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.ofType(domain.EventSignalDropped)) == 1
	}, 5*time.Second, 2*time.Millisecond)
	ev := sink.ofType(domain.EventSignalDropped)[0]
	assert.Equal(t, "B", ev.Token)
	assert.Contains(t, ev.Reason, domain.ErrConcurrencyLimit.Error())
}

func TestOrchestrator_SerializeSessions(t *testing.T) {
	cfg := testConfig()
	cfg.SerializeSessions = true
	cfg.RequeueMaxAttempts = 0
	f := newChanFeed()
	o, sink := newTestOrchestrator(t, cfg, f, 50)
	runInBackground(t, o)

	assert.Equal(t, 1, o.Status().MaxConcurrent)

	_, err := o.Submit(context.Background(), signal("A"))
	require.NoError(t, err)
	waitStatus(t, o, domain.DefaultAccountID, "A", domain.SessionActive)
	_, err = o.Submit(context.Background(), signal("B"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.ofType(domain.EventSignalDropped)) == 1
	}, 5*time.Second, 2*time.Millisecond)
}

func TestOrchestrator_DuplicateTokenRejected(t *testing.T) {
	f := newChanFeed()
	o, sink := newTestOrchestrator(t, testConfig(), f, 50)
	runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("TOK"))
	require.NoError(t, err)
	waitStatus(t, o, domain.DefaultAccountID, "TOK", domain.SessionActive)

	again := signal("TOK")
	again.Kind = domain.SignalKindBullish
	_, err = o.Submit(context.Background(), again)
	require.ErrorIs(t, err, domain.ErrDuplicateToken)
	assert.Len(t, sink.ofType(domain.EventSignalDropped), 1)

	// Once the session ends the token is free again.
	f.end("TOK")
	waitTerminal(t, o, domain.DefaultAccountID, "TOK")
	_, err = o.Submit(context.Background(), again)
	assert.NoError(t, err)
}

func TestOrchestrator_LeftoverPositionBlocksToken(t *testing.T) {
	f := newChanFeed()
	o, sink := newTestOrchestrator(t, testConfig(), f, 50)
	runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("TOK"))
	require.NoError(t, err)

	f.push("TOK", 0.10)
	require.Eventually(t, func() bool {
		return len(sink.ofType(domain.EventTradeExecuted)) == 1
	}, 5*time.Second, 2*time.Millisecond)
	f.end("TOK")

	s := waitTerminal(t, o, domain.DefaultAccountID, "TOK")
	assert.Equal(t, domain.SessionFinished, s.Status)
	assert.Equal(t, domain.ReasonFeedUnavailable, s.Reason)

	positions, err := o.Positions(domain.DefaultAccountID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 10.0, positions[0].Quantity, 1e-9)

	again := signal("TOK")
	again.Kind = domain.SignalKindBullish
	_, err = o.Submit(context.Background(), again)
	require.ErrorIs(t, err, domain.ErrDuplicateToken)

	trades, err := o.Trades(domain.DefaultAccountID)
	require.NoError(t, err)
	assert.Len(t, trades, 1, "no second buy on top of the open position")
	sessions, err := o.Sessions(domain.DefaultAccountID)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestAccount_AdmitRejectsHeldToken(t *testing.T) {
	l := ledger.New(domain.DefaultAccountID, 50)
	require.NoError(t, l.RecordBuy("TOK", 1, 10, 0.10))
	a := newAccount(domain.Account{ID: domain.DefaultAccountID}, l, executor.NewSimulator(l, executor.Config{}, testLogger()))

	_, err := a.admit(signal("TOK"), testConfig(), epoch)
	require.ErrorIs(t, err, domain.ErrDuplicateToken)
	assert.True(t, a.occupied("TOK"))

	s, err := a.admit(signal("OTHER"), testConfig(), epoch)
	require.NoError(t, err)
	assert.Equal(t, "OTHER", s.token)
}

func TestOrchestrator_TradeTooSmallDropped(t *testing.T) {
	f := newChanFeed()
	o, sink := newTestOrchestrator(t, testConfig(), f, 0.1)
	runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("TOK"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.ofType(domain.EventSignalDropped)) == 1
	}, 5*time.Second, 2*time.Millisecond)
	assert.Contains(t, sink.ofType(domain.EventSignalDropped)[0].Reason, domain.ErrTradeTooSmall.Error())
	_, ok := findSession(o, domain.DefaultAccountID, "TOK")
	assert.False(t, ok)
}

func TestOrchestrator_SubmitRejections(t *testing.T) {
	o, sink := newTestOrchestrator(t, testConfig(), newChanFeed(), 50)

	_, err := o.Submit(context.Background(), domain.Signal{})
	assert.ErrorIs(t, err, domain.ErrQueueRejected)

	ghost := signal("TOK")
	ghost.AccountID = "ghost"
	_, err = o.Submit(context.Background(), ghost)
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)

	first := signal("A")
	first.ID = "sig-1"
	got, err := o.Submit(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultAccountID, got.AccountID)
	assert.False(t, got.ReceivedAt.IsZero())

	replayed := signal("B")
	replayed.ID = "sig-1"
	_, err = o.Submit(context.Background(), replayed)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	assert.Len(t, sink.ofType(domain.EventSignalDropped), 2)
	assert.Equal(t, 1, o.Queue().Len())
}

func TestOrchestrator_QueueFullRejects(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	o, _ := newTestOrchestrator(t, cfg, newChanFeed(), 50)

	_, err := o.Submit(context.Background(), signal("A"))
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), signal("B"))
	assert.ErrorIs(t, err, domain.ErrQueueRejected)
}

func TestOrchestrator_ShutdownFinishesLiveSessionsWithoutSelling(t *testing.T) {
	f := newChanFeed()
	o, sink := newTestOrchestrator(t, testConfig(), f, 50)
	stop := runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("TOK"))
	require.NoError(t, err)
	f.push("TOK", 0.10)

	require.Eventually(t, func() bool {
		trades, _ := o.Trades(domain.DefaultAccountID)
		return len(trades) == 1
	}, 5*time.Second, 2*time.Millisecond)

	stop()
	assert.False(t, o.Running())

	s, ok := findSession(o, domain.DefaultAccountID, "TOK")
	require.True(t, ok)
	assert.Equal(t, domain.SessionFinished, s.Status)
	assert.Equal(t, domain.ReasonSystemShutdown, s.Reason)
	assert.Nil(t, s.PnL)

	positions, err := o.Positions(domain.DefaultAccountID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 10.0, positions[0].Quantity, 1e-9)
	assert.Len(t, sink.ofType(domain.EventTradeExecuted), 1)
	assert.Empty(t, sink.ofType(domain.EventPositionClosed))
}

func TestOrchestrator_FeedFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status domain.SessionStatus
		reason string
	}{
		{"exhausted", fmt.Errorf("feed: %w", domain.ErrDependencyExhausted), domain.SessionFailed, domain.ReasonDependencyExhausted},
		{"unavailable", fmt.Errorf("feed: %w", domain.ErrFeedUnavailable), domain.SessionFinished, domain.ReasonFeedUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := feed.SourceFunc(func(context.Context, string) (feed.Stream, error) {
				return nil, tt.err
			})
			o, _ := newTestOrchestrator(t, testConfig(), src, 50)
			runInBackground(t, o)

			_, err := o.Submit(context.Background(), signal("TOK"))
			require.NoError(t, err)

			s := waitTerminal(t, o, domain.DefaultAccountID, "TOK")
			assert.Equal(t, tt.status, s.Status)
			assert.Equal(t, tt.reason, s.Reason)
			assert.Zero(t, o.LiveSessions())
		})
	}
}

func TestOrchestrator_Screening(t *testing.T) {
	tests := []struct {
		name    string
		verdict domain.Verdict
		err     error
		status  domain.SessionStatus
		reason  string
	}{
		{"rejected", domain.Verdict{Pass: false, Reason: "no mentions"}, nil, domain.SessionFailed, "screening rejected: no mentions"},
		{"exhausted", domain.Verdict{}, fmt.Errorf("screening: %w", domain.ErrDependencyExhausted), domain.SessionFailed, domain.ReasonDependencyExhausted},
		{"passed", domain.Verdict{Pass: true, Score: 80}, nil, domain.SessionFinished, domain.ReasonFeedUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var screened []string
			var mu sync.Mutex
			scr := screenerFunc(func(_ context.Context, token string) (domain.Verdict, error) {
				mu.Lock()
				screened = append(screened, token)
				mu.Unlock()
				return tt.verdict, tt.err
			})
			src := feed.NewReplay(nil, epoch, time.Second)
			o, sink := newTestOrchestrator(t, testConfig(), src, 50, WithScreener(scr))
			runInBackground(t, o)

			_, err := o.Submit(context.Background(), signal("TOK"))
			require.NoError(t, err)

			s := waitTerminal(t, o, domain.DefaultAccountID, "TOK")
			assert.Equal(t, tt.status, s.Status)
			assert.Equal(t, tt.reason, s.Reason)

			mu.Lock()
			assert.Equal(t, []string{"TOK"}, screened)
			mu.Unlock()

			statuses := sink.waitEvents(t, domain.EventSessionStatus, 3)
			assert.Equal(t, domain.SessionScreening, statuses[1].Status)
		})
	}
}

func TestOrchestrator_NoEntrySignal(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntryTicks = 2
	src := feed.NewReplay(map[string][]float64{"TOK": {0.3, 0.2, 0.1, 0.5}}, epoch, time.Second)
	o, _ := newTestOrchestrator(t, cfg, src, 50, WithEntryRule(strategy.BreakoutEntry{Lookback: 3}))
	runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("TOK"))
	require.NoError(t, err)

	s := waitTerminal(t, o, domain.DefaultAccountID, "TOK")
	assert.Equal(t, domain.SessionFinished, s.Status)
	assert.Equal(t, domain.ReasonNoEntry, s.Reason)
	trades, err := o.Trades(domain.DefaultAccountID)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestOrchestrator_DropsOutOfOrderAndInvalidTicks(t *testing.T) {
	f := newChanFeed()
	o, _ := newTestOrchestrator(t, testConfig(), f, 50)
	runInBackground(t, o)

	_, err := o.Submit(context.Background(), signal("TOK"))
	require.NoError(t, err)

	f.pushAt("TOK", epoch.Add(10*time.Second), 0.10)
	// Either of these would trip the stop if accepted.
	f.pushAt("TOK", epoch.Add(5*time.Second), 0.01)
	f.pushAt("TOK", epoch.Add(11*time.Second), -1)
	f.pushAt("TOK", epoch.Add(12*time.Second), 0.09)

	require.Eventually(t, func() bool {
		st := o.Status()
		if len(st.Accounts) != 1 || len(st.Accounts[0].Positions) != 1 {
			return false
		}
		// 49 capital plus 10 units marked at the last good price 0.09.
		return math.Abs(st.Accounts[0].TotalValue-49.9) < 1e-9
	}, 5*time.Second, 2*time.Millisecond)

	f.end("TOK")
	s := waitTerminal(t, o, domain.DefaultAccountID, "TOK")
	assert.Equal(t, domain.ReasonFeedUnavailable, s.Reason)
	trades, err := o.Trades(domain.DefaultAccountID)
	require.NoError(t, err)
	assert.Len(t, trades, 1, "no sell may happen on a dropped tick")
}

func TestOrchestrator_AccountsAreIsolated(t *testing.T) {
	src := feed.NewReplay(map[string][]float64{"TOK": {0.10, 0.13, 0.10}}, epoch, time.Second)
	o := New(testConfig(), src, nil, testLogger())
	require.NoError(t, o.AddAccount(domain.Account{ID: "a", InitialBalance: 50}))
	require.NoError(t, o.AddAccount(domain.Account{ID: "b", InitialBalance: 10}))
	assert.ErrorIs(t, o.AddAccount(domain.Account{ID: "a"}), domain.ErrAlreadyExists)
	runInBackground(t, o)

	for _, acct := range []string{"a", "b"} {
		sig := signal("TOK")
		sig.AccountID = acct
		_, err := o.Submit(context.Background(), sig)
		require.NoError(t, err)
	}

	sa := waitTerminal(t, o, "a", "TOK")
	sb := waitTerminal(t, o, "b", "TOK")
	require.NotNil(t, sa.PnL)
	require.NotNil(t, sb.PnL)
	assert.InDelta(t, 0.099, *sa.PnL, 1e-9)
	assert.InDelta(t, 0.0198, *sb.PnL, 1e-9)

	for _, acct := range []string{"a", "b"} {
		trades, err := o.Trades(acct)
		require.NoError(t, err)
		require.Len(t, trades, 3)
		for _, tr := range trades {
			assert.Equal(t, acct, tr.AccountID)
		}
	}

	st := o.Status()
	require.Len(t, st.Accounts, 2)
	assert.InDelta(t, 50.099, st.Accounts[0].Available, 1e-9)
	assert.InDelta(t, 10.0198, st.Accounts[1].Available, 1e-9)

	_, err := o.Sessions("ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownAccount)
	_, err = o.Session(sa.ID)
	assert.NoError(t, err)
	_, err = o.Session("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, o.Accounts(), 2)
}

func TestOrchestrator_SnapshotAll(t *testing.T) {
	sink := &recordingSink{}
	o := New(testConfig(), newChanFeed(), sink, testLogger())
	require.NoError(t, o.AddAccount(domain.Account{ID: "a", InitialBalance: 5}))
	require.NoError(t, o.AddAccount(domain.Account{ID: "b", InitialBalance: 7}))

	o.SnapshotAll(context.Background())

	snaps := sink.ofType(domain.EventPortfolioSnapshot)
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].AccountID)
	assert.Equal(t, 5.0, snaps[0].Snapshot.Capital)
	assert.Equal(t, 7.0, snaps[1].Snapshot.TotalValue)
	for _, ev := range snaps {
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestOrchestrator_RunTwice(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(), newChanFeed(), 50)
	runInBackground(t, o)
	assert.Error(t, o.Run(context.Background()))
}
