// Package orchestrator admits signals into trading sessions and drives each
// session's price loop. It owns one ledger per account, enforces the
// admission predicates, and reports every ledger mutation and strategy or
// session transition through an EventSink.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/executor"
	"github.com/alanyoungcy/autotrader/internal/feed"
	"github.com/alanyoungcy/autotrader/internal/ledger"
	"github.com/alanyoungcy/autotrader/internal/queue"
	"github.com/alanyoungcy/autotrader/internal/strategy"
)

// Screener checks a token with an external service before a session may
// trade it.
type Screener interface {
	Screen(ctx context.Context, token string) (domain.Verdict, error)
}

// EventSink receives every event the orchestrator emits. Implementations
// should not block for long; the calling session waits for Emit to return.
type EventSink interface {
	Emit(ctx context.Context, ev domain.Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev domain.Event) error

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }

// Config holds the admission, session and background loop settings.
type Config struct {
	MaxConcurrent      int     // per account
	RiskFraction       float64 // share of available capital committed per entry
	MinTradeSize       float64
	SerializeSessions  bool // one session at a time per account
	QueueSize          int
	IntakeInterval     time.Duration
	SnapshotInterval   time.Duration
	MaxEntryTicks      int // 0 = wait for the entry rule until the feed ends
	RequeueDelay       time.Duration
	RequeueMaxDelay    time.Duration
	RequeueMaxAttempts int
	ReplayTTL          time.Duration
	Exit               strategy.ExitConfig
	Execution          executor.Config
}

// DefaultConfig returns the stock settings: five concurrent sessions per
// account, 2% of capital per trade, 0.01 minimum trade size, a queue of 100.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      5,
		RiskFraction:       0.02,
		MinTradeSize:       0.01,
		QueueSize:          queue.DefaultCapacity,
		IntakeInterval:     500 * time.Millisecond,
		SnapshotInterval:   30 * time.Second,
		MaxEntryTicks:      500,
		RequeueDelay:       5 * time.Second,
		RequeueMaxDelay:    2 * time.Minute,
		RequeueMaxAttempts: 3,
		ReplayTTL:          10 * time.Minute,
		Exit:               strategy.DefaultExitConfig(),
		Execution:          executor.DefaultConfig(),
	}
}

// limit returns the effective per-account concurrency.
func (c Config) limit() int {
	if c.SerializeSessions || c.MaxConcurrent < 1 {
		return 1
	}
	return c.MaxConcurrent
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScreener enables the screening phase.
func WithScreener(s Screener) Option {
	return func(o *Orchestrator) {
		o.screener = s
	}
}

// WithEntryRule replaces the default immediate entry.
func WithEntryRule(r strategy.EntryRule) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.entry = r
		}
	}
}

// Orchestrator is the long-lived owner of all accounts and sessions.
type Orchestrator struct {
	cfg      Config
	queue    *queue.Queue
	feed     feed.Source
	screener Screener
	entry    strategy.EntryRule
	sink     EventSink
	guard    *executor.ReplayGuard
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	accounts map[string]*account

	pricesMu sync.RWMutex
	prices   map[string]float64

	running   atomic.Bool
	startedAt time.Time
	stop      context.CancelFunc
	sessions  sync.WaitGroup
	requeues  sync.WaitGroup
}

// New creates an Orchestrator. sink may be nil.
func New(cfg Config, src feed.Source, sink EventSink, logger *slog.Logger, opts ...Option) *Orchestrator {
	if sink == nil {
		sink = EventSinkFunc(func(context.Context, domain.Event) error { return nil })
	}
	o := &Orchestrator{
		cfg:      cfg,
		queue:    queue.New(cfg.QueueSize),
		feed:     src,
		entry:    strategy.ImmediateEntry{},
		sink:     sink,
		guard:    executor.NewReplayGuard(cfg.ReplayTTL),
		logger:   logger.With(slog.String("component", "orchestrator")),
		now:      func() time.Time { return time.Now().UTC() },
		accounts: make(map[string]*account),
		prices:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddAccount registers acct with a fresh ledger funded with its initial
// balance.
func (o *Orchestrator) AddAccount(acct domain.Account) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.accounts[acct.ID]; ok {
		return fmt.Errorf("orchestrator: account %s: %w", acct.ID, domain.ErrAlreadyExists)
	}
	l := ledger.New(acct.ID, acct.InitialBalance)
	o.accounts[acct.ID] = newAccount(acct, l, executor.NewSimulator(l, o.cfg.Execution, o.logger))
	o.logger.Info("account added",
		slog.String("account", acct.ID),
		slog.Float64("balance", acct.InitialBalance),
	)
	return nil
}

func (o *Orchestrator) account(id string) (*account, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.accounts[id]
	return a, ok
}

func (o *Orchestrator) accountList() []*account {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*account, 0, len(o.accounts))
	for _, a := range o.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].info.ID < out[j].info.ID })
	return out
}

// Queue exposes the signal queue for inspection.
func (o *Orchestrator) Queue() *queue.Queue { return o.queue }

// Submit validates a signal from any source and enqueues it. Missing IDs,
// accounts and timestamps are filled in. A signal is rejected when its ID
// was seen recently, its account is unknown, its token already has a live
// session or an open position in that account, or the queue refuses it.
func (o *Orchestrator) Submit(ctx context.Context, sig domain.Signal) (domain.Signal, error) {
	if sig.Token == "" {
		return sig, fmt.Errorf("orchestrator: submit: empty token: %w", domain.ErrQueueRejected)
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.AccountID == "" {
		sig.AccountID = domain.DefaultAccountID
	}
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = o.now()
	}

	var err error
	acct, ok := o.account(sig.AccountID)
	switch {
	case o.guard.Seen(sig.ID):
		err = fmt.Errorf("orchestrator: signal %s replayed: %w", sig.ID, domain.ErrAlreadyExists)
	case !ok:
		err = fmt.Errorf("orchestrator: signal %s: account %s: %w", sig.ID, sig.AccountID, domain.ErrUnknownAccount)
	case acct.occupied(sig.Token):
		err = fmt.Errorf("orchestrator: signal %s: %s: %w", sig.ID, sig.Token, domain.ErrDuplicateToken)
	case !o.queue.Enqueue(sig):
		err = fmt.Errorf("orchestrator: signal %s: %w", sig.ID, domain.ErrQueueRejected)
	}
	if err != nil {
		o.dropped(ctx, sig, err)
		return sig, err
	}

	o.logger.InfoContext(ctx, "signal queued",
		slog.String("signal", sig.ID),
		slog.String("account", sig.AccountID),
		slog.String("token", sig.Label()),
		slog.String("kind", string(sig.Kind)),
		slog.Int("priority", sig.Priority),
	)
	return sig, nil
}

// Run starts signal intake and portfolio snapshots and blocks until ctx is
// cancelled or Stop is called. On return every session has ended: sessions
// still live at shutdown are finished with reason "system shutdown" and no
// liquidating sell.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator: already running")
	}
	defer o.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.stop = cancel
	o.startedAt = o.now()
	o.mu.Unlock()
	defer cancel()

	o.logger.InfoContext(ctx, "orchestrator starting",
		slog.Int("max_concurrent", o.cfg.limit()),
		slog.Float64("risk_fraction", o.cfg.RiskFraction),
		slog.String("entry_rule", o.entry.Name()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.intakeLoop(gctx)
		return nil
	})
	if o.cfg.SnapshotInterval > 0 {
		g.Go(func() error {
			o.snapshotLoop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		o.replayCleanupLoop(gctx)
		return nil
	})

	err := g.Wait()
	cancel()
	o.requeues.Wait()
	o.sessions.Wait()

	o.logger.Info("orchestrator stopped")
	return err
}

// Stop cancels a running orchestrator. Run returns once every session has
// wound down.
func (o *Orchestrator) Stop() {
	o.mu.RLock()
	stop := o.stop
	o.mu.RUnlock()
	if stop != nil {
		stop()
	}
}

// Running reports whether Run is active.
func (o *Orchestrator) Running() bool { return o.running.Load() }

func (o *Orchestrator) intakeLoop(ctx context.Context) {
	poll := o.cfg.IntakeInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	for {
		sig, ok := o.queue.Wait(ctx, poll)
		if ctx.Err() != nil {
			return
		}
		if ok {
			o.process(ctx, sig)
		}
	}
}

func (o *Orchestrator) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.SnapshotAll(ctx)
		}
	}
}

func (o *Orchestrator) replayCleanupLoop(ctx context.Context) {
	interval := o.cfg.ReplayTTL
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.guard.Cleanup(); n > 0 {
				o.logger.DebugContext(ctx, "replay guard pruned", slog.Int("entries", n))
			}
		}
	}
}

// SnapshotAll emits a portfolio snapshot for every account.
func (o *Orchestrator) SnapshotAll(ctx context.Context) {
	for _, a := range o.accountList() {
		snap := a.ledger.Snapshot(o.priceLookup)
		o.emit(ctx, domain.Event{
			Type:      domain.EventPortfolioSnapshot,
			AccountID: a.info.ID,
			Snapshot:  &snap,
		})
	}
}

// process runs admission for one dequeued signal and starts its session.
func (o *Orchestrator) process(ctx context.Context, sig domain.Signal) {
	acct, ok := o.account(sig.AccountID)
	if !ok {
		o.dropped(ctx, sig, fmt.Errorf("orchestrator: %w", domain.ErrUnknownAccount))
		return
	}

	s, err := acct.admit(sig, o.cfg, o.now())
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyLimit) && o.requeue(ctx, sig) {
			return
		}
		o.dropped(ctx, sig, err)
		return
	}

	o.logger.InfoContext(ctx, "session admitted",
		slog.String("session", s.id),
		slog.String("account", acct.info.ID),
		slog.String("token", sig.Label()),
	)
	o.publishSession(ctx, s)

	o.sessions.Add(1)
	go func() {
		defer o.sessions.Done()
		o.runSession(ctx, acct, s)
	}()
}

// requeue schedules a retry for a signal rejected by the concurrency limit.
// It returns false when the retry budget is spent.
func (o *Orchestrator) requeue(ctx context.Context, sig domain.Signal) bool {
	if sig.Attempt >= o.cfg.RequeueMaxAttempts {
		return false
	}
	delay := o.cfg.RequeueDelay << sig.Attempt
	if delay <= 0 || (o.cfg.RequeueMaxDelay > 0 && delay > o.cfg.RequeueMaxDelay) {
		delay = o.cfg.RequeueMaxDelay
	}

	o.logger.InfoContext(ctx, "signal requeued",
		slog.String("signal", sig.ID),
		slog.String("token", sig.Label()),
		slog.Int("attempt", sig.Attempt+1),
		slog.Duration("delay", delay),
	)

	o.requeues.Add(1)
	go func() {
		defer o.requeues.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		retry := sig.Retry(o.now())
		if !o.queue.Enqueue(retry) {
			o.dropped(ctx, retry, fmt.Errorf("orchestrator: requeue: %w", domain.ErrQueueRejected))
		}
	}()
	return true
}

func (o *Orchestrator) dropped(ctx context.Context, sig domain.Signal, reason error) {
	o.logger.InfoContext(ctx, "signal dropped",
		slog.String("signal", sig.ID),
		slog.String("account", sig.AccountID),
		slog.String("token", sig.Label()),
		slog.String("reason", reason.Error()),
	)
	o.emit(ctx, domain.Event{
		Type:      domain.EventSignalDropped,
		AccountID: sig.AccountID,
		Token:     sig.Token,
		Reason:    reason.Error(),
	})
}

// emit stamps and forwards ev. Delivery continues during shutdown, so the
// sink never sees a cancelled context.
func (o *Orchestrator) emit(ctx context.Context, ev domain.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now()
	}
	if err := o.sink.Emit(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.WarnContext(ctx, "event sink failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) setPrice(token string, price float64) {
	o.pricesMu.Lock()
	o.prices[token] = price
	o.pricesMu.Unlock()
}

func (o *Orchestrator) priceLookup(token string) (float64, bool) {
	o.pricesMu.RLock()
	defer o.pricesMu.RUnlock()
	p, ok := o.prices[token]
	return p, ok
}
