package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/strategy"
)

// session pairs the stored record with the exit machine. The record is
// guarded by mu because status readers run concurrently with the session
// goroutine; the exit machine is touched only by that goroutine.
type session struct {
	id    string
	token string
	exit  *strategy.TieredExit

	mu  sync.RWMutex
	rec domain.Session
}

func newSession(rec domain.Session) *session {
	return &session{id: rec.ID, token: rec.Token, rec: rec}
}

// record returns a deep copy of the session record.
func (s *session) record() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.rec
	out.Actions = append([]domain.SessionAction(nil), s.rec.Actions...)
	if s.rec.EndedAt != nil {
		t := *s.rec.EndedAt
		out.EndedAt = &t
	}
	if s.rec.PnL != nil {
		v := *s.rec.PnL
		out.PnL = &v
	}
	if s.rec.PnLPercent != nil {
		v := *s.rec.PnLPercent
		out.PnLPercent = &v
	}
	return out
}

func (s *session) update(fn func(r *domain.Session)) {
	s.mu.Lock()
	fn(&s.rec)
	s.mu.Unlock()
}

func (s *session) status() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Status
}

// tickReader pulls ticks from a stream, dropping out-of-order and invalid
// ticks and recording the latest good price.
type tickReader struct {
	o      *Orchestrator
	next   func(ctx context.Context) (domain.Tick, error)
	token  string
	last   time.Time
	logger *slog.Logger
}

func (r *tickReader) read(ctx context.Context) (domain.Tick, error) {
	for {
		tick, err := r.next(ctx)
		if err != nil {
			return tick, err
		}
		if !r.last.IsZero() && !tick.Timestamp.After(r.last) {
			r.logger.WarnContext(ctx, "out-of-order tick dropped",
				slog.Time("ts", tick.Timestamp),
				slog.Time("last", r.last),
			)
			continue
		}
		r.last = tick.Timestamp
		if tick.Price <= 0 || math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) {
			r.logger.WarnContext(ctx, "invalid price ignored", slog.Float64("price", tick.Price))
			continue
		}
		r.o.setPrice(r.token, tick.Price)
		return tick, nil
	}
}

// runSession drives s from Pending to a terminal status.
func (o *Orchestrator) runSession(ctx context.Context, a *account, s *session) {
	logger := o.logger.With(
		slog.String("session", s.id),
		slog.String("account", a.info.ID),
		slog.String("token", s.token),
	)
	status, reason := o.drive(ctx, a, s, logger)
	o.finish(ctx, a, s, status, reason, logger)
}

func (o *Orchestrator) drive(ctx context.Context, a *account, s *session, logger *slog.Logger) (domain.SessionStatus, string) {
	if o.screener != nil {
		o.transition(ctx, s, domain.SessionScreening)
		v, err := o.screener.Screen(ctx, s.token)
		switch {
		case ctx.Err() != nil:
			return domain.SessionFinished, domain.ReasonSystemShutdown
		case errors.Is(err, domain.ErrDependencyExhausted):
			return domain.SessionFailed, domain.ReasonDependencyExhausted
		case err != nil:
			logger.WarnContext(ctx, "screening error", slog.String("error", err.Error()))
			return domain.SessionFailed, domain.ReasonScreeningRejected
		case !v.Pass:
			return domain.SessionFailed, fmt.Sprintf("%s: %s", domain.ReasonScreeningRejected, v.Reason)
		}
	}
	o.transition(ctx, s, domain.SessionActive)

	st, err := o.feed.Open(ctx, s.token)
	if err != nil {
		logger.WarnContext(ctx, "feed open failed", slog.String("error", err.Error()))
		return o.feedOutcome(ctx, err)
	}
	defer st.Close()

	r := &tickReader{o: o, next: st.Next, token: s.token, logger: logger}

	if status, reason, ok := o.awaitEntry(ctx, a, s, r, logger); !ok {
		return status, reason
	}
	return o.manage(ctx, a, s, r, logger)
}

// awaitEntry feeds ticks to the entry rule until it fires and the entry buy
// fills. ok is false when the session ends before holding a position.
func (o *Orchestrator) awaitEntry(ctx context.Context, a *account, s *session, r *tickReader, logger *slog.Logger) (domain.SessionStatus, string, bool) {
	window := o.entry.Warmup()
	if window < 1 {
		window = 1
	}
	history := make([]float64, 0, window)

	for n := 0; o.cfg.MaxEntryTicks <= 0 || n < o.cfg.MaxEntryTicks; n++ {
		tick, err := r.read(ctx)
		if err != nil {
			status, reason := o.feedOutcome(ctx, err)
			return status, reason, false
		}

		history = append(history, tick.Price)
		if len(history) > window {
			history = append(history[:0], history[len(history)-window:]...)
		}
		if !o.entry.ShouldEnter(history) {
			continue
		}

		if err := o.enter(ctx, a, s, tick, logger); err != nil {
			if errors.Is(err, domain.ErrInvalidPrice) {
				continue
			}
			return domain.SessionFailed, domain.ReasonInsufficientCapital, false
		}
		return "", "", true
	}

	logger.InfoContext(ctx, "entry rule never fired", slog.Int("ticks", o.cfg.MaxEntryTicks))
	return domain.SessionFinished, domain.ReasonNoEntry, false
}

// enter buys available*risk at tick under the account's entry lock and
// opens the exit machine.
func (o *Orchestrator) enter(ctx context.Context, a *account, s *session, tick domain.Tick, logger *slog.Logger) error {
	a.entryMu.Lock()
	amount := a.ledger.Available() * o.cfg.RiskFraction
	if amount < o.cfg.MinTradeSize {
		a.entryMu.Unlock()
		logger.InfoContext(ctx, "entry skipped: trade too small", slog.Float64("amount", amount))
		s.update(func(r *domain.Session) {
			r.Actions = append(r.Actions, domain.SessionAction{
				At: tick.Timestamp, Action: string(domain.SideBuy), Price: tick.Price, Reason: "trade too small",
			})
		})
		return fmt.Errorf("orchestrator: enter %s: %w", s.token, domain.ErrInsufficientCapital)
	}
	res, err := a.sim.Buy(ctx, s.id, s.token, amount, tick.Price)
	a.entryMu.Unlock()

	if err != nil {
		logger.WarnContext(ctx, "entry buy rejected", slog.String("error", err.Error()))
		s.update(func(r *domain.Session) {
			r.Actions = append(r.Actions, domain.SessionAction{
				At: tick.Timestamp, Action: string(domain.SideBuy), Price: tick.Price, Reason: err.Error(),
			})
		})
		return err
	}

	s.exit = strategy.NewTieredExit(o.cfg.Exit)
	opened := s.exit.Open(tick.Price)
	s.update(func(r *domain.Session) {
		r.EntryPrice = tick.Price
		r.Quantity = res.Quantity
		r.StopLoss = opened.StopLoss
		r.Actions = append(r.Actions, domain.SessionAction{
			At:       tick.Timestamp,
			Action:   string(domain.SideBuy),
			Price:    res.Trade.Price,
			Quantity: res.Quantity,
			Reason:   o.entry.Name(),
			Success:  true,
		})
	})

	logger.InfoContext(ctx, "position opened",
		slog.Float64("price", tick.Price),
		slog.Float64("quantity", res.Quantity),
		slog.Float64("spent", res.Spent),
		slog.Float64("stop_loss", opened.StopLoss),
	)
	o.publishTrade(ctx, a, res.Trade, opened.StopLoss)
	o.publishTransition(ctx, a, s, opened, tick.Price)
	return nil
}

// manage runs the exit machine until the ledger no longer holds the token.
func (o *Orchestrator) manage(ctx context.Context, a *account, s *session, r *tickReader, logger *slog.Logger) (domain.SessionStatus, string) {
	original := s.record().Quantity
	pendingExit := ""

	for {
		tick, err := r.read(ctx)
		if err != nil {
			return o.feedOutcome(ctx, err)
		}

		var qty float64
		var reason string
		held := 0.0
		if p, ok := a.ledger.Position(s.token); ok {
			held = p.Quantity
		}

		if pendingExit != "" {
			// A previous full exit did not fill; retry on this tick.
			qty, reason = held, pendingExit
		} else {
			d := s.exit.Update(tick.Price)
			for _, tr := range d.Transitions {
				o.publishTransition(ctx, a, s, tr, tick.Price)
			}
			if len(d.Transitions) > 0 {
				stop := s.exit.StopLoss()
				s.update(func(r *domain.Session) { r.StopLoss = stop })
			}
			if d.Action != strategy.ActionSell {
				continue
			}
			reason = d.Reason
			if d.Full {
				qty = held
			} else {
				qty = math.Min(original*d.Fraction, held)
			}
		}

		if qty <= 0 {
			continue
		}
		res, err := a.sim.Sell(ctx, s.id, s.token, qty, tick.Price, reason)
		if err != nil {
			logger.WarnContext(ctx, "sell rejected",
				slog.String("reason", reason),
				slog.Float64("quantity", qty),
				slog.String("error", err.Error()),
			)
			s.update(func(r *domain.Session) {
				r.Actions = append(r.Actions, domain.SessionAction{
					At: tick.Timestamp, Action: string(domain.SideSell), Price: tick.Price,
					Quantity: qty, Reason: reason,
				})
			})
			if s.exit.State().Phase == strategy.PhaseClosed {
				pendingExit = reason
			}
			continue
		}
		pendingExit = ""

		s.update(func(r *domain.Session) {
			r.Actions = append(r.Actions, domain.SessionAction{
				At:       tick.Timestamp,
				Action:   string(domain.SideSell),
				Price:    res.Trade.Price,
				Quantity: res.Quantity,
				Reason:   reason,
				Success:  true,
			})
		})
		logger.InfoContext(ctx, "position reduced",
			slog.String("reason", reason),
			slog.Float64("price", tick.Price),
			slog.Float64("quantity", res.Quantity),
			slog.Float64("received", res.Received),
		)
		o.publishTrade(ctx, a, res.Trade, s.exit.StopLoss())

		if res.Closed {
			s.exit.Close()
			rt := res.RoundTrip
			s.update(func(r *domain.Session) {
				r.PnL = &rt.PnL
				r.PnLPercent = &rt.PnLPercent
			})
			o.publishClosed(ctx, s, rt)
			return domain.SessionFinished, reason
		}
	}
}

// feedOutcome maps a stream error to the session's terminal status.
func (o *Orchestrator) feedOutcome(ctx context.Context, err error) (domain.SessionStatus, string) {
	switch {
	case ctx.Err() != nil:
		return domain.SessionFinished, domain.ReasonSystemShutdown
	case errors.Is(err, domain.ErrDependencyExhausted):
		return domain.SessionFailed, domain.ReasonDependencyExhausted
	default:
		return domain.SessionFinished, domain.ReasonFeedUnavailable
	}
}

func (o *Orchestrator) transition(ctx context.Context, s *session, status domain.SessionStatus) {
	s.update(func(r *domain.Session) { r.Status = status })
	o.publishSession(ctx, s)
}

func (o *Orchestrator) finish(ctx context.Context, a *account, s *session, status domain.SessionStatus, reason string, logger *slog.Logger) {
	a.release(s)
	now := o.now()
	s.update(func(r *domain.Session) {
		r.Status = status
		r.Reason = reason
		r.EndedAt = &now
	})

	rec := s.record()
	attrs := []any{
		slog.String("status", string(status)),
		slog.String("reason", reason),
	}
	if rec.PnL != nil {
		attrs = append(attrs, slog.Float64("pnl", *rec.PnL))
	}
	if status == domain.SessionFailed {
		logger.WarnContext(ctx, "session failed", attrs...)
	} else {
		logger.InfoContext(ctx, "session finished", attrs...)
	}
	o.publishSession(ctx, s)
}
