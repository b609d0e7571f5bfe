// Package service holds the application services that sit between the
// orchestrator core and the infrastructure adapters.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/notify"
	"github.com/alanyoungcy/autotrader/internal/observability"
)

// Bus channels and the durable event stream the journal writes to.
const (
	ChannelTrades    = "trades"
	ChannelSessions  = "sessions"
	ChannelStrategy  = "strategy"
	ChannelPortfolio = "portfolio"
	ChannelSignals   = "signals"
	StreamEvents     = "events"
)

// Channels lists every pub/sub channel the journal publishes on.
var Channels = []string{ChannelTrades, ChannelSessions, ChannelStrategy, ChannelPortfolio, ChannelSignals}

// Stores groups the persistence targets of the journal.
type Stores struct {
	Sessions  domain.SessionStore
	Trades    domain.TradeStore
	Positions domain.PositionStore
	Snapshots domain.SnapshotStore
	Audit     domain.AuditStore
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithBus publishes every event on its channel and appends it to the
// durable event stream.
func WithBus(bus domain.SignalBus) JournalOption {
	return func(j *Journal) { j.bus = bus }
}

// WithNotifier sends operator alerts for closed positions and ended sessions.
func WithNotifier(n *notify.Notifier) JournalOption {
	return func(j *Journal) { j.notifier = n }
}

// WithMetrics records Prometheus metrics for every event.
func WithMetrics(m *observability.Metrics) JournalOption {
	return func(j *Journal) { j.metrics = m }
}

// Journal records core events. Store writes are part of the result; bus,
// notifier and audit failures are logged and counted only, so a broken side
// channel never loses the primary record.
type Journal struct {
	stores   Stores
	bus      domain.SignalBus
	notifier *notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewJournal creates a Journal. Nil stores are skipped.
func NewJournal(stores Stores, logger *slog.Logger, opts ...JournalOption) *Journal {
	j := &Journal{
		stores: stores,
		logger: logger.With(slog.String("component", "journal")),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Emit persists ev and fans it out.
func (j *Journal) Emit(ctx context.Context, ev domain.Event) error {
	var err error
	switch ev.Type {
	case domain.EventTradeExecuted:
		err = j.trade(ctx, ev)
	case domain.EventPositionClosed:
		j.closed(ctx, ev)
	case domain.EventStrategyTransition:
		if j.metrics != nil {
			j.metrics.StrategyChanges.WithLabelValues(ev.Transition).Inc()
		}
	case domain.EventSessionStatus:
		err = j.session(ctx, ev)
	case domain.EventPortfolioSnapshot:
		err = j.snapshot(ctx, ev)
	case domain.EventSignalDropped:
		if j.metrics != nil {
			j.metrics.SignalsDropped.WithLabelValues(ev.AccountID).Inc()
		}
		j.auditLog(ctx, "signal_dropped", map[string]any{
			"account": ev.AccountID,
			"token":   ev.Token,
			"reason":  ev.Reason,
		})
	default:
		return fmt.Errorf("journal: unknown event type %q", ev.Type)
	}

	j.publish(ctx, ev)
	j.notify(ctx, ev)

	if err != nil {
		j.failed("store")
		return fmt.Errorf("journal: %s: %w", ev.Type, err)
	}
	return nil
}

func (j *Journal) trade(ctx context.Context, ev domain.Event) error {
	if ev.Trade == nil {
		return errors.New("trade event without trade")
	}
	t := *ev.Trade
	if j.metrics != nil {
		j.metrics.TradesExecuted.WithLabelValues(t.AccountID, string(t.Side)).Inc()
		j.metrics.TradeAmount.WithLabelValues(t.AccountID, string(t.Side)).Add(t.Amount)
	}

	var errs []error
	if j.stores.Trades != nil {
		if err := j.stores.Trades.Insert(ctx, t); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			errs = append(errs, fmt.Errorf("insert trade %s: %w", t.ID, err))
		}
	}
	if j.stores.Positions != nil {
		if ev.Position != nil {
			if err := j.stores.Positions.Upsert(ctx, *ev.Position); err != nil {
				errs = append(errs, fmt.Errorf("upsert position %s: %w", t.Token, err))
			}
		} else if err := j.stores.Positions.Delete(ctx, t.AccountID, t.Token); err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete position %s: %w", t.Token, err))
		}
	}
	return errors.Join(errs...)
}

func (j *Journal) closed(ctx context.Context, ev domain.Event) {
	detail := map[string]any{
		"account":  ev.AccountID,
		"session":  ev.SessionID,
		"token":    ev.Token,
		"reason":   ev.Reason,
		"received": ev.Amount,
	}
	if ev.PnL != nil {
		detail["pnl"] = *ev.PnL
		if j.metrics != nil {
			j.metrics.RealizedPnL.WithLabelValues(ev.AccountID).Add(*ev.PnL)
		}
	}
	if ev.PnLPercent != nil {
		detail["pnl_percent"] = *ev.PnLPercent
		if j.metrics != nil {
			j.metrics.RoundTripPnLPct.Observe(*ev.PnLPercent)
		}
	}
	if j.metrics != nil {
		j.metrics.PositionsClosed.WithLabelValues(ev.Reason).Inc()
	}
	j.auditLog(ctx, "position_closed", detail)
}

func (j *Journal) session(ctx context.Context, ev domain.Event) error {
	if j.metrics != nil {
		switch {
		case ev.Status == domain.SessionPending:
			j.metrics.SessionsStarted.Inc()
			j.metrics.LiveSessions.Inc()
		case ev.Status.Terminal():
			j.metrics.SessionsEnded.WithLabelValues(string(ev.Status), reasonLabel(ev.Reason)).Inc()
			j.metrics.LiveSessions.Dec()
		}
	}
	if ev.Status.Terminal() {
		j.auditLog(ctx, "session_"+string(ev.Status), map[string]any{
			"account": ev.AccountID,
			"session": ev.SessionID,
			"token":   ev.Token,
			"reason":  ev.Reason,
		})
	}

	if ev.Session == nil || j.stores.Sessions == nil {
		return nil
	}
	if err := j.stores.Sessions.Upsert(ctx, *ev.Session); err != nil {
		return fmt.Errorf("upsert session %s: %w", ev.SessionID, err)
	}
	return nil
}

func (j *Journal) snapshot(ctx context.Context, ev domain.Event) error {
	if ev.Snapshot == nil {
		return errors.New("snapshot event without snapshot")
	}
	snap := *ev.Snapshot
	if j.metrics != nil {
		j.metrics.PortfolioValue.WithLabelValues(snap.AccountID).Set(snap.TotalValue)
		j.metrics.PortfolioCapital.WithLabelValues(snap.AccountID).Set(snap.Capital)
	}
	if j.stores.Snapshots == nil {
		return nil
	}
	if err := j.stores.Snapshots.Insert(ctx, snap); err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.AccountID, err)
	}
	return nil
}

// reasonLabel keeps metric label cardinality bounded: screening rejections
// carry a free-form suffix.
func reasonLabel(reason string) string {
	if i := strings.Index(reason, ":"); i > 0 {
		return reason[:i]
	}
	return reason
}

// channelFor maps an event to its pub/sub channel.
func channelFor(t domain.EventType) string {
	switch t {
	case domain.EventTradeExecuted, domain.EventPositionClosed:
		return ChannelTrades
	case domain.EventStrategyTransition:
		return ChannelStrategy
	case domain.EventPortfolioSnapshot:
		return ChannelPortfolio
	case domain.EventSignalDropped:
		return ChannelSignals
	default:
		return ChannelSessions
	}
}

func (j *Journal) publish(ctx context.Context, ev domain.Event) {
	if j.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		j.logger.WarnContext(ctx, "marshal event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := j.bus.Publish(ctx, channelFor(ev.Type), payload); err != nil {
		j.failed("bus")
		j.logger.WarnContext(ctx, "publish event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	if err := j.bus.StreamAppend(ctx, StreamEvents, payload); err != nil {
		j.failed("stream")
		j.logger.WarnContext(ctx, "stream append failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (j *Journal) notify(ctx context.Context, ev domain.Event) {
	if j.notifier == nil {
		return
	}
	if err := j.notifier.NotifyEvent(ctx, ev); err != nil {
		j.failed("notify")
		j.logger.WarnContext(ctx, "notification failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (j *Journal) auditLog(ctx context.Context, event string, detail map[string]any) {
	if j.stores.Audit == nil {
		return
	}
	if err := j.stores.Audit.Log(ctx, event, detail); err != nil {
		j.failed("audit")
		j.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (j *Journal) failed(target string) {
	if j.metrics != nil {
		j.metrics.SinkErrors.WithLabelValues(target).Inc()
	}
}
