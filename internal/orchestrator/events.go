package orchestrator

import (
	"context"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/strategy"
)

func (o *Orchestrator) publishSession(ctx context.Context, s *session) {
	rec := s.record()
	o.emit(ctx, domain.Event{
		Type:      domain.EventSessionStatus,
		AccountID: rec.AccountID,
		SessionID: rec.ID,
		Token:     rec.Token,
		Status:    rec.Status,
		Reason:    rec.Reason,
		PnL:       rec.PnL,
		Session:   &rec,
	})
}

// publishTrade reports a ledger mutation together with the position left
// behind, which is nil once the token is fully sold.
func (o *Orchestrator) publishTrade(ctx context.Context, a *account, t domain.Trade, stop float64) {
	ev := domain.Event{
		Type:      domain.EventTradeExecuted,
		AccountID: t.AccountID,
		SessionID: t.SessionID,
		Token:     t.Token,
		Side:      t.Side,
		Quantity:  t.Quantity,
		Price:     t.Price,
		Amount:    t.Amount,
		StopLoss:  stop,
		Reason:    t.Reason,
		Trade:     &t,
		Timestamp: t.ExecutedAt,
	}
	if p, ok := a.ledger.Position(t.Token); ok {
		ev.Position = &p
	}
	o.emit(ctx, ev)
}

func (o *Orchestrator) publishTransition(ctx context.Context, a *account, s *session, tr strategy.Transition, price float64) {
	o.emit(ctx, domain.Event{
		Type:       domain.EventStrategyTransition,
		AccountID:  a.info.ID,
		SessionID:  s.id,
		Token:      s.token,
		Price:      price,
		StopLoss:   tr.StopLoss,
		Transition: string(tr.Kind),
	})
}

func (o *Orchestrator) publishClosed(ctx context.Context, s *session, rt *domain.RoundTrip) {
	pnl, pct := rt.PnL, rt.PnLPercent
	o.emit(ctx, domain.Event{
		Type:       domain.EventPositionClosed,
		AccountID:  rt.AccountID,
		SessionID:  s.id,
		Token:      rt.Token,
		Amount:     rt.Received,
		Reason:     rt.ExitReason,
		PnL:        &pnl,
		PnLPercent: &pct,
		Timestamp:  rt.ClosedAt,
	})
}
