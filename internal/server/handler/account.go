package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// AccountHandler serves per-account views: the live ledger comes from the
// engine, history comes from the stores.
type AccountHandler struct {
	engine    Engine
	trades    domain.TradeStore
	snapshots domain.SnapshotStore
	logger    *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(engine Engine, trades domain.TradeStore, snapshots domain.SnapshotStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		engine:    engine,
		trades:    trades,
		snapshots: snapshots,
		logger:    logger.With(slog.String("handler", "accounts")),
	}
}

// ListAccounts returns the registered accounts.
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.engine.Accounts()
	if accounts == nil {
		accounts = []domain.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// ListPositions returns the account's open positions.
// GET /api/accounts/{id}/positions
func (h *AccountHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	positions, err := h.engine.Positions(id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// GetPortfolio returns the account's current portfolio snapshot.
// GET /api/accounts/{id}/portfolio
func (h *AccountHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListSessions returns the sessions the engine still holds for the account.
// GET /api/accounts/{id}/sessions
func (h *AccountHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.Sessions(r.PathValue("id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// ListTrades returns the account's persisted trades, newest first.
// GET /api/accounts/{id}/trades?limit=&offset=&since=&until=
func (h *AccountHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trades, err := h.trades.ListByAccount(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.String("account", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListSnapshots returns the account's persisted portfolio snapshots, newest
// first.
// GET /api/accounts/{id}/snapshots?limit=&offset=&since=&until=
func (h *AccountHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snaps, err := h.snapshots.ListByAccount(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list snapshots failed",
			slog.String("account", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []domain.PortfolioSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}
