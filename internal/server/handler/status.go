package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/autotrader/internal/domain"
	"github.com/alanyoungcy/autotrader/internal/orchestrator"
	"github.com/alanyoungcy/autotrader/internal/queue"
)

// Engine is the slice of the orchestrator the API reads from and submits to.
type Engine interface {
	Status() orchestrator.SystemStatus
	Accounts() []domain.Account
	Sessions(accountID string) ([]domain.Session, error)
	Session(id string) (domain.Session, error)
	Positions(accountID string) ([]domain.Position, error)
	Snapshot(accountID string) (domain.PortfolioSnapshot, error)
	Submit(ctx context.Context, sig domain.Signal) (domain.Signal, error)
	Queue() *queue.Queue
}

// StatusHandler serves the orchestrator and queue status.
type StatusHandler struct {
	engine Engine
	mode   string
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(engine Engine, mode string) *StatusHandler {
	return &StatusHandler{engine: engine, mode: mode}
}

// GetStatus reports the run mode, the queue and every account.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":   h.mode,
		"system": h.engine.Status(),
	})
}

// GetQueue reports the queue status and the most recently processed signals.
// GET /api/queue?limit=20
func (h *StatusHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	q := h.engine.Queue()
	processed := q.Processed(limit)
	if processed == nil {
		processed = []domain.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    q.Status(),
		"processed": processed,
	})
}
