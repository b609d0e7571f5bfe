package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// SessionHandler looks sessions up in the engine first and falls back to the
// session store for sessions the engine no longer holds.
type SessionHandler struct {
	engine Engine
	store  domain.SessionStore
	logger *slog.Logger
}

// NewSessionHandler creates a SessionHandler. store may be nil.
func NewSessionHandler(engine Engine, store domain.SessionStore, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{engine: engine, store: store, logger: logger.With(slog.String("handler", "sessions"))}
}

// GetSession returns one session.
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := h.engine.Session(id)
	if err == nil {
		writeJSON(w, http.StatusOK, sess)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) || h.store == nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	sess, err = h.store.GetByID(r.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "get session failed",
				slog.String("session", id),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ListHistory returns an account's persisted sessions, newest first.
// GET /api/accounts/{id}/history?limit=&offset=&since=&until=
func (h *SessionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "session history not available")
		return
	}
	id := r.PathValue("id")
	sessions, err := h.store.ListByAccount(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list session history failed",
			slog.String("account", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
