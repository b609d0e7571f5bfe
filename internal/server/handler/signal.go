package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/autotrader/internal/domain"
)

// maxSignalBody bounds the POST /api/signals request body.
const maxSignalBody = 64 << 10

// SignalHandler accepts trading signals over HTTP.
type SignalHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(engine Engine, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{engine: engine, logger: logger.With(slog.String("handler", "signals"))}
}

type submitSignalRequest struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Token     string            `json:"token"`
	Symbol    string            `json:"symbol"`
	Kind      string            `json:"kind"`
	Priority  int               `json:"priority"`
	Metadata  map[string]string `json:"metadata"`
}

// SubmitSignal validates and enqueues a signal. Rejections map to 409 for
// duplicates, 404 for unknown accounts and 503 when the queue refuses it.
// POST /api/signals
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var req submitSignalRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignalBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	kind := domain.SignalKind(strings.ToUpper(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = domain.SignalKindGreenFlag
	}

	sig, err := h.engine.Submit(r.Context(), domain.Signal{
		ID:        req.ID,
		AccountID: req.AccountID,
		Token:     token,
		Symbol:    req.Symbol,
		Kind:      kind,
		Priority:  req.Priority,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.logger.InfoContext(r.Context(), "signal rejected",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, sig)
}
