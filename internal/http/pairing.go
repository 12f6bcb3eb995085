package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
	"github.com/nextlevelbuilder/voiceclaw/internal/metrics"
	"github.com/nextlevelbuilder/voiceclaw/internal/pairing"
)

// PairingHandler serves the pairing endpoints a web client and a local bridge
// use to link up.
type PairingHandler struct {
	pairing       *pairing.Service
	metrics       *metrics.Metrics
	startLimit    *gateway.RateLimiter
	completeLimit *gateway.RateLimiter
}

func NewPairingHandler(svc *pairing.Service, m *metrics.Metrics, startLimit, completeLimit *gateway.RateLimiter) *PairingHandler {
	return &PairingHandler{pairing: svc, metrics: m, startLimit: startLimit, completeLimit: completeLimit}
}

// RegisterRoutes registers the pairing routes on r.
func (h *PairingHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/bridge/pair/start",
		rateLimited(h.startLimit, "Too many pair requests, wait a minute", h.handleStart)).
		Methods(http.MethodPost)
	r.HandleFunc("/api/bridge/pair/status/{pairId}", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/bridge/pair/complete",
		rateLimited(h.completeLimit, "Too many pair attempts, wait a minute", h.handleComplete)).
		Methods(http.MethodPost)
}

func (h *PairingHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	res, err := h.pairing.Start()
	if err != nil {
		slog.Error("pairing.start_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not create pair code")
		return
	}
	h.metrics.PairStarted()
	slog.Debug("pairing.start_request", "pair_id", res.PairID, "ip", clientIP(r))
	writeJSON(w, http.StatusOK, res)
}

func (h *PairingHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.pairing.Status(mux.Vars(r)["pairId"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type pairCompleteRequest struct {
	PairCode string          `json:"pairCode"`
	Device   *pairing.Device `json:"device"`
}

type pairCompleteResponse struct {
	OK bool `json:"ok"`
	*pairing.Identity
}

func (h *PairingHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req pairCompleteRequest
	if err := decodeJSON(w, r, 0, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	code := strings.TrimSpace(req.PairCode)
	if code == "" {
		writeError(w, http.StatusBadRequest, "pairCode required")
		return
	}

	id, err := h.pairing.Complete(code, req.Device)
	switch {
	case errors.Is(err, pairing.ErrNotFound):
		h.metrics.PairFailed("not_found")
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, pairing.ErrExpired):
		h.metrics.PairFailed("expired")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.metrics.PairFailed("invalid")
		slog.Error("pairing.complete_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not complete pairing")
		return
	}

	h.metrics.PairCompleted()
	slog.Debug("pairing.complete_request", "pair_id", id.PairID, "ip", clientIP(r))
	writeJSON(w, http.StatusOK, pairCompleteResponse{OK: true, Identity: id})
}
