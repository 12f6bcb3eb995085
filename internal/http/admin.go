package http

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
	"github.com/nextlevelbuilder/voiceclaw/internal/metrics"
	"github.com/nextlevelbuilder/voiceclaw/internal/pairing"
	"github.com/nextlevelbuilder/voiceclaw/internal/tracing"
)

const defaultTraceLimit = 50

// StatsSource reports live gateway load. *gateway.Server implements it.
type StatsSource interface {
	Stats() gateway.Stats
}

// AdminHandler serves operator endpoints behind the admin token.
type AdminHandler struct {
	token   string
	metrics *metrics.Metrics
	traces  *tracing.Collector
	stats   StatsSource
	pairing *pairing.Service
}

func NewAdminHandler(token string, m *metrics.Metrics, traces *tracing.Collector, stats StatsSource, svc *pairing.Service) *AdminHandler {
	return &AdminHandler{token: token, metrics: m, traces: traces, stats: stats, pairing: svc}
}

func (h *AdminHandler) RegisterRoutes(r *mux.Router) {
	r.Handle("/api/admin/metrics", requireAdmin(h.token, http.HandlerFunc(h.handleSummary))).
		Methods(http.MethodGet)
	r.Handle("/api/admin/traces", requireAdmin(h.token, http.HandlerFunc(h.handleTraces))).
		Methods(http.MethodGet)
	r.Handle("/metrics", requireAdmin(h.token, h.metrics.Handler())).Methods(http.MethodGet)
}

func (h *AdminHandler) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Summary(h.stats.Stats().BridgesOnline, h.pairing.Counts().Pending))
}

// handleTraces returns the most recent invocation spans, newest first.
func (h *AdminHandler) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := defaultTraceLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	spans := h.traces.Recent(limit)
	if spans == nil {
		spans = []tracing.Span{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"spans": spans,
		"stats": h.stats.Stats(),
	})
}
