// Package http is the server's HTTP control plane: pairing, the bridge
// WebSocket endpoint, voice turns routed through a bridge, and admin reporting.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
	"github.com/nextlevelbuilder/voiceclaw/internal/metrics"
	"github.com/nextlevelbuilder/voiceclaw/internal/pairing"
	"github.com/nextlevelbuilder/voiceclaw/internal/tracing"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

// Deps are the services the router mounts.
type Deps struct {
	Config  *config.Config
	Pairing *pairing.Service
	Gateway *gateway.Server
	Metrics *metrics.Metrics
	Traces  *tracing.Collector
}

// NewRouter builds the full handler tree. Rate limiter cleanup runs until ctx is done.
func NewRouter(ctx context.Context, d Deps) http.Handler {
	cfg := d.Config
	sec := cfg.Security

	router := mux.NewRouter()
	router.Use(requestLogging(d.Metrics))

	router.HandleFunc("/ping", handlePing).Methods(http.MethodGet)
	router.Handle(protocol.BridgePath, d.Gateway).Methods(http.MethodGet)

	NewPairingHandler(d.Pairing, d.Metrics,
		limiter(ctx, "pair_start", sec.PairStart),
		limiter(ctx, "pair_complete", sec.PairComplete),
	).RegisterRoutes(router)
	NewRespondHandler(d.Gateway, cfg.Respond,
		limiter(ctx, "respond", sec.Respond), cfg.Server.MaxBodyBytes,
	).RegisterRoutes(router)
	NewTranscribeHandler(d.Gateway, d.Metrics,
		limiter(ctx, "transcribe", sec.Transcribe), cfg.Server.MaxUploadBytes,
	).RegisterRoutes(router)
	NewGatewayCheckHandler(limiter(ctx, "gateway_test", sec.GatewayTest)).RegisterRoutes(router)
	NewAdminHandler(sec.AdminToken, d.Metrics, d.Traces, d.Gateway, d.Pairing).RegisterRoutes(router)

	var h http.Handler = withSecurityHeaders(withCORS(sec.AllowedOrigins, router))
	if cfg.Server.TrustProxy {
		h = withRealIP(h)
	}
	return h
}

func limiter(ctx context.Context, name string, c config.RateLimitConfig) *gateway.RateLimiter {
	return gateway.NewRateLimiter(ctx, name, c.RPM, c.Burst)
}

func handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ts": time.Now().UnixMilli()})
}
