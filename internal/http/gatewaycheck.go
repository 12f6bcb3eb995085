package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/voiceclaw/internal/backends"
	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
)

const gatewayCheckTimeout = 8 * time.Second

// GatewayCheckHandler lets a web client verify a public OpenAI-compatible
// gateway URL and token before using it.
type GatewayCheckHandler struct {
	limit   *gateway.RateLimiter
	timeout time.Duration
	blocked func(rawURL string) bool
}

func NewGatewayCheckHandler(limit *gateway.RateLimiter) *GatewayCheckHandler {
	return &GatewayCheckHandler{limit: limit, timeout: gatewayCheckTimeout, blocked: isPrivateURL}
}

// RegisterRoutes registers the gateway check route on r.
func (h *GatewayCheckHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/gateway-test",
		rateLimited(h.limit, "Too many gateway tests, wait a minute", h.handleCheck)).
		Methods(http.MethodPost)
}

type gatewayCheckRequest struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

func (h *GatewayCheckHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req gatewayCheckRequest
	if err := decodeJSON(w, r, 0, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "url and token required")
		return
	}
	if h.blocked(req.URL) {
		slog.Warn("security.gateway_check_blocked", "url", req.URL, "ip", clientIP(r))
		writeError(w, http.StatusBadRequest, "Invalid gateway URL")
		return
	}

	err := backends.CheckGateway(r.Context(), req.URL, req.Token, h.timeout)
	if err != nil {
		var upErr *backends.UpstreamError
		if errors.As(err, &upErr) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Gateway returned %d: %s", upErr.Status, truncateRunes(upErr.Message, 120)))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// isPrivateURL reports whether rawURL points at loopback, private, link-local
// or unspecified addresses, or cannot be parsed. Hostnames are not resolved.
func isPrivateURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
