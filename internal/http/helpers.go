package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

// maxRequestBodySize caps JSON request bodies unless configured otherwise.
const maxRequestBodySize = 1 << 20 // 1MB

// Invoker calls a capability on a connected bridge. *gateway.Server implements it.
type Invoker interface {
	Invoke(ctx context.Context, bridgeID string, kind protocol.Kind, body any) (json.RawMessage, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http.encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeInvokeError maps a gateway invocation failure to a status code,
// keeping the message the caller will show the user.
func writeInvokeError(w http.ResponseWriter, err error) {
	var be *gateway.BackendError
	switch {
	case errors.Is(err, gateway.ErrBridgeOffline):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, gateway.ErrBridgeTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &be):
		writeError(w, http.StatusBadGateway, be.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		writeError(w, http.StatusServiceUnavailable, "Request canceled")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	if limit <= 0 {
		limit = maxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(v)
}

// clientIP returns the peer host of r, without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// forwardedIP returns the first X-Forwarded-For hop, or "".
func forwardedIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

// rateLimited wraps next with a per-IP limiter. msg is the 429 error text.
func rateLimited(rl *gateway.RateLimiter, msg string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, msg)
			return
		}
		next(w, r)
	}
}
