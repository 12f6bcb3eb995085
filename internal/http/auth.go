package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// extractAdminToken looks for the admin token in the Authorization header,
// then the X-Admin-Token header, then the ?token= query parameter.
func extractAdminToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if token := r.Header.Get("X-Admin-Token"); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// tokenMatch performs a constant-time comparison of a provided token against the expected token.
// An empty expected token never matches.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// requireAdmin guards next with the configured admin token.
// An unset token disables the admin surface entirely.
func requireAdmin(expected string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if expected == "" {
			writeError(w, http.StatusInternalServerError, "VOICECLAW_ADMIN_TOKEN not configured")
			return
		}
		if !tokenMatch(extractAdminToken(r), expected) {
			slog.Warn("security.admin_unauthorized", "path", r.URL.Path, "ip", clientIP(r))
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
