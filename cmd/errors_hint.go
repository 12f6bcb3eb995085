package cmd

import (
	"log/slog"
	"strings"
)

// explainError turns transport and upstream failures into a short hint.
// Unrecognised errors are returned unchanged.
func explainError(err error) string {
	if err == nil {
		return ""
	}
	raw := err.Error()
	lower := strings.ToLower(raw)

	switch {
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return "request timed out, check the address and your network"
	case strings.Contains(lower, "connection refused"):
		return "connection refused, is the server running?"
	case containsAny(lower, "no such host", "server misbehaving"):
		return "host not found, check the URL"
	case containsAny(lower, "x509", "certificate", "tls:"):
		return "TLS error, check the URL scheme and certificate"
	case containsAny(lower, "invalid api key", "invalid_api_key", "unauthorized", "forbidden", "401", "403"):
		return "authentication failed, check the key"
	case containsAny(lower, "rate limit", "rate_limit", "too many requests", "429"):
		return "rate limited, try again in a minute"
	case containsAny(lower, "billing", "insufficient credits", "credit balance", "payment required", "402"):
		return "billing error, the key may be out of credits"
	case strings.Contains(lower, "overloaded"):
		return "the service is temporarily overloaded"
	}

	slog.Debug("unclassified error", "error", raw)
	return raw
}

// containsAny returns true if s contains any of the given substrings.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
