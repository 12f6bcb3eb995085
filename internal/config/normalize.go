package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Backend types a bridge can forward chat completions to.
const (
	BackendOpenClaw   = "openclaw"
	BackendOllama     = "ollama"
	BackendLMStudio   = "lmstudio"
	BackendAnthropic  = "anthropic"
	BackendOpenRouter = "openrouter"
	BackendOpenAI     = "openai"
	BackendCustom     = "custom"
)

// TTS providers.
const (
	TTSOpenAI     = "openai"
	TTSElevenLabs = "elevenlabs"
)

// DefaultAPIBase is the hosted VoiceClaw server.
const DefaultAPIBase = "https://www.voiceclaw.io"

var backendTypes = map[string]bool{
	BackendOpenClaw:   true,
	BackendOllama:     true,
	BackendLMStudio:   true,
	BackendAnthropic:  true,
	BackendOpenRouter: true,
	BackendOpenAI:     true,
	BackendCustom:     true,
}

// NormalizeBackendType lowercases t and checks it is a known backend.
func NormalizeBackendType(t string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(t))
	if !backendTypes[v] {
		return "", fmt.Errorf("unknown backend type %q", t)
	}
	return v, nil
}

// NormalizeBackendURL validates an http(s) URL and strips trailing slashes.
func NormalizeBackendURL(raw string) (string, error) {
	v := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(v)
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("backend url must be http(s)://host, got %q", raw)
	}
	return v, nil
}

// NormalizeAPIBase returns the server base URL, defaulting to DefaultAPIBase.
func NormalizeAPIBase(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultAPIBase, nil
	}
	return NormalizeBackendURL(raw)
}

// BridgeWSURL turns an http(s) API base into the bridge WebSocket endpoint.
func BridgeWSURL(apiBase, path, bridgeID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiBase, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid api base: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("api base must be http(s), got %q", apiBase)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := url.Values{}
	q.Set("bridgeId", bridgeID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
