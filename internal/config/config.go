// Package config loads server configuration and persists the local bridge configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Config is the server configuration, read from a JSON5 file and overlaid
// with VOICECLAW_* environment variables.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Pairing   PairingConfig   `json:"pairing"`
	Gateway   GatewayConfig   `json:"gateway"`
	Security  SecurityConfig  `json:"security"`
	Respond   RespondConfig   `json:"respond"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Tailscale TailscaleConfig `json:"tailscale"`
	Log       LogConfig       `json:"log"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64 `json:"maxBodyBytes"`
	// MaxUploadBytes caps the audio file accepted by /api/transcribe.
	MaxUploadBytes int64 `json:"maxUploadBytes"`
	// TrustProxy keys rate limits on X-Forwarded-For instead of the peer address.
	TrustProxy bool `json:"trustProxy"`
	// MaxConns caps simultaneous TCP connections, bridges included. 0 means no cap.
	MaxConns int `json:"maxConns"`
}

type PairingConfig struct {
	CodeTTLMinutes int    `json:"codeTtlMinutes"`
	Scope          string `json:"scope"`
}

type GatewayConfig struct {
	InvokeTimeoutSec int `json:"invokeTimeoutSec"`
}

// RateLimitConfig is a token bucket: RPM requests per minute, up to Burst at once.
type RateLimitConfig struct {
	RPM   int `json:"rpm"`
	Burst int `json:"burst"`
}

type SecurityConfig struct {
	AdminToken     string          `json:"adminToken"`
	AllowedOrigins []string        `json:"allowedOrigins"`
	PairStart      RateLimitConfig `json:"pairStart"`
	PairComplete   RateLimitConfig `json:"pairComplete"`
	Respond        RateLimitConfig `json:"respond"`
	Transcribe     RateLimitConfig `json:"transcribe"`
	GatewayTest    RateLimitConfig `json:"gatewayTest"`
}

type RespondConfig struct {
	Model           string `json:"model"`
	MaxTokens       int    `json:"maxTokens"`
	SystemPrompt    string `json:"systemPrompt"`
	DefaultVoice    string `json:"defaultVoice"`
	MaxTTSChars     int    `json:"maxTtsChars"`
	MaxHistory      int    `json:"maxHistory"`
	MaxHistoryChars int    `json:"maxHistoryChars"`
	MaxUserChars    int    `json:"maxUserChars"`
}

type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint"`
	Protocol    string            `json:"protocol"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure"`
	ServiceName string            `json:"serviceName"`
	Headers     map[string]string `json:"headers"`
}

type TailscaleConfig struct {
	Hostname  string `json:"hostname"`
	AuthKey   string `json:"authKey"`
	Ephemeral bool   `json:"ephemeral"`
	StateDir  string `json:"stateDir"`
	EnableTLS bool   `json:"enableTls"`
}

type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// DefaultSystemPrompt steers the assistant towards short spoken replies.
const DefaultSystemPrompt = "You are a voice assistant powered by the user's own AI agent. " +
	"Keep responses SHORT and conversational, this is a voice call, not a chat. " +
	"2-3 sentences max unless asked to go deeper. No bullet points, no markdown, " +
	"just natural speech that sounds good out loud."

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			MaxBodyBytes:   1 << 20,
			MaxUploadBytes: 10 << 20,
			MaxConns:       1024,
		},
		Pairing: PairingConfig{CodeTTLMinutes: 10, Scope: "tools_safe"},
		Gateway: GatewayConfig{InvokeTimeoutSec: 15},
		Security: SecurityConfig{
			AllowedOrigins: []string{
				"https://voiceclaw.io",
				"https://www.voiceclaw.io",
				"http://localhost:3000",
				"http://localhost:5173",
			},
			PairStart:    RateLimitConfig{RPM: 10, Burst: 10},
			PairComplete: RateLimitConfig{RPM: 5, Burst: 5},
			Respond:      RateLimitConfig{RPM: 1, Burst: 60},
			Transcribe:   RateLimitConfig{RPM: 1, Burst: 60},
			GatewayTest:  RateLimitConfig{RPM: 10, Burst: 10},
		},
		Respond: RespondConfig{
			Model:           "claude-sonnet-4-6",
			MaxTokens:       300,
			SystemPrompt:    DefaultSystemPrompt,
			DefaultVoice:    "onyx",
			MaxTTSChars:     500,
			MaxHistory:      20,
			MaxHistoryChars: 2000,
			MaxUserChars:    1000,
		},
		Telemetry: TelemetryConfig{Protocol: "grpc", ServiceName: "voiceclaw-server"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path as JSON5 on top of Default and applies env overrides.
// A missing file is not an error; an empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("server.maxConns must not be negative")
	}
	if c.Gateway.InvokeTimeoutSec <= 0 {
		return fmt.Errorf("gateway.invokeTimeoutSec must be positive")
	}
	if c.Pairing.CodeTTLMinutes <= 0 {
		return fmt.Errorf("pairing.codeTtlMinutes must be positive")
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// InvokeTimeout returns the gateway invocation timeout.
func (c *Config) InvokeTimeout() time.Duration {
	return time.Duration(c.Gateway.InvokeTimeoutSec) * time.Second
}

// CodeTTL returns the pairing code lifetime.
func (c *Config) CodeTTL() time.Duration {
	return time.Duration(c.Pairing.CodeTTLMinutes) * time.Minute
}

func (c *Config) applyEnv() error {
	port := os.Getenv("VOICECLAW_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", port, err)
		}
		c.Server.Port = n
	}
	if v := os.Getenv("VOICECLAW_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("VOICECLAW_TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid VOICECLAW_TRUST_PROXY %q: %w", v, err)
		}
		c.Server.TrustProxy = b
	}
	if v := os.Getenv("VOICECLAW_ADMIN_TOKEN"); v != "" {
		c.Security.AdminToken = v
	}
	if v := os.Getenv("VOICECLAW_ALLOWED_ORIGINS"); v != "" {
		c.Security.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("ALLOWED_ORIGIN"); v != "" {
		c.Security.AllowedOrigins = append(c.Security.AllowedOrigins, v)
	}
	if v := os.Getenv("VOICECLAW_INVOKE_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid VOICECLAW_INVOKE_TIMEOUT_SEC %q: %w", v, err)
		}
		c.Gateway.InvokeTimeoutSec = n
	}
	if v := os.Getenv("VOICECLAW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("VOICECLAW_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("VOICECLAW_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("VOICECLAW_OTEL_PROTOCOL"); v != "" {
		c.Telemetry.Protocol = v
	}
	if v := os.Getenv("VOICECLAW_TSNET_HOSTNAME"); v != "" {
		c.Tailscale.Hostname = v
	}
	if v := os.Getenv("VOICECLAW_TSNET_AUTH_KEY"); v != "" {
		c.Tailscale.AuthKey = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
