package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/voiceclaw/internal/backends"
	"github.com/nextlevelbuilder/voiceclaw/internal/config"
)

const (
	openAISpeechURL    = "https://api.openai.com/v1/audio/speech"
	elevenLabsProbeURL = "https://api.elevenlabs.io/v1/text-to-speech/probe"
	verifyTimeout      = 10 * time.Second
)

// verifyError holds the result of a credential probe.
type verifyError struct {
	fatal   bool // bad credentials
	message string
}

func (e *verifyError) Error() string { return e.message }

// authProbe is one authenticated upstream endpoint.
type authProbe struct {
	name   string
	url    string
	header http.Header
}

// bridgeProbes lists an endpoint for every credential in cfg. Backends that
// need no token are skipped.
func bridgeProbes(cfg *config.BridgeConfig) []authProbe {
	var out []authProbe

	switch {
	case cfg.BackendType == config.BackendAnthropic && cfg.AnthropicKey != "":
		out = append(out, authProbe{
			name: "Anthropic",
			url:  backends.DefaultAnthropicURL,
			header: http.Header{
				"X-Api-Key":         {cfg.AnthropicKey},
				"Anthropic-Version": {backends.AnthropicVersion},
			},
		})
	case cfg.BackendURL != "" && cfg.BackendToken != "":
		out = append(out, authProbe{
			name:   cfg.BackendType,
			url:    strings.TrimRight(cfg.BackendURL, "/") + "/v1/chat/completions",
			header: bearer(cfg.BackendToken),
		})
	}

	if cfg.GroqKey != "" {
		out = append(out, groqProbe(cfg.GroqKey))
	}
	if cfg.OpenAIKey != "" {
		out = append(out, openAIProbe(cfg.OpenAIKey))
	}
	if cfg.ElevenLabsKey != "" {
		out = append(out, elevenLabsProbe(cfg.ElevenLabsKey))
	}
	return out
}

func groqProbe(key string) authProbe {
	return authProbe{name: "Groq (STT)", url: backends.DefaultGroqURL, header: bearer(key)}
}

func openAIProbe(key string) authProbe {
	return authProbe{name: "OpenAI (TTS)", url: openAISpeechURL, header: bearer(key)}
}

func elevenLabsProbe(key string) authProbe {
	return authProbe{name: "ElevenLabs (TTS)", url: elevenLabsProbeURL, header: http.Header{"Xi-Api-Key": {key}}}
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

// verifyCredential checks whether a key is accepted by POSTing an empty JSON
// body to an endpoint that always requires authentication.
//
//   - 401/403: invalid key (fatal)
//   - 400/404/405/415/422: auth passed, the request itself was rejected
//   - 2xx: accepted
//   - 5xx and transport errors: transient
func verifyCredential(ctx context.Context, client *http.Client, p authProbe) *verifyError {
	if client == nil {
		client = &http.Client{Timeout: verifyTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader("{}"))
	if err != nil {
		return &verifyError{message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range p.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return &verifyError{message: explainError(err)}
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &verifyError{fatal: true, message: fmt.Sprintf("%s returned %d, invalid API key", p.name, code)}
	case code == http.StatusBadRequest, code == http.StatusNotFound, code == http.StatusMethodNotAllowed,
		code == http.StatusUnsupportedMediaType, code == http.StatusUnprocessableEntity:
		return nil
	case code >= 200 && code < 300:
		return nil
	case code >= 500:
		return &verifyError{message: fmt.Sprintf("%s returned %d (transient)", p.name, code)}
	default:
		return &verifyError{message: fmt.Sprintf("%s returned %d (unexpected)", p.name, code)}
	}
}

// verifyBridgeKeys probes every credential in cfg and prints one line each.
// It returns the fatal failures.
func verifyBridgeKeys(ctx context.Context, client *http.Client, cfg *config.BridgeConfig) []string {
	var fatal []string
	for _, p := range bridgeProbes(cfg) {
		verr := verifyCredential(ctx, client, p)
		switch {
		case verr == nil:
			slog.Debug("doctor.key_verified", "upstream", p.name)
			fmt.Printf("    %s %-18s OK\n", markOK, p.name)
		case verr.fatal:
			fmt.Printf("    %s %-18s %s\n", markFail, p.name, verr.message)
			fatal = append(fatal, p.name+": "+verr.message)
		default:
			fmt.Printf("    %s %-18s %s\n", markWarn, p.name, verr.message)
		}
	}
	return fatal
}
