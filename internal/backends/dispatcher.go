// Package backends performs bridge invocations against the user's local or
// cloud AI services: OpenAI-compatible chat, Anthropic messages, Groq
// transcription and text-to-speech.
package backends

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/tts"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

// DefaultTimeout bounds one adapter call. It stays below the server's 15s
// invoke timeout so the server sees the backend error rather than a timeout.
const DefaultTimeout = 10 * time.Second

// Adapter performs one invoke kind. The returned value is marshaled as the
// result payload.
type Adapter interface {
	Invoke(ctx context.Context, body json.RawMessage) (any, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, body json.RawMessage) (any, error)

func (f AdapterFunc) Invoke(ctx context.Context, body json.RawMessage) (any, error) {
	return f(ctx, body)
}

// Endpoints overrides upstream URLs. Empty fields use the public APIs.
type Endpoints struct {
	AnthropicURL  string
	GroqURL       string
	OpenAIBase    string
	ElevenLabsURL string
}

// Dispatcher maps invoke kinds to adapters built from the bridge config.
type Dispatcher struct {
	endpoints Endpoints
	timeout   time.Duration

	mu       sync.RWMutex
	adapters map[protocol.Kind]Adapter
}

func NewDispatcher(cfg *config.BridgeConfig, ep Endpoints) *Dispatcher {
	d := &Dispatcher{endpoints: ep, timeout: DefaultTimeout}
	d.Update(cfg)
	return d
}

// Update rebuilds every adapter from cfg. Calls already running keep the
// adapter they started with.
func (d *Dispatcher) Update(cfg *config.BridgeConfig) {
	adapters := map[protocol.Kind]Adapter{
		protocol.KindTranscribe: NewTranscribeAdapter(cfg.GroqKey, d.endpoints.GroqURL),
		protocol.KindTTS: NewTTSAdapter(tts.Config{
			Provider:      cfg.TTSProvider,
			OpenAIKey:     cfg.OpenAIKey,
			OpenAIBase:    d.endpoints.OpenAIBase,
			ElevenLabsKey: cfg.ElevenLabsKey,
			ElevenLabsURL: d.endpoints.ElevenLabsURL,
		}),
	}
	if cfg.BackendType == config.BackendAnthropic {
		adapters[protocol.KindChatCompletions] = NewAnthropicAdapter(cfg.AnthropicKey, d.endpoints.AnthropicURL)
	} else {
		adapters[protocol.KindChatCompletions] = NewChatAdapter(ChatConfig{
			Backend: cfg.BackendType,
			URL:     cfg.BackendURL,
			Token:   cfg.BackendToken,
			Timeout: d.timeout,
		})
	}

	d.mu.Lock()
	d.adapters = adapters
	d.mu.Unlock()
	slog.Debug("backends.updated", "backend", cfg.BackendType, "tts", cfg.TTSProvider)
}

// Register replaces the adapter for kind.
func (d *Dispatcher) Register(kind protocol.Kind, a Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[kind] = a
}

// SetTimeout changes the per-call bound.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = timeout
}

// Dispatch runs kind with body and returns the marshaled payload.
// Unknown kinds yield protocol.ErrUnsupportedKind.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, body json.RawMessage) (json.RawMessage, error) {
	k, err := protocol.ParseKind(kind)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	a, ok := d.adapters[k]
	timeout := d.timeout
	d.mu.RUnlock()
	if !ok {
		return nil, protocol.ErrUnsupportedKind
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := a.Invoke(ctx, body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s backend timed out after %s", k, timeout)
		}
		return nil, err
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", k, err)
	}
	return payload, nil
}
