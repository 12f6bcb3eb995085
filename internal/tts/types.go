// Package tts synthesizes speech for the bridge's tts invoke kind.
//
// Supported providers: OpenAI (default) and ElevenLabs.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// Provider names as stored in the bridge config.
const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
)

// DefaultVoice is the OpenAI voice used when the request names none.
const DefaultVoice = "onyx"

// Provider synthesizes text into audio bytes.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string, opts Options) (*SynthResult, error)
}

// Options controls synthesis parameters.
type Options struct {
	Voice  string // provider-specific voice ID
	Model  string // provider-specific model ID
	Format string // "mp3" (default) or "opus"
}

// SynthResult is the output of a TTS synthesis.
type SynthResult struct {
	Audio     []byte
	Extension string // file extension without dot: "mp3", "ogg"
	MimeType  string // e.g. "audio/mpeg"
}

// Error is a non-2xx reply from a provider. Message carries the provider's own
// error text when it sent one.
type Error struct {
	Provider string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("TTS error %d", e.Status)
}

// openAIVoices are the voice names the web client offers.
var openAIVoices = map[string]bool{
	"alloy": true, "echo": true, "fable": true, "nova": true, "onyx": true, "shimmer": true,
}

// IsOpenAIVoice reports whether v is one of the OpenAI voice names.
func IsOpenAIVoice(v string) bool { return openAIVoices[v] }

// Config selects and configures a provider.
type Config struct {
	Provider      string // "openai" (default) or "elevenlabs"
	OpenAIKey     string
	OpenAIBase    string
	ElevenLabsKey string
	ElevenLabsURL string
}

// New returns the provider named by cfg.Provider, or an error naming the
// missing key when it is not configured.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, errors.New("No OpenAI API key configured. Run: voiceclaw config")
		}
		return NewOpenAIProvider(OpenAIConfig{APIKey: cfg.OpenAIKey, APIBase: cfg.OpenAIBase}), nil
	case ProviderElevenLabs:
		if cfg.ElevenLabsKey == "" {
			return nil, errors.New("No ElevenLabs API key configured. Run: voiceclaw config")
		}
		return NewElevenLabsProvider(ElevenLabsConfig{APIKey: cfg.ElevenLabsKey, BaseURL: cfg.ElevenLabsURL}), nil
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.Provider)
	}
}
