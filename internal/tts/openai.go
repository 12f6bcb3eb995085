package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements TTS via the OpenAI audio/speech API.
type OpenAIProvider struct {
	client *openai.Client
	model  string // default "tts-1"
	voice  string // default "onyx"
}

// OpenAIConfig configures the OpenAI TTS provider.
type OpenAIConfig struct {
	APIKey  string
	APIBase string // default "https://api.openai.com/v1"
	Model   string
	Voice   string
	Timeout time.Duration
}

// NewOpenAIProvider creates an OpenAI TTS provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		oc.BaseURL = cfg.APIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	p := &OpenAIProvider{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		voice:  cfg.Voice,
	}
	if p.model == "" {
		p.model = string(openai.TTSModel1)
	}
	if p.voice == "" {
		p.voice = DefaultVoice
	}
	return p
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Synthesize calls POST {apiBase}/audio/speech.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string, opts Options) (*SynthResult, error) {
	voice := opts.Voice
	if voice == "" {
		voice = p.voice
	}
	model := opts.Model
	if model == "" {
		model = p.model
	}
	format := openai.SpeechResponseFormatMp3
	ext, mime := "mp3", "audio/mpeg"
	if opts.Format == "opus" {
		format = openai.SpeechResponseFormatOpus
		ext, mime = "ogg", "audio/ogg"
	}

	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: format,
	})
	if err != nil {
		return nil, speechError(err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read openai tts response: %w", err)
	}
	return &SynthResult{Audio: audio, Extension: ext, MimeType: mime}, nil
}

// speechError keeps the provider's message and falls back to the HTTP status.
func speechError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: ProviderOpenAI, Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Provider: ProviderOpenAI, Status: reqErr.HTTPStatusCode}
	}
	return fmt.Errorf("openai tts request failed: %w", err)
}
