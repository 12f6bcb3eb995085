package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ElevenLabsProvider implements TTS via the ElevenLabs API.
type ElevenLabsProvider struct {
	apiKey  string
	baseURL string
	voiceID string // default "pMsXgVXv3BLzUgSXRplE"
	modelID string // default "eleven_multilingual_v2"
	client  *http.Client
}

// ElevenLabsConfig configures the ElevenLabs TTS provider.
type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string
	Timeout time.Duration
}

// NewElevenLabsProvider creates an ElevenLabs TTS provider.
func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	p := &ElevenLabsProvider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		voiceID: cfg.VoiceID,
		modelID: cfg.ModelID,
	}
	if p.baseURL == "" {
		p.baseURL = "https://api.elevenlabs.io"
	}
	if p.voiceID == "" {
		p.voiceID = "pMsXgVXv3BLzUgSXRplE"
	}
	if p.modelID == "" {
		p.modelID = "eleven_multilingual_v2"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p.client = &http.Client{Timeout: timeout}
	return p
}

func (p *ElevenLabsProvider) Name() string { return ProviderElevenLabs }

// Synthesize calls POST {baseUrl}/v1/text-to-speech/{voiceId}.
// OpenAI voice names from the web client map to the configured default voice.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, opts Options) (*SynthResult, error) {
	voiceID := opts.Voice
	if voiceID == "" || IsOpenAIVoice(voiceID) {
		voiceID = p.voiceID
	}
	modelID := opts.Model
	if modelID == "" {
		modelID = p.modelID
	}

	outputFormat, ext, mime := "mp3_44100_128", "mp3", "audio/mpeg"
	if opts.Format == "opus" {
		outputFormat, ext, mime = "opus_48000_64", "ogg", "audio/ogg"
	}

	bodyJSON, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": modelID,
		"voice_settings": map[string]any{
			"stability":         0.5,
			"similarity_boost":  0.75,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs tts request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", p.baseURL, voiceID, outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{Provider: ProviderElevenLabs, Status: resp.StatusCode, Message: elevenLabsMessage(errBody)}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs tts response: %w", err)
	}
	return &SynthResult{Audio: audio, Extension: ext, MimeType: mime}, nil
}

// elevenLabsMessage extracts detail.message (or a string detail) from an error body.
func elevenLabsMessage(body []byte) string {
	var parsed struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) != nil || len(parsed.Detail) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(parsed.Detail, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(parsed.Detail, &obj) == nil {
		return obj.Message
	}
	return ""
}
