package backends

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/voiceclaw/internal/tts"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

// TTSAdapter synthesizes MP3 speech with the configured provider.
type TTSAdapter struct {
	provider tts.Provider
	err      error // set when no provider could be built
}

func NewTTSAdapter(cfg tts.Config) *TTSAdapter {
	p, err := tts.New(cfg)
	return &TTSAdapter{provider: p, err: err}
}

func (a *TTSAdapter) Invoke(ctx context.Context, body json.RawMessage) (any, error) {
	if a.err != nil {
		return nil, a.err
	}
	var in protocol.TTSRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("invalid tts request: %w", err)
	}
	if in.Text == "" {
		return nil, ErrNoText
	}
	voice := in.Voice
	if voice == "" {
		voice = tts.DefaultVoice
	}
	res, err := a.provider.Synthesize(ctx, in.Text, tts.Options{Voice: voice, Format: "mp3"})
	if err != nil {
		return nil, err
	}
	return protocol.TTSResult{AudioBase64: base64.StdEncoding.EncodeToString(res.Audio)}, nil
}
