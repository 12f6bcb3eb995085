package backends

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

const (
	DefaultGroqURL     = "https://api.groq.com/openai/v1/audio/transcriptions"
	TranscriptionModel = "whisper-large-v3"
	defaultAudioMime   = "audio/mp4"
	defaultAudioExt    = "mp4"
	maxAudioExtLength  = 8
)

// TranscribeAdapter uploads audio to Groq's Whisper endpoint.
type TranscribeAdapter struct {
	key    string
	url    string
	client *http.Client
}

func NewTranscribeAdapter(key, url string) *TranscribeAdapter {
	if url == "" {
		url = DefaultGroqURL
	}
	return &TranscribeAdapter{key: key, url: url, client: &http.Client{Timeout: DefaultTimeout}}
}

// audioExt returns the filename's extension, or mp4 when it has none usable.
func audioExt(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" || len(ext) > maxAudioExtLength {
		return defaultAudioExt
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultAudioExt
		}
	}
	return ext
}

func (a *TranscribeAdapter) Invoke(ctx context.Context, body json.RawMessage) (any, error) {
	if a.key == "" {
		return nil, missingKey("Groq API key")
	}
	var in protocol.TranscribeRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("invalid transcribe request: %w", err)
	}
	if in.AudioBase64 == "" {
		return nil, ErrNoAudio
	}
	audio, err := base64.StdEncoding.DecodeString(in.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid audioBase64: %w", err)
	}
	mime := in.MimeType
	if mime == "" {
		mime = defaultAudioMime
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="audio.%s"`, audioExt(in.Filename)))
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	if err := mw.WriteField("model", TranscriptionModel); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, &form)
	if err != nil {
		return nil, fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transcription response: %w", err)
	}
	var out struct {
		Text  string `json:"text"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "Invalid JSON from Groq: " + snippet(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("Groq HTTP %d", resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Message: msg}
	}
	return protocol.TranscribeResult{Text: out.Text}, nil
}
