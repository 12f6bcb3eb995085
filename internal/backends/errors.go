package backends

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrNoAudio is returned for a transcribe body without audio.
	ErrNoAudio = errors.New("No audio data")
	// ErrNoText is returned for a tts body without text.
	ErrNoText = errors.New("No text for TTS")
)

// UpstreamError is a non-2xx reply from a backend. Message is sent to the
// server verbatim as the result's error text.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string { return e.Message }

// MissingKeyError names the credential a capability needs before it can run.
type MissingKeyError struct {
	What string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("No %s configured. Run: voiceclaw config", e.What)
}

func missingKey(what string) error { return &MissingKeyError{What: what} }

// openAIError maps a go-openai client error to an UpstreamError. The upstream
// error.message is kept; otherwise statusFormat is filled with the HTTP status.
func openAIError(err error, statusFormat string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf(statusFormat, apiErr.HTTPStatusCode)
		}
		return &UpstreamError{Status: apiErr.HTTPStatusCode, Message: msg}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{Status: reqErr.HTTPStatusCode, Message: fmt.Sprintf(statusFormat, reqErr.HTTPStatusCode)}
	}
	return err
}

// snippet returns at most the first 200 bytes of b for error messages.
func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
