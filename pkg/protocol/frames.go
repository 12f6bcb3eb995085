// Package protocol defines the wire format spoken between the VoiceClaw server
// and a bridge over the bridge WebSocket. It is importable by third-party bridges.
package protocol

import (
	"encoding/json"
	"strings"
)

// Frame types
const (
	FrameTypeInvoke = "invoke"
	FrameTypeResult = "result"
)

// BridgePath is the HTTP path the bridge WebSocket is served on.
const BridgePath = "/api/bridge/ws"

// Kind names a capability a bridge can be asked to perform.
type Kind string

const (
	KindChatCompletions Kind = "chatCompletions"
	KindTranscribe      Kind = "transcribe"
	KindTTS             Kind = "tts"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindChatCompletions, KindTranscribe, KindTTS}

// ParseKind validates a kind received over the wire.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrUnsupportedKind
}

// InvokeFrame is sent by the server to ask a bridge to perform one call.
type InvokeFrame struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"` // always "invoke"
	Payload InvokePayload `json:"payload"`
}

// InvokePayload carries the requested kind and its kind-specific body.
type InvokePayload struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// ResultFrame is sent by a bridge exactly once per InvokeFrame.
type ResultFrame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"` // always "result"
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"` // when ok=true
	Error   string          `json:"error,omitempty"`   // when ok=false
}

// NewInvoke creates an invoke frame.
func NewInvoke(id string, kind Kind, body json.RawMessage) *InvokeFrame {
	return &InvokeFrame{
		ID:      id,
		Type:    FrameTypeInvoke,
		Payload: InvokePayload{Kind: string(kind), Body: body},
	}
}

// NewOKResult creates a success result frame.
func NewOKResult(id string, payload json.RawMessage) *ResultFrame {
	return &ResultFrame{
		ID:      id,
		Type:    FrameTypeResult,
		OK:      true,
		Payload: payload,
	}
}

// NewErrorResult creates a failure result frame.
func NewErrorResult(id, message string) *ResultFrame {
	return &ResultFrame{
		ID:    id,
		Type:  FrameTypeResult,
		OK:    false,
		Error: message,
	}
}

// ParseInvoke decodes an invoke frame. Invalid JSON, a missing id or a type
// other than "invoke" yield ErrMalformedFrame.
func ParseInvoke(data []byte) (*InvokeFrame, error) {
	var f InvokeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrMalformedFrame
	}
	if strings.TrimSpace(f.ID) == "" || f.Type != FrameTypeInvoke {
		return nil, ErrMalformedFrame
	}
	return &f, nil
}

// ParseResult decodes a result frame with the same rules as ParseInvoke.
func ParseResult(data []byte) (*ResultFrame, error) {
	var f ResultFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrMalformedFrame
	}
	if strings.TrimSpace(f.ID) == "" || f.Type != FrameTypeResult {
		return nil, ErrMalformedFrame
	}
	return &f, nil
}
