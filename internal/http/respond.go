package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
	"github.com/nextlevelbuilder/voiceclaw/internal/tts"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

const (
	msgEmptyReply = "Bridge returned empty response"
	msgNoAudio    = "Bridge TTS returned no audio"
)

// RespondHandler handles POST /api/respond: one voice turn through the
// caller's bridge, chat reply first and then speech for it.
type RespondHandler struct {
	invoker Invoker
	cfg     config.RespondConfig
	limit   *gateway.RateLimiter
	maxBody int64
}

func NewRespondHandler(invoker Invoker, cfg config.RespondConfig, limit *gateway.RateLimiter, maxBody int64) *RespondHandler {
	return &RespondHandler{invoker: invoker, cfg: cfg, limit: limit, maxBody: maxBody}
}

func (h *RespondHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/respond", rateLimited(h.limit, "Too many requests, slow down", h.handleRespond)).
		Methods(http.MethodPost)
}

type historyMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type respondRequest struct {
	Text     string           `json:"text"`
	History  []historyMessage `json:"history"`
	Voice    string           `json:"voice"`
	BridgeID string           `json:"bridgeId"`
}

type respondResponse struct {
	Text  string `json:"text"`
	Audio string `json:"audio"`
}

// chatReply accepts both chat completions and the responses-style output_text.
type chatReply struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	OutputText string `json:"output_text"`
}

func (h *RespondHandler) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "No text")
		return
	}
	if req.BridgeID == "" {
		writeError(w, http.StatusBadRequest, "bridgeId required")
		return
	}

	reply, err := h.chat(r, req)
	if err != nil {
		slog.Warn("respond.chat_failed", "bridge_id", req.BridgeID, "error", err)
		writeInvokeError(w, err)
		return
	}

	audio, err := h.speak(r, req.BridgeID, reply, h.voice(req.Voice))
	if err != nil {
		slog.Warn("respond.tts_failed", "bridge_id", req.BridgeID, "error", err)
		writeInvokeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, respondResponse{Text: reply, Audio: audio})
}

func (h *RespondHandler) chat(r *http.Request, req respondRequest) (string, error) {
	raw, err := h.invoker.Invoke(r.Context(), req.BridgeID, protocol.KindChatCompletions, protocol.ChatRequest{
		Model:     h.cfg.Model,
		MaxTokens: h.cfg.MaxTokens,
		Messages:  h.buildMessages(req.History, req.Text),
	})
	if err != nil {
		return "", err
	}

	var out chatReply
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &gateway.BackendError{Message: "Bridge returned invalid JSON"}
	}
	text := out.OutputText
	if len(out.Choices) > 0 && out.Choices[0].Message.Content != "" {
		text = out.Choices[0].Message.Content
	}
	if text == "" {
		return "", &gateway.BackendError{Message: msgEmptyReply}
	}
	return text, nil
}

func (h *RespondHandler) speak(r *http.Request, bridgeID, text, voice string) (string, error) {
	raw, err := h.invoker.Invoke(r.Context(), bridgeID, protocol.KindTTS, protocol.TTSRequest{
		Text:  truncateRunes(text, h.cfg.MaxTTSChars),
		Voice: voice,
	})
	if err != nil {
		return "", err
	}
	var out protocol.TTSResult
	if err := json.Unmarshal(raw, &out); err != nil || out.AudioBase64 == "" {
		return "", &gateway.BackendError{Message: msgNoAudio}
	}
	return out.AudioBase64, nil
}

// buildMessages assembles system prompt, the recent history and the user turn.
// History roles other than assistant become user, and non-string content is dropped.
func (h *RespondHandler) buildMessages(history []historyMessage, text string) []protocol.ChatMessage {
	if n := h.cfg.MaxHistory; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	msgs := make([]protocol.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, protocol.ChatMessage{Role: "system", Content: h.cfg.SystemPrompt})
	for _, m := range history {
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		var content string
		if err := json.Unmarshal(m.Content, &content); err != nil {
			content = ""
		}
		msgs = append(msgs, protocol.ChatMessage{Role: role, Content: truncateRunes(content, h.cfg.MaxHistoryChars)})
	}
	msgs = append(msgs, protocol.ChatMessage{Role: "user", Content: truncateRunes(text, h.cfg.MaxUserChars)})
	return msgs
}

func (h *RespondHandler) voice(v string) string {
	if tts.IsOpenAIVoice(v) {
		return v
	}
	if h.cfg.DefaultVoice != "" {
		return h.cfg.DefaultVoice
	}
	return tts.DefaultVoice
}

// truncateRunes keeps at most n runes of s. n <= 0 means no limit.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
