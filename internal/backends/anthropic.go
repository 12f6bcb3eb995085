package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultAnthropicURL       = "https://api.anthropic.com/v1/messages"
	DefaultAnthropicModel     = "claude-3-5-sonnet-20241022"
	DefaultAnthropicMaxTokens = 1024
	AnthropicVersion          = "2023-06-01"
)

// AnthropicAdapter translates an OpenAI-style chat request to the Anthropic
// Messages API and reshapes the reply into a chat.completion.
type AnthropicAdapter struct {
	key    string
	url    string
	client *http.Client
	now    func() time.Time
}

func NewAnthropicAdapter(key, url string) *AnthropicAdapter {
	if url == "" {
		url = DefaultAnthropicURL
	}
	return &AnthropicAdapter{
		key:    key,
		url:    url,
		client: &http.Client{Timeout: DefaultTimeout},
		now:    time.Now,
	}
}

type anthropicRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	System    string            `json:"system,omitempty"`
	Messages  []json.RawMessage `json:"messages"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// toAnthropic pulls the first system message out into the top-level system
// field and passes the remaining messages through unchanged.
func toAnthropic(body json.RawMessage) (*anthropicRequest, error) {
	var in struct {
		Model     string            `json:"model"`
		MaxTokens int               `json:"max_tokens"`
		Messages  []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("invalid chat request: %w", err)
	}

	out := &anthropicRequest{
		Model:     in.Model,
		MaxTokens: in.MaxTokens,
		Messages:  make([]json.RawMessage, 0, len(in.Messages)),
	}
	if out.Model == "" {
		out.Model = DefaultAnthropicModel
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultAnthropicMaxTokens
	}

	seenSystem := false
	for _, raw := range in.Messages {
		var m struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("invalid chat message: %w", err)
		}
		if m.Role != "system" {
			out.Messages = append(out.Messages, raw)
			continue
		}
		if !seenSystem {
			out.System = systemText(m.Content)
			seenSystem = true
		}
	}
	return out, nil
}

// systemText accepts string content or an array of {text} parts.
func systemText(content json.RawMessage) string {
	var s string
	if json.Unmarshal(content, &s) == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if json.Unmarshal(content, &parts) != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (a *AnthropicAdapter) Invoke(ctx context.Context, body json.RawMessage) (any, error) {
	if a.key == "" {
		return nil, missingKey("Anthropic API key")
	}
	areq, err := toAnthropic(body)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(areq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.key)
	req.Header.Set("anthropic-version", AnthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anthropic response: %w", err)
	}

	var ar anthropicResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: "Invalid JSON: " + snippet(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("Anthropic HTTP %d", resp.StatusCode)
		if ar.Error != nil {
			if ar.Error.Message != "" {
				msg = ar.Error.Message
			} else if ar.Error.Type != "" {
				msg = ar.Error.Type
			}
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Message: msg}
	}
	return a.toCompletion(&ar, areq.Model), nil
}

func (a *AnthropicAdapter) toCompletion(ar *anthropicResponse, model string) openai.ChatCompletionResponse {
	id := ar.ID
	if id == "" {
		id = "chatcmpl-bridge"
	}
	if ar.Model != "" {
		model = ar.Model
	}
	var content string
	if len(ar.Content) > 0 {
		content = ar.Content[0].Text
	}
	finish := ar.StopReason
	if finish == "" || finish == "end_turn" {
		finish = "stop"
	}
	return openai.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: a.now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReason(finish),
		}},
		Usage: openai.Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
	}
}
