package backends

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToAnthropic_ExtractsSystem(t *testing.T) {
	req, err := toAnthropic(json.RawMessage(`{"messages":[
		{"role":"system","content":"S"},
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"hello"},
		{"role":"system","content":"ignored"}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, "S", req.System)
	assert.Equal(t, DefaultAnthropicModel, req.Model)
	assert.Equal(t, DefaultAnthropicMaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(req.Messages[0]))
}

func TestToAnthropic_SystemParts(t *testing.T) {
	req, err := toAnthropic(json.RawMessage(`{"model":"claude-x","max_tokens":50,"messages":[
		{"role":"system","content":[{"type":"text","text":"be "},{"type":"text","text":"brief"}]},
		{"role":"user","content":"hi"}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, "be brief", req.System)
	assert.Equal(t, "claude-x", req.Model)
	assert.Equal(t, 50, req.MaxTokens)
}

func TestAnthropicAdapter_Invoke(t *testing.T) {
	var sent map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &sent))
		w.Write([]byte(`{"id":"msg_1","model":"claude-3-5-sonnet-20241022","stop_reason":"end_turn",
			"content":[{"type":"text","text":"Hi there"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	a := NewAnthropicAdapter("sk-ant-test", srv.URL)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }

	out, err := a.Invoke(context.Background(), json.RawMessage(`{"messages":[{"role":"system","content":"S"},{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)

	assert.Equal(t, "S", sent["system"])
	assert.Len(t, sent["messages"], 1)

	resp := out.(openai.ChatCompletionResponse)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, int64(1700000000), resp.Created)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hi there", resp.Choices[0].Message.Content)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, openai.FinishReason("stop"), resp.Choices[0].FinishReason)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.CompletionTokens)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestAnthropicAdapter_StopReasonPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stop_reason":"max_tokens","content":[]}`))
	}))
	defer srv.Close()

	out, err := NewAnthropicAdapter("k", srv.URL).Invoke(context.Background(), json.RawMessage(`{"messages":[]}`))
	require.NoError(t, err)
	resp := out.(openai.ChatCompletionResponse)
	assert.Equal(t, "chatcmpl-bridge", resp.ID)
	assert.Equal(t, DefaultAnthropicModel, resp.Model)
	assert.Equal(t, openai.FinishReason("max_tokens"), resp.Choices[0].FinishReason)
	assert.Empty(t, resp.Choices[0].Message.Content)
}

func TestAnthropicAdapter_Errors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message", 401, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, "invalid x-api-key"},
		{"type only", 429, `{"error":{"type":"rate_limit_error"}}`, "rate_limit_error"},
		{"status", 500, `{}`, "Anthropic HTTP 500"},
		{"not json", 502, `<html>bad gateway</html>`, "Invalid JSON: <html>bad gateway</html>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewAnthropicAdapter("k", srv.URL).Invoke(context.Background(), json.RawMessage(`{"messages":[]}`))
			assert.EqualError(t, err, tc.want)
		})
	}
}

func TestAnthropicAdapter_MissingKey(t *testing.T) {
	_, err := NewAnthropicAdapter("", "").Invoke(context.Background(), json.RawMessage(`{}`))
	assert.EqualError(t, err, "No Anthropic API key configured. Run: voiceclaw config")
}
