package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
)

// OpenClawModel routes requests to the OpenClaw gateway's main agent.
const OpenClawModel = "openclaw:main"

// ChatConfig configures an OpenAI-compatible chat backend.
type ChatConfig struct {
	Backend string // config.Backend* type
	URL     string // base URL without /v1
	Token   string
	Timeout time.Duration
}

// ChatAdapter forwards chatCompletions to {URL}/v1/chat/completions.
type ChatAdapter struct {
	backend string
	url     string
	token   string
	client  *openai.Client
}

func NewChatAdapter(cfg ChatConfig) *ChatAdapter {
	oc := openai.DefaultConfig(cfg.Token)
	oc.BaseURL = strings.TrimRight(cfg.URL, "/") + "/v1"
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}
	return &ChatAdapter{
		backend: cfg.Backend,
		url:     cfg.URL,
		token:   cfg.Token,
		client:  openai.NewClientWithConfig(oc),
	}
}

// RequiresToken reports whether backend refuses unauthenticated requests.
func RequiresToken(backend string) bool {
	switch backend {
	case config.BackendOpenClaw, config.BackendOpenRouter, config.BackendOpenAI, config.BackendAnthropic:
		return true
	}
	return false
}

func (a *ChatAdapter) Invoke(ctx context.Context, body json.RawMessage) (any, error) {
	if a.url == "" {
		return nil, missingKey("backend URL")
	}
	if RequiresToken(a.backend) && a.token == "" {
		return nil, missingKey(a.backend + " token")
	}

	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid chat request: %w", err)
	}
	if a.backend == config.BackendOpenClaw {
		req.Model = OpenClawModel
	}
	req.Stream = false

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, openAIError(err, "Gateway HTTP %d")
	}
	return resp, nil
}

// gatewayCheckModel is the model a connectivity check asks for. Gateways that
// route by agent ignore it.
const gatewayCheckModel = "claude-sonnet-4-6"

// CheckGateway sends a ten-token chat completion to an OpenAI-compatible
// gateway at url. A non-2xx reply comes back as *UpstreamError.
func CheckGateway(ctx context.Context, url, token string, timeout time.Duration) error {
	a := NewChatAdapter(ChatConfig{URL: url, Token: token, Timeout: timeout})
	_, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     gatewayCheckModel,
		MaxTokens: 10,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "say ok"},
		},
	})
	if err != nil {
		return openAIError(err, "Gateway HTTP %d")
	}
	return nil
}
