package backends

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/titanous/json5"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
)

const probeTimeout = 2 * time.Second

// Backend describes a chat backend the bridge can forward to.
type Backend struct {
	Type           string
	Label          string
	URL            string
	Port           int
	NeedsToken     bool
	Token          string
	AutoConfigured bool // token read from the backend's own config
	TokenPrompt    string
}

type localProbe struct {
	typ        string
	label      string
	port       int
	path       string
	needsToken bool
}

var localProbes = []localProbe{
	{typ: config.BackendOpenClaw, label: "OpenClaw", port: 18789, path: "/v1/models", needsToken: true},
	{typ: config.BackendOllama, label: "Ollama", port: 11434, path: "/api/tags"},
	{typ: config.BackendLMStudio, label: "LM Studio", port: 1234, path: "/v1/models"},
}

// CloudBackends are offered when nothing local answers.
var CloudBackends = []Backend{
	{Type: config.BackendAnthropic, Label: "Claude", URL: "https://api.anthropic.com", NeedsToken: true, TokenPrompt: "Anthropic API Key (sk-ant-...)"},
	{Type: config.BackendOpenRouter, Label: "OpenRouter", URL: "https://openrouter.ai/api", NeedsToken: true, TokenPrompt: "OpenRouter API Key (sk-or-v1-...)"},
	{Type: config.BackendOpenAI, Label: "OpenAI", URL: "https://api.openai.com", NeedsToken: true, TokenPrompt: "OpenAI API Key (sk-proj-...)"},
}

// LocalBackends lists the local backends at their default ports, for manual
// selection when detection finds nothing.
func LocalBackends() []Backend {
	out := make([]Backend, len(localProbes))
	for i, p := range localProbes {
		out[i] = Backend{
			Type:       p.typ,
			Label:      p.label,
			URL:        fmt.Sprintf("http://127.0.0.1:%d", p.port),
			Port:       p.port,
			NeedsToken: p.needsToken,
		}
		if p.needsToken {
			out[i].TokenPrompt = p.label + " gateway token"
		}
	}
	return out
}

// OpenClawConfig is the part of ~/.openclaw/openclaw.json the bridge reads.
type OpenClawConfig struct {
	Token string
	Port  int
}

// LoadOpenClawConfig reads the gateway token and port from OpenClaw's config
// under home. The file is JSON5.
func LoadOpenClawConfig(home string) (*OpenClawConfig, error) {
	data, err := os.ReadFile(filepath.Join(home, ".openclaw", "openclaw.json"))
	if err != nil {
		return nil, err
	}
	var raw struct {
		Gateway struct {
			Port int `json:"port"`
			Auth struct {
				Token string `json:"token"`
			} `json:"auth"`
		} `json:"gateway"`
	}
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse openclaw config: %w", err)
	}
	cfg := &OpenClawConfig{Token: raw.Gateway.Auth.Token, Port: raw.Gateway.Port}
	if cfg.Port == 0 {
		cfg.Port = 18789
	}
	return cfg, nil
}

// Detector probes well-known local ports for running AI servers.
type Detector struct {
	Host   string // default 127.0.0.1
	Home   string // where .openclaw lives; default the user's home
	Client *http.Client

	probes []localProbe // tests override the well-known ports
}

// Detect probes every known local backend concurrently and returns the ones
// that answered, in a fixed order. Any HTTP response counts as alive.
func (d *Detector) Detect(ctx context.Context) []Backend {
	host := d.Host
	if host == "" {
		host = "127.0.0.1"
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	home := d.Home
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	// Without a readable OpenClaw config the default port is probed.
	oc, _ := LoadOpenClawConfig(home)

	src := d.probes
	if src == nil {
		src = localProbes
	}
	probes := make([]localProbe, len(src))
	copy(probes, src)
	for i := range probes {
		if probes[i].typ == config.BackendOpenClaw && oc != nil {
			probes[i].port = oc.Port
		}
	}

	alive := make([]bool, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		g.Go(func() error {
			alive[i] = probe(gctx, client, fmt.Sprintf("http://%s:%d%s", host, p.port, p.path))
			return nil
		})
	}
	_ = g.Wait()

	var found []Backend
	for i, p := range probes {
		if !alive[i] {
			continue
		}
		b := Backend{
			Type:       p.typ,
			Label:      p.label,
			URL:        fmt.Sprintf("http://%s:%d", host, p.port),
			Port:       p.port,
			NeedsToken: p.needsToken,
		}
		if p.typ == config.BackendOpenClaw && oc != nil && oc.Token != "" {
			b.Token = oc.Token
			b.AutoConfigured = true
		}
		if b.NeedsToken && b.Token == "" {
			b.TokenPrompt = p.label + " gateway token"
		}
		found = append(found, b)
	}
	return found
}

func probe(ctx context.Context, client *http.Client, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
