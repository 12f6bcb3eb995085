package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/voiceclaw/internal/backends"
	"github.com/nextlevelbuilder/voiceclaw/internal/bridge"
	"github.com/nextlevelbuilder/voiceclaw/internal/config"
)

func bridgePairCmd() *cobra.Command {
	var daemon bool
	cmd := &cobra.Command{
		Use:   "pair <CODE>",
		Short: "Pair with the code shown on your phone, then start the bridge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, ok := bridge.NormalizePairCode(args[0])
			if !ok {
				return fmt.Errorf("invalid pair code %q (format: VC-XXXX-XXXX)", args[0])
			}
			apiBase, err := resolveAPIBase()
			if err != nil {
				return err
			}
			store, err := openBridgeStore()
			if err != nil {
				return err
			}

			printBanner()
			ctx := cmd.Context()
			backend, err := chooseBackend(ctx)
			if err != nil {
				return err
			}
			cfg, err := pairBridge(ctx, store, apiBase, code, backend)
			if err != nil {
				return err
			}
			if daemon {
				return startDaemon(store)
			}
			return runForeground(store, cfg, false)
		},
	}
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "run in the background after pairing")
	return cmd
}

// chooseBackend scans for local servers. One hit is used as is, several are
// offered in a menu, none falls back to a manual pick that includes cloud APIs.
func chooseBackend(ctx context.Context) (backends.Backend, error) {
	found, err := scanBackends(ctx)
	if err != nil {
		return backends.Backend{}, err
	}

	if len(found) == 0 {
		fmt.Printf("  %s No local AI detected\n\n", markFail)
		fmt.Printf("  %s\n", styleDim.Render("Start Ollama, LM Studio, or OpenClaw and try again."))
		fmt.Printf("  %s\n\n", styleDim.Render("Or use a cloud provider:"))
		return pickBackendManual()
	}

	names := make([]string, len(found))
	for i, b := range found {
		names[i] = fmt.Sprintf("%s on :%d", b.Label, b.Port)
		if b.AutoConfigured {
			names[i] += styleDim.Render(" (auto-configured)")
		}
	}
	fmt.Printf("  %s Found %s\n\n", markOK, strings.Join(names, ", "))

	selected := found[0]
	if len(found) > 1 {
		opts := make([]SelectOption[int], len(found))
		for i, b := range found {
			hint := b.URL
			if b.AutoConfigured {
				hint += ", auto-configured"
			}
			opts[i] = SelectOption[int]{Label: b.Label, Hint: "(" + hint + ")", Value: i}
		}
		idx, err := promptSelect("Which AI backend?", opts, 0)
		if err != nil {
			return backends.Backend{}, err
		}
		selected = found[idx]
	}
	return selected, askToken(&selected)
}

func scanBackends(ctx context.Context) ([]backends.Backend, error) {
	var found []backends.Backend
	err := withSpinner(ctx, "Scanning for local AI...", func(ctx context.Context) error {
		found = (&backends.Detector{}).Detect(ctx)
		return nil
	})
	return found, err
}

func pickBackendManual() (backends.Backend, error) {
	sel, err := pickBackend("Pick your AI backend:", backends.LocalBackends())
	if err != nil {
		return sel, err
	}
	if sel.Type == config.BackendOpenClaw {
		home, _ := os.UserHomeDir()
		if oc, err := backends.LoadOpenClawConfig(home); err == nil && oc.Token != "" {
			fmt.Printf("  %s Auto-detected OpenClaw token\n", markOK)
			sel.Token = oc.Token
			sel.AutoConfigured = true
			sel.Port = oc.Port
			sel.URL = fmt.Sprintf("http://127.0.0.1:%d", oc.Port)
		}
	}
	return sel, askToken(&sel)
}

// pickBackend offers local followed by cloud backends.
func pickBackend(title string, local []backends.Backend) (backends.Backend, error) {
	all := append(slices.Clone(local), backends.CloudBackends...)
	opts := make([]SelectOption[int], len(all))
	for i, b := range all {
		hint := "(cloud)"
		if i < len(local) {
			hint = "(" + strings.TrimPrefix(b.URL, "http://") + ")"
		}
		opts[i] = SelectOption[int]{Label: b.Label, Hint: hint, Value: i}
	}
	idx, err := promptSelect(title, opts, 0)
	if err != nil {
		return backends.Backend{}, err
	}
	sel := all[idx]
	if idx < len(local) && !sel.AutoConfigured {
		raw, err := promptString(sel.Label+" URL", "Enter to keep the default", sel.URL)
		if err != nil {
			return sel, err
		}
		if err := setBackendURL(&sel, raw); err != nil {
			return sel, err
		}
	}
	return sel, nil
}

// setBackendURL points b at raw, e.g. a server on another port or host.
func setBackendURL(b *backends.Backend, raw string) error {
	u, err := config.NormalizeBackendURL(raw)
	if err != nil {
		return err
	}
	b.URL = u
	return nil
}

// askToken prompts for the backend's token unless it has one or needs none.
func askToken(b *backends.Backend) error {
	if !b.NeedsToken || b.Token != "" {
		return nil
	}
	title := b.TokenPrompt
	if title == "" {
		title = b.Label + " token"
	}
	tok, err := promptPassword(title, "")
	if err != nil {
		return err
	}
	b.Token = strings.TrimSpace(tok)
	if b.Token == "" {
		return fmt.Errorf("%s requires a token", b.Label)
	}
	return nil
}

// pairBridge redeems code, then saves the identity and backend choice.
func pairBridge(ctx context.Context, store *config.BridgeStore, apiBase, code string, b backends.Backend) (*config.BridgeConfig, error) {
	var p *bridge.Pairing
	err := withSpinner(ctx, "Pairing with VoiceClaw...", func(ctx context.Context) error {
		var err error
		p, err = bridge.CompletePairing(ctx, nil, apiBase, code, bridge.LocalDevice(Version))
		return err
	})
	if err != nil {
		return nil, err
	}
	fmt.Printf("  %s Paired! Bridge ID: %s\n", markOK, styleBold.Render(p.BridgeID))

	cfg := newBridgeConfig(apiBase, p, b, time.Now())
	if prev, err := store.Load(); err == nil {
		keepVoiceKeys(cfg, prev)
	}
	if err := store.Save(cfg); err != nil {
		return nil, err
	}

	fmt.Println()
	if stt, tts := cfg.HasVoiceKeys(); !stt || !tts {
		fmt.Printf("  %s Voice keys not set, speech won't work yet.\n", markWarn)
		fmt.Printf("  %s %s %s\n\n", styleDim.Render("Run"), styleBold.Render("voiceclaw bridge config"), styleDim.Render("to add OpenAI + Groq keys."))
	}
	return cfg, nil
}

func newBridgeConfig(apiBase string, p *bridge.Pairing, b backends.Backend, now time.Time) *config.BridgeConfig {
	cfg := &config.BridgeConfig{
		APIBase:  apiBase,
		BridgeID: p.BridgeID,
		WSToken:  p.WSToken,
		Scope:    p.Scope,
		PairedAt: now.UTC(),
		Version:  Version,
	}
	applyBackend(cfg, b)
	return cfg
}

// applyBackend points cfg at b. Anthropic keys are kept in AnthropicKey, not
// the backend token.
func applyBackend(cfg *config.BridgeConfig, b backends.Backend) {
	cfg.BackendType = b.Type
	cfg.BackendURL = strings.TrimRight(b.URL, "/")
	cfg.BackendToken = b.Token
	if b.Type == config.BackendAnthropic {
		cfg.AnthropicKey = b.Token
		cfg.BackendToken = ""
	}
}

// keepVoiceKeys carries speech keys over when re-pairing.
func keepVoiceKeys(cfg, prev *config.BridgeConfig) {
	if cfg.OpenAIKey == "" {
		cfg.OpenAIKey = prev.OpenAIKey
	}
	if cfg.GroqKey == "" {
		cfg.GroqKey = prev.GroqKey
	}
	if cfg.ElevenLabsKey == "" {
		cfg.ElevenLabsKey = prev.ElevenLabsKey
	}
	if cfg.TTSProvider == "" {
		cfg.TTSProvider = prev.TTSProvider
	}
}
