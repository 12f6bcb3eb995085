package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
)

// bridgeStatus is the machine-readable form of `bridge status`.
type bridgeStatus struct {
	Running     bool      `json:"running" yaml:"running"`
	PID         int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	BridgeID    string    `json:"bridgeId" yaml:"bridgeId"`
	APIBase     string    `json:"apiBase" yaml:"apiBase"`
	Backend     string    `json:"backend" yaml:"backend"`
	BackendURL  string    `json:"backendUrl,omitempty" yaml:"backendUrl,omitempty"`
	STT         bool      `json:"stt" yaml:"stt"`
	TTS         bool      `json:"tts" yaml:"tts"`
	TTSProvider string    `json:"ttsProvider" yaml:"ttsProvider"`
	PairedAt    time.Time `json:"pairedAt" yaml:"pairedAt"`
	Config      string    `json:"config" yaml:"config"`
}

func collectStatus(store *config.BridgeStore, cfg *config.BridgeConfig) bridgeStatus {
	st := bridgeStatus{
		BridgeID:    cfg.BridgeID,
		APIBase:     cfg.APIBase,
		Backend:     cfg.BackendType,
		BackendURL:  cfg.BackendURL,
		TTSProvider: cfg.TTSProvider,
		PairedAt:    cfg.PairedAt,
		Config:      store.Path(),
	}
	if st.TTSProvider == "" {
		st.TTSProvider = config.TTSOpenAI
	}
	st.STT, st.TTS = cfg.HasVoiceKeys()
	if pid, _ := store.LoadPID(); pid > 0 && processAlive(pid) {
		st.Running, st.PID = true, pid
	}
	return st
}

func bridgeStatusCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bridge info",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openBridgeStore()
			if err != nil {
				return err
			}
			cfg, err := store.Load()
			if errors.Is(err, config.ErrNotPaired) {
				fmt.Printf("  Not paired. Run: %s\n", styleBold.Render(repairHint))
				return nil
			}
			if err != nil {
				return err
			}

			st := collectStatus(store, cfg)
			if output != "" && output != "text" {
				return printStructured(os.Stdout, output, st)
			}

			printBanner()
			running := styleDim.Render("Stopped")
			if st.Running {
				running = styleOK.Render("Running") + fmt.Sprintf(" (PID %d)", st.PID)
			}
			field("Status", running)
			field("Bridge ID", st.BridgeID)
			field("Server", st.APIBase)
			field("Backend", fmt.Sprintf("%s (%s)", st.Backend, st.BackendURL))
			field("Voice STT", setOrNot(st.STT, "Configured", "Not set"))
			field("Voice TTS", setOrNot(st.TTS, "Configured", "Not set")+styleDim.Render(" "+st.TTSProvider))
			field("Paired", st.PairedAt.Local().Format(time.DateOnly))
			field("Config", st.Config)
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func bridgeStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openBridgeStore()
			if err != nil {
				return err
			}
			pid, stopped, err := stopDaemon(store)
			switch {
			case err != nil:
				return err
			case pid == 0:
				fmt.Println("  No bridge PID found.")
			case !stopped:
				fmt.Println("  Bridge was not running (stale PID removed).")
			default:
				fmt.Printf("  %s Bridge stopped (PID %d)\n", markOK, pid)
			}
			return nil
		},
	}
}

func bridgeUnpairCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "unpair",
		Short: "Stop the bridge and delete its config",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openBridgeStore()
			if err != nil {
				return err
			}
			if !yes {
				ok, err := promptConfirm("Delete the bridge config? You will need a new pair code.", false)
				if err != nil || !ok {
					fmt.Println("  Cancelled.")
					return nil
				}
			}
			if _, _, err := stopDaemon(store); err != nil {
				return err
			}
			if err := store.Delete(); err != nil {
				return fmt.Errorf("delete config: %w", err)
			}
			if err := store.ClearPID(); err != nil {
				return err
			}
			fmt.Printf("  %s Unpaired. Config deleted.\n", markOK)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func bridgeDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Scan this machine for local AI servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := scanBackends(cmd.Context())
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Printf("  %s No local AI detected\n", markFail)
				fmt.Printf("  %s\n", styleDim.Render("Start Ollama, LM Studio, or OpenClaw and try again."))
				return nil
			}
			for _, b := range found {
				note := ""
				switch {
				case b.AutoConfigured:
					note = styleDim.Render(" token auto-configured")
				case b.NeedsToken:
					note = styleWarn.Render(" needs a token")
				}
				fmt.Printf("  %s %-10s %s%s\n", markOK, b.Label, b.URL, note)
			}
			return nil
		},
	}
}

// configAction is one entry of the `bridge config` menu.
type configAction string

const (
	actionOpenAI     configAction = "openai"
	actionGroq       configAction = "groq"
	actionElevenLabs configAction = "elevenlabs"
	actionTTS        configAction = "tts"
	actionBackend    configAction = "backend"
	actionDone       configAction = "done"
)

func bridgeConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Edit bridge settings (voice keys, TTS provider, backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openBridgeStore()
			if err != nil {
				return err
			}
			cfg, err := store.Load()
			if err != nil {
				return err
			}

			printBanner()
			fmt.Printf("  %s\n", styleBold.Render("Current config:"))
			field("Backend", fmt.Sprintf("%s (%s)", cfg.BackendType, cfg.BackendURL))
			field("OpenAI key", setOrNot(cfg.OpenAIKey != "", "set", "not set")+styleDim.Render(" (text-to-speech)"))
			field("Groq key", setOrNot(cfg.GroqKey != "", "set", "not set")+styleDim.Render(" (speech-to-text)"))
			if cfg.TTSProvider == config.TTSElevenLabs {
				field("ElevenLabs", setOrNot(cfg.ElevenLabsKey != "", "set", "not set"))
			}
			fmt.Println()

			action, err := promptSelect("What to configure?", []SelectOption[configAction]{
				{Label: "OpenAI key", Hint: "(text-to-speech)", Value: actionOpenAI},
				{Label: "Groq key", Hint: "(speech-to-text)", Value: actionGroq},
				{Label: "ElevenLabs key", Hint: "(text-to-speech)", Value: actionElevenLabs},
				{Label: "TTS provider", Value: actionTTS},
				{Label: "Change backend", Value: actionBackend},
				{Label: "Done", Value: actionDone},
			}, 0)
			if err != nil {
				return err
			}

			changed, err := applyConfigAction(cmd.Context(), cfg, action)
			if err != nil || !changed {
				return err
			}
			if err := store.Save(cfg); err != nil {
				return err
			}
			fmt.Printf("  %s Saved %s\n\n", markOK, styleDim.Render("(a running bridge picks this up automatically)"))
			return nil
		},
	}
}

// applyConfigAction prompts for the chosen setting and edits cfg. It reports
// whether anything changed.
func applyConfigAction(ctx context.Context, cfg *config.BridgeConfig, action configAction) (bool, error) {
	switch action {
	case actionOpenAI:
		return promptKey(ctx, &cfg.OpenAIKey, "OpenAI API Key", "https://platform.openai.com/api-keys", openAIProbe)
	case actionGroq:
		return promptKey(ctx, &cfg.GroqKey, "Groq API Key", "https://console.groq.com/keys", groqProbe)
	case actionElevenLabs:
		return promptKey(ctx, &cfg.ElevenLabsKey, "ElevenLabs API Key", "https://elevenlabs.io/app/settings/api-keys", elevenLabsProbe)
	case actionTTS:
		p, err := promptSelect("Text-to-speech provider", []SelectOption[string]{
			{Label: "OpenAI", Hint: "(uses the OpenAI key)", Value: config.TTSOpenAI},
			{Label: "ElevenLabs", Hint: "(uses the ElevenLabs key)", Value: config.TTSElevenLabs},
		}, 0)
		if err != nil {
			return false, err
		}
		cfg.TTSProvider = p
		return true, nil
	case actionBackend:
		found, err := scanBackends(ctx)
		if err != nil {
			return false, err
		}
		sel, err := pickBackend("Pick backend:", found)
		if err != nil {
			return false, err
		}
		if err := askToken(&sel); err != nil {
			return false, err
		}
		applyBackend(cfg, sel)
		fmt.Printf("  %s Backend updated to %s\n", markOK, sel.Label)
		return true, nil
	}
	return false, nil
}

// promptKey reads a key into dst and checks it against the upstream. A
// rejected key is not saved.
func promptKey(ctx context.Context, dst *string, title, where string, probe func(key string) authProbe) (bool, error) {
	fmt.Printf("\n  %s\n", styleDim.Render("Get a key at: "+where))
	key, err := promptPassword(title, "")
	if err != nil {
		return false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}

	var verr *verifyError
	_ = withSpinner(ctx, "Checking key...", func(ctx context.Context) error {
		verr = verifyCredential(ctx, nil, probe(key))
		return nil
	})
	switch {
	case verr == nil:
	case verr.fatal:
		return false, errors.New(verr.message)
	default:
		fmt.Printf("  %s Could not verify the key: %s\n", markWarn, verr.message)
	}

	*dst = key
	return true, nil
}
