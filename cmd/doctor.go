package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/crypto"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment, configuration and connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			if failed := runDoctor(cmd.Context(), offline); failed > 0 {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip network checks")
	return cmd
}

// runDoctor prints a health report and returns the number of fatal problems.
func runDoctor(ctx context.Context, offline bool) int {
	fmt.Println("voiceclaw doctor")
	fmt.Printf("  Version:  %s (bridge path %s)\n", Version, protocol.BridgePath)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	failed := 0

	// Server
	cfgPath := resolveConfigPath()
	fmt.Printf("  Server config: %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}
	if cfg, err := config.Load(cfgPath); err != nil {
		fmt.Printf("    %s %s\n", markFail, err)
		failed++
	} else {
		fmt.Printf("    %-12s %s\n", "Listen:", cfg.Addr())
		fmt.Printf("    %-12s %s\n", "Admin token:", setOrNot(cfg.Security.AdminToken != "", "set", "not set (admin API disabled)"))
		fmt.Printf("    %-12s %s\n", "Telemetry:", setOrNot(cfg.Telemetry.Enabled, cfg.Telemetry.Endpoint, "disabled"))
	}

	// Bridge
	fmt.Println()
	fmt.Printf("  Bridge home: %s\n", config.Home())
	sealer, err := crypto.ResolveSealer()
	switch {
	case err != nil:
		fmt.Printf("    %-12s %s %s\n", "Encryption:", markFail, err)
		failed++
	case sealer == nil:
		fmt.Printf("    %-12s %s\n", "Encryption:", styleWarn.Render("no keyring, secrets stored in plain text"))
	default:
		fmt.Printf("    %-12s %s\n", "Encryption:", styleOK.Render("AES-GCM"))
	}

	store := config.NewBridgeStore(config.Home(), sealer)
	bcfg, err := store.Load()
	if err != nil {
		fmt.Printf("    %-12s %s\n", "Paired:", styleWarn.Render(err.Error()))
	} else {
		st := collectStatus(store, bcfg)
		fmt.Printf("    %-12s %s\n", "Bridge ID:", bcfg.BridgeID)
		fmt.Printf("    %-12s %s\n", "Server:", bcfg.APIBase)
		fmt.Printf("    %-12s %s (%s)\n", "Backend:", bcfg.BackendType, bcfg.BackendURL)
		fmt.Printf("    %-12s %s\n", "Daemon:", setOrNot(st.Running, fmt.Sprintf("running (PID %d)", st.PID), "stopped"))
		fmt.Println()
		fmt.Println("  Keys:")
		checkKey("Backend", bcfg.BackendToken)
		checkKey("Anthropic", bcfg.AnthropicKey)
		checkKey("OpenAI", bcfg.OpenAIKey)
		checkKey("Groq", bcfg.GroqKey)
		checkKey("ElevenLabs", bcfg.ElevenLabsKey)
	}

	if !offline && bcfg != nil {
		fmt.Println()
		fmt.Println("  Connectivity:")
		client := &http.Client{Timeout: verifyTimeout}
		if err := pingServer(ctx, client, bcfg.APIBase); err != nil {
			fmt.Printf("    %s %-18s %s\n", markFail, "Server", explainError(err))
			failed++
		} else {
			fmt.Printf("    %s %-18s OK\n", markOK, "Server")
		}
		failed += len(verifyBridgeKeys(ctx, client, bcfg))
	}

	// External tools
	fmt.Println()
	fmt.Println("  Local AI:")
	checkBinary("ollama")
	checkBinary("openclaw")
	checkBinary("lms")

	fmt.Println()
	if failed > 0 {
		fmt.Printf("Doctor found %d problem(s).\n", failed)
	} else {
		fmt.Println("Doctor check complete.")
	}
	return failed
}

// pingServer checks that apiBase answers /ping.
func pingServer(ctx context.Context, client *http.Client, apiBase string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(apiBase, "/")+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func checkKey(name, key string) {
	if key == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", maskSecret(key))
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s %s\n", name+":", styleDim.Render("not found"))
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
