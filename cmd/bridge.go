package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/voiceclaw/internal/backends"
	"github.com/nextlevelbuilder/voiceclaw/internal/bridge"
	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/crypto"
)

// apiBaseEnv points the bridge at a self-hosted relay.
const apiBaseEnv = "VOICECLAW_API_BASE"

const repairHint = "voiceclaw bridge pair VC-XXXX-XXXX"

func bridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Pair and run the local bridge next to your AI backend",
	}

	cmd.AddCommand(bridgePairCmd())
	cmd.AddCommand(bridgeRunCmd())
	cmd.AddCommand(bridgeStatusCmd())
	cmd.AddCommand(bridgeStopCmd())
	cmd.AddCommand(bridgeConfigCmd())
	cmd.AddCommand(bridgeUnpairCmd())
	cmd.AddCommand(bridgeDetectCmd())

	return cmd
}

// openBridgeStore opens the state directory with the sealer from the
// environment or the OS keyring.
func openBridgeStore() (*config.BridgeStore, error) {
	sealer, err := crypto.ResolveSealer()
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return config.NewBridgeStore(config.Home(), sealer), nil
}

func resolveAPIBase() (string, error) {
	return config.NormalizeAPIBase(os.Getenv(apiBaseEnv))
}

func endpointOf(cfg *config.BridgeConfig) bridge.Endpoint {
	return bridge.Endpoint{APIBase: cfg.APIBase, BridgeID: cfg.BridgeID, Token: cfg.WSToken}
}

func bridgeRunCmd() *cobra.Command {
	var daemon, foreground bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bridge with the saved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openBridgeStore()
			if err != nil {
				return err
			}
			cfg, err := store.Load()
			if err != nil {
				return err
			}
			if !foreground {
				printBanner()
			}
			if daemon && !foreground {
				return startDaemon(store)
			}
			return runForeground(store, cfg, foreground)
		},
	}
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "run in the background")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run as the background child")
	_ = cmd.Flags().MarkHidden("foreground")
	return cmd
}

// runForeground connects and serves invocations until interrupted. Edits to
// bridge.json are applied without a restart. detached marks the daemon child,
// which removes its own pid file on exit.
func runForeground(store *config.BridgeStore, cfg *config.BridgeConfig, detached bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if detached {
		defer func() {
			if pid, _ := store.LoadPID(); pid == os.Getpid() {
				_ = store.ClearPID()
			}
		}()
	}

	var current atomic.Pointer[config.BridgeConfig]
	current.Store(cfg)

	disp := backends.NewDispatcher(cfg, backends.Endpoints{})
	client := bridge.NewClient(bridge.Config{
		Endpoint: endpointOf(cfg),
		Handler:  disp,
	})

	var announced, connected bool
	client.OnStateChange(func(s bridge.State, err error) {
		switch s {
		case bridge.StateConnected:
			c := current.Load()
			connected = true
			fmt.Printf("  %s Bridge connected %s\n", markOK, styleDim.Render("("+c.BridgeID+")"))
			fmt.Printf("  %s\n", styleDim.Render(fmt.Sprintf("Backend: %s (%s)", c.BackendType, c.BackendURL)))
			if !announced {
				announced = true
				fmt.Printf("\n  %s\n\n", styleDim.Render("Press Ctrl+C to stop."))
			}
		case bridge.StateReconnecting:
			// Only the drop of a live connection is news; repeated dial failures are logged.
			if connected {
				connected = false
				fmt.Printf("  %s\n", styleDim.Render(fmt.Sprintf("Disconnected (%s). Reconnecting...", explainError(err))))
			}
		}
	})
	client.OnInvoke(func(kind string) {
		fmt.Printf("  %s %s\n", markDot, kind)
	})

	if w, err := config.NewWatcher(store); err != nil {
		slog.Warn("config.watcher_unavailable", "error", err)
	} else {
		w.OnChange(func(next *config.BridgeConfig) {
			current.Store(next)
			disp.Update(next)
			client.SetEndpoint(endpointOf(next))
		})
		if err := w.Start(); err != nil {
			slog.Warn("config.watcher_unavailable", "error", err)
		} else {
			defer w.Stop()
		}
	}

	err := client.Run(ctx)
	if errors.Is(err, bridge.ErrInvalidToken) {
		return fmt.Errorf("%w\n\n  %s %s", err, styleDim.Render("Get a new code from your phone and run:"), styleBold.Render(repairHint))
	}
	if err != nil {
		return err
	}
	fmt.Printf("\n  %s\n", styleDim.Render("Stopping bridge..."))
	return nil
}

// startDaemon re-executes this binary as `bridge run --foreground` in its own
// session, appending output to the bridge log.
func startDaemon(store *config.BridgeStore) error {
	if pid, _ := store.LoadPID(); pid > 0 && processAlive(pid) {
		fmt.Printf("  %s Bridge already running (PID %d)\n\n", markWarn, pid)
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(store.Dir(), 0o700); err != nil {
		return err
	}
	logf, err := os.OpenFile(store.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open bridge log: %w", err)
	}
	defer logf.Close()

	child := exec.Command(exe, "bridge", "run", "--foreground")
	child.Stdout = logf
	child.Stderr = logf
	detach(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	pid := child.Process.Pid
	if err := store.SavePID(pid); err != nil {
		return fmt.Errorf("save pid: %w", err)
	}
	_ = child.Process.Release()

	fmt.Printf("  %s Bridge running in background (PID %d)\n", markOK, pid)
	fmt.Printf("  %s\n", styleDim.Render("Log: "+store.LogPath()))
	fmt.Printf("  %s\n\n", styleDim.Render("Stop: voiceclaw bridge stop"))
	return nil
}

// stopDaemon terminates the recorded daemon. It reports the pid and whether a
// live process was signalled; a stale pid file is removed either way.
func stopDaemon(store *config.BridgeStore) (int, bool, error) {
	pid, err := store.LoadPID()
	if err != nil || pid == 0 {
		return 0, false, err
	}
	if !processAlive(pid) {
		return pid, false, store.ClearPID()
	}
	if err := terminate(pid); err != nil {
		return pid, false, fmt.Errorf("could not stop PID %d: %w", pid, err)
	}
	return pid, true, store.ClearPID()
}
