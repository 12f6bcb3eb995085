package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/gateway"
	httpapi "github.com/nextlevelbuilder/voiceclaw/internal/http"
	"github.com/nextlevelbuilder/voiceclaw/internal/metrics"
	"github.com/nextlevelbuilder/voiceclaw/internal/pairing"
	"github.com/nextlevelbuilder/voiceclaw/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server (pairing, bridge gateway, voice API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config and $PORT)")
	return cmd
}

func runServe(cfg *config.Config) error {
	level := parseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	setupLogging(level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	traces := tracing.NewCollector()
	initOTelExporter(ctx, cfg, traces)
	traces.Start()
	defer traces.Stop()

	svc := pairing.NewService(pairing.Config{TTL: cfg.CodeTTL(), Scope: cfg.Pairing.Scope})
	gw := gateway.NewServer(svc, gateway.Config{
		InvokeTimeout: cfg.InvokeTimeout(),
		Metrics:       m,
		Traces:        traces,
	})
	svc.SetPresence(gw)
	svc.StartSweeper(ctx)

	handler := httpapi.NewRouter(ctx, httpapi.Deps{
		Config:  cfg,
		Pairing: svc,
		Gateway: gw,
		Metrics: m,
		Traces:  traces,
	})

	if cfg.Security.AdminToken == "" {
		slog.Warn("VOICECLAW_ADMIN_TOKEN not set; admin endpoints are disabled")
	}

	if stopTS := initTailscale(ctx, cfg, handler); stopTS != nil {
		defer stopTS()
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("voiceclaw server listening", "addr", ln.Addr().String(), "maxConns", cfg.Server.MaxConns, "version", Version)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", cfg.Addr(), err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	// Hijacked bridge connections are not tracked by http.Server.
	gw.Shutdown()
	return nil
}
