// Package cmd implements the voiceclaw command line: the relay server and the
// local bridge that pairs with it.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "0.3.0"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "voiceclaw",
	Short: "VoiceClaw: talk to your own AI agent from your phone",
	Long: "VoiceClaw relays voice turns from the web app to a bridge running next to\n" +
		"your AI backend. Run `voiceclaw serve` for the relay and\n" +
		"`voiceclaw bridge pair VC-XXXX-XXXX` on the machine with the backend.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		setupLogging(level, "text")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "server config file (default: $VOICECLAW_CONFIG or ./voiceclaw.json5)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(bridgeCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(doctorCmd())
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\n  %s %s\n\n", styleFail.Render("Error:"), err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the server config path from the flag, the
// environment, or the default file in the working directory.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("VOICECLAW_CONFIG"); v != "" {
		return v
	}
	return "voiceclaw.json5"
}

// setupLogging installs the default slog handler on stderr.
func setupLogging(level slog.Level, format string) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
