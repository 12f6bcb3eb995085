//go:build otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/tracing"
	"github.com/nextlevelbuilder/voiceclaw/internal/tracing/otelexport"
)

// initOTelExporter ships invocation spans to an OTLP collector when
// telemetry is enabled. Only compiled with -tags otel.
func initOTelExporter(ctx context.Context, cfg *config.Config, collector *tracing.Collector) {
	tc := cfg.Telemetry
	if !tc.Enabled || tc.Endpoint == "" {
		slog.Debug("OTel export available but not enabled (set VOICECLAW_OTEL_ENDPOINT)")
		return
	}

	exp, err := otelexport.New(ctx, otelexport.Config{
		Endpoint:    tc.Endpoint,
		Protocol:    tc.Protocol,
		Insecure:    tc.Insecure,
		ServiceName: tc.ServiceName,
		Headers:     tc.Headers,
	})
	if err != nil {
		slog.Warn("failed to create OTel exporter", "error", err)
		return
	}

	collector.SetExporter(exp)
	slog.Info("OpenTelemetry OTLP export enabled", "endpoint", tc.Endpoint, "protocol", tc.Protocol)
}
