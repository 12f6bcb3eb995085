//go:build !otel

package cmd

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/internal/tracing"
)

// initOTelExporter is a no-op without the "otel" build tag; spans stay in
// the in-memory ring served by /api/admin/traces.
func initOTelExporter(_ context.Context, cfg *config.Config, _ *tracing.Collector) {
	if cfg.Telemetry.Enabled {
		slog.Warn("telemetry enabled in config but this binary was built without -tags otel")
	}
}
