// Package otelexport ships invocation spans to an OTLP collector.
package otelexport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/voiceclaw/internal/tracing"
)

// DefaultServiceName is reported when Config.ServiceName is empty.
const DefaultServiceName = "voiceclaw-server"

// Config configures the OpenTelemetry OTLP exporter.
type Config struct {
	Endpoint    string            // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            // "grpc" (default) or "http"
	Insecure    bool              // skip TLS for local dev
	ServiceName string            // OTEL service name (default DefaultServiceName)
	Headers     map[string]string // extra headers (auth tokens, etc.)
}

// Exporter converts tracing.Span values to OTel spans and exports them via OTLP.
// It implements tracing.SpanExporter.
type Exporter struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New creates an OTLP exporter with the given config.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("OTLP endpoint is required")
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default: // "grpc"
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(100),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)

	return &Exporter{
		provider: tp,
		tracer:   tp.Tracer("voiceclaw/gateway"),
	}, nil
}

// ExportSpans replays finished spans into the OTel pipeline.
func (e *Exporter) ExportSpans(ctx context.Context, spans []tracing.Span) {
	if e == nil || len(spans) == 0 {
		return
	}
	for _, s := range spans {
		e.exportSpan(ctx, s)
	}
}

func (e *Exporter) exportSpan(ctx context.Context, s tracing.Span) {
	_, span := e.tracer.Start(ctx, s.Name,
		trace.WithTimestamp(s.StartTime),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(spanAttributes(s)...),
	)

	if s.Status == tracing.StatusError {
		span.SetStatus(codes.Error, s.Error)
		if s.Error != "" {
			span.RecordError(errors.New(s.Error))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End(trace.WithTimestamp(s.StartTime.Add(s.Duration)))
}

// spanAttributes maps a span onto OTel attributes. The local ids are kept as
// attributes since the SDK assigns its own trace and span ids.
func spanAttributes(s tracing.Span) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("voiceclaw.invoke.kind", s.Kind),
		attribute.String("voiceclaw.invoke.outcome", s.Outcome),
		attribute.String("voiceclaw.trace_id", s.TraceID.String()),
		attribute.String("voiceclaw.span_id", s.ID.String()),
		attribute.Int64("voiceclaw.duration_ms", s.Duration.Milliseconds()),
	}
	if s.BridgeID != "" {
		attrs = append(attrs, attribute.String("voiceclaw.bridge_id", s.BridgeID))
	}
	if s.RequestID != "" {
		attrs = append(attrs, attribute.String("voiceclaw.request_id", s.RequestID))
	}
	return attrs
}

// Shutdown flushes remaining spans and stops the provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	slog.Info("otel exporter shutting down")
	return e.provider.Shutdown(ctx)
}
