// Package tracing records one span per gateway invocation.
//
// Spans are buffered and flushed periodically into a bounded in-memory ring
// (surfaced by the admin metrics endpoint) and, when an exporter is attached,
// to an external backend such as an OTLP collector.
package tracing

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1000
	defaultRecentSize    = 100
	previewMaxLen        = 500
)

// Span status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Span describes one finished invocation.
type Span struct {
	ID        uuid.UUID     `json:"id"`
	TraceID   uuid.UUID     `json:"traceId"`
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	BridgeID  string        `json:"bridgeId"`
	RequestID string        `json:"requestId"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"durationNs"`
	Status    string        `json:"status"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
}

// SpanExporter is implemented by backends that receive spans in addition to
// the in-memory ring (e.g. OpenTelemetry OTLP). The OTel dependency lives in
// the otelexport sub-package.
type SpanExporter interface {
	ExportSpans(ctx context.Context, spans []Span)
	Shutdown(ctx context.Context) error
}

// Collector buffers spans and flushes them in batches.
type Collector struct {
	spanCh chan Span
	stopCh chan struct{}
	wg     sync.WaitGroup

	flushInterval time.Duration
	verbose       bool

	mu       sync.Mutex
	recent   []Span // ring, oldest first once full
	next     int
	exporter SpanExporter
}

// NewCollector creates a collector.
// Set VOICECLAW_TRACE_VERBOSE=1 to log every flushed span.
func NewCollector() *Collector {
	verbose := os.Getenv("VOICECLAW_TRACE_VERBOSE") != ""
	if verbose {
		slog.Info("tracing: verbose mode enabled (VOICECLAW_TRACE_VERBOSE)")
	}
	return &Collector{
		spanCh:        make(chan Span, defaultBufferSize),
		stopCh:        make(chan struct{}),
		flushInterval: defaultFlushInterval,
		verbose:       verbose,
		recent:        make([]Span, 0, defaultRecentSize),
	}
}

// SetExporter attaches an external span exporter.
func (c *Collector) SetExporter(exp SpanExporter) {
	c.mu.Lock()
	c.exporter = exp
	c.mu.Unlock()
}

// Start begins the background flush loop.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.flushLoop()
	slog.Info("tracing collector started")
}

// Stop flushes remaining spans and shuts the exporter down.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()

	c.mu.Lock()
	exp := c.exporter
	c.mu.Unlock()
	if exp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exp.Shutdown(ctx); err != nil {
			slog.Warn("tracing: span exporter shutdown failed", "error", err)
		}
	}

	slog.Info("tracing collector stopped")
}

// EmitSpan enqueues a span. Non-blocking: drops the span if the buffer is full.
// A nil collector discards everything.
func (c *Collector) EmitSpan(span Span) {
	if c == nil {
		return
	}
	if span.ID == uuid.Nil {
		span.ID = uuid.New()
	}
	if span.TraceID == uuid.Nil {
		span.TraceID = span.ID
	}
	span.Error = truncatePreview(span.Error)

	select {
	case c.spanCh <- span:
	default:
		slog.Warn("tracing: span buffer full, dropping span", "name", span.Name, "kind", span.Kind)
	}
}

// Recent returns up to n of the most recently flushed spans, newest first.
func (c *Collector) Recent(n int) []Span {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	size := len(c.recent)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Span, 0, n)
	for i := 0; i < n; i++ {
		// c.next points one past the newest entry.
		idx := (c.next - 1 - i + size) % size
		out = append(out, c.recent[idx])
	}
	return out
}

// Flush drains buffered spans immediately.
func (c *Collector) Flush() { c.flush() }

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stopCh:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	var spans []Span
drain:
	for {
		select {
		case span := <-c.spanCh:
			spans = append(spans, span)
		default:
			break drain
		}
	}
	if len(spans) == 0 {
		return
	}

	c.mu.Lock()
	for _, s := range spans {
		if len(c.recent) < cap(c.recent) {
			c.recent = append(c.recent, s)
			c.next = len(c.recent) % cap(c.recent)
			continue
		}
		c.recent[c.next] = s
		c.next = (c.next + 1) % len(c.recent)
	}
	exp := c.exporter
	c.mu.Unlock()

	if c.verbose {
		for _, s := range spans {
			slog.Info("tracing.span", "name", s.Name, "kind", s.Kind, "bridge_id", s.BridgeID,
				"outcome", s.Outcome, "duration", s.Duration)
		}
	}
	slog.Debug("tracing: flushed spans", "count", len(spans))

	if exp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		exp.ExportSpans(ctx, spans)
	}
}

// truncatePreview sanitizes and truncates a string to previewMaxLen bytes.
func truncatePreview(s string) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= previewMaxLen {
		return s
	}
	maxLen := previewMaxLen
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
