// Package gateway accepts bridge WebSocket connections and lets HTTP handlers
// invoke capabilities on a specific bridge over them.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/voiceclaw/internal/metrics"
	"github.com/nextlevelbuilder/voiceclaw/internal/pairing"
	"github.com/nextlevelbuilder/voiceclaw/internal/tracing"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

// DefaultInvokeTimeout bounds every invocation unless configured otherwise.
const DefaultInvokeTimeout = 15 * time.Second

// Authenticator resolves the wsToken a bridge presents at upgrade.
type Authenticator interface {
	Authenticate(token string) (*pairing.Identity, error)
}

// Config tunes a Server. Zero values select the defaults.
type Config struct {
	InvokeTimeout time.Duration
	Metrics       *metrics.Metrics
	Traces        *tracing.Collector
}

// Server owns the connection registry and the request correlator.
type Server struct {
	auth       Authenticator
	registry   *Registry
	correlator *Correlator
	upgrader   websocket.Upgrader
	timeout    time.Duration
	metrics    *metrics.Metrics
	traces     *tracing.Collector
}

func NewServer(auth Authenticator, cfg Config) *Server {
	timeout := cfg.InvokeTimeout
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	return &Server{
		auth:       auth,
		registry:   NewRegistry(),
		correlator: NewCorrelator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Bridges are native processes authenticated by token, not browsers.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		timeout: timeout,
		metrics: cfg.Metrics,
		traces:  cfg.Traces,
	}
}

// Registry exposes the connection registry.
func (s *Server) Registry() *Registry { return s.registry }

// IsConnected reports whether bridgeID holds a live connection.
func (s *Server) IsConnected(bridgeID string) bool { return s.registry.IsConnected(bridgeID) }

// Stats is a point-in-time view of gateway load.
type Stats struct {
	BridgesOnline int `json:"bridgesOnline"`
	Pending       int `json:"pendingInvocations"`
}

func (s *Server) Stats() Stats {
	return Stats{BridgesOnline: s.registry.Len(), Pending: s.correlator.Len()}
}

// ServeHTTP upgrades a bridge connection. The token comes from the ?token=
// query parameter; a missing or unknown token is refused with close code 1008
// after the upgrade so the bridge can read the reason.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("bridge.upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ident, err := s.auth.Authenticate(token)
	if err != nil {
		reason := protocol.CloseReasonInvalidToken
		if errors.Is(err, pairing.ErrMissingToken) {
			reason = protocol.CloseReasonMissingToken
		}
		slog.Warn("security.bridge_rejected", "remote", r.RemoteAddr, "reason", reason)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(protocol.CloseCodePolicyViolation, reason),
			time.Now().Add(writeWait))
		conn.Close()
		s.metrics.BridgeDisconnected(metricReason(reason), s.registry.Len())
		return
	}

	client := NewClient(conn, s, ident.BridgeID)
	if prev := s.registry.Bind(ident.BridgeID, client); prev != nil {
		slog.Info("bridge.superseded", "bridge_id", ident.BridgeID, "old_client", prev.ID())
		prev.Close(websocket.CloseNormalClosure, protocol.CloseReasonSuperseded)
		s.metrics.BridgeDisconnected("superseded", s.registry.Len())
	}
	s.metrics.BridgeConnected(ident.BridgeID, s.registry.Len())
	slog.Info("bridge.connected", "bridge_id", ident.BridgeID, "client", client.ID(), "remote", r.RemoteAddr)

	client.Run()

	if s.registry.Unbind(ident.BridgeID, client) {
		s.metrics.BridgeDisconnected("closed", s.registry.Len())
	}
	failed := s.correlator.FailClient(client)
	slog.Info("bridge.disconnected", "bridge_id", ident.BridgeID, "client", client.ID(), "failed_pending", failed)
}

// Invoke sends one invocation of kind to bridgeID and waits for its result.
//
// It returns ErrBridgeOffline when the bridge has no live connection or the
// connection drops mid-call, ErrBridgeTimeout when no result arrives in time,
// *BackendError when the bridge reports failure, or ctx.Err() when the caller
// gives up first.
func (s *Server) Invoke(ctx context.Context, bridgeID string, kind protocol.Kind, body any) (json.RawMessage, error) {
	start := time.Now()
	reqID := "req_" + uuid.NewString()

	payload, err := s.invoke(ctx, bridgeID, reqID, kind, body)

	s.record(reqID, bridgeID, kind, start, err)
	return payload, err
}

func (s *Server) invoke(ctx context.Context, bridgeID, reqID string, kind protocol.Kind, body any) (json.RawMessage, error) {
	client, ok := s.registry.Get(bridgeID)
	if !ok || !client.Open() {
		return nil, ErrBridgeOffline
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal invoke body: %w", err)
	}
	frame, err := json.Marshal(protocol.NewInvoke(reqID, kind, raw))
	if err != nil {
		return nil, fmt.Errorf("marshal invoke frame: %w", err)
	}

	ch := s.correlator.Register(reqID, client, s.timeout)
	if err := client.Send(frame); err != nil {
		s.correlator.Cancel(reqID)
		slog.Warn("gateway.send_failed", "bridge_id", bridgeID, "req_id", reqID, "error", err)
		return nil, ErrBridgeOffline
	}

	select {
	case o := <-ch:
		return o.payload, o.err
	case <-ctx.Done():
		if s.correlator.Cancel(reqID) {
			return nil, ctx.Err()
		}
		// Settled concurrently; the outcome is already buffered.
		o := <-ch
		return o.payload, o.err
	}
}

// Shutdown closes every bridge connection; their pending calls fail as offline.
func (s *Server) Shutdown() {
	s.registry.CloseAll(websocket.CloseGoingAway, "server shutdown")
}

func (s *Server) record(reqID, bridgeID string, kind protocol.Kind, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := invokeOutcome(err)

	s.metrics.Invocation(string(kind), outcome, elapsed.Seconds())

	span := tracing.Span{
		Name:      "gateway.invoke",
		Kind:      string(kind),
		BridgeID:  bridgeID,
		RequestID: reqID,
		StartTime: start,
		Duration:  elapsed,
		Status:    tracing.StatusOK,
		Outcome:   outcome,
	}
	if err != nil {
		span.Status = tracing.StatusError
		span.Error = err.Error()
	}
	s.traces.EmitSpan(span)

	slog.Debug("gateway.invoke", "req_id", reqID, "bridge_id", bridgeID, "kind", kind,
		"outcome", outcome, "duration", elapsed)
}

func invokeOutcome(err error) string {
	var be *BackendError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrBridgeOffline):
		return metrics.OutcomeOffline
	case errors.Is(err, ErrBridgeTimeout):
		return metrics.OutcomeTimeout
	case errors.As(err, &be):
		return metrics.OutcomeBackend
	default:
		return metrics.OutcomeCanceled
	}
}

func metricReason(closeReason string) string {
	if closeReason == protocol.CloseReasonMissingToken {
		return "missing_token"
	}
	return "invalid_token"
}
