// Package bridge runs the local end of the bridge WebSocket: it keeps one
// outbound connection to the VoiceClaw server alive and answers invoke frames
// through a Handler.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/voiceclaw/internal/config"
	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

// DefaultPingInterval is the keepalive ping period.
const DefaultPingInterval = 30 * time.Second

// ErrInvalidToken is returned by Run when the server refuses the bridge token.
var ErrInvalidToken = errors.New("Server rejected connection: invalid token. Re-pair with a new code.")

// Handler performs one invocation and returns the result payload.
type Handler interface {
	Dispatch(ctx context.Context, kind string, body json.RawMessage) (json.RawMessage, error)
}

// DialFunc opens the WebSocket connection.
type DialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// Endpoint identifies the server and the credentials to present.
type Endpoint struct {
	APIBase  string
	BridgeID string
	Token    string
}

// Config configures a Client. Zero durations select the defaults.
type Config struct {
	Endpoint     Endpoint
	Handler      Handler
	Dial         DialFunc
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration
}

// Client is the bridge connection state machine. Run drives it from a single
// control loop; invocations run concurrently, one goroutine each.
type Client struct {
	handler      Handler
	dial         DialFunc
	backoff      *reconnectBackoff
	pingInterval time.Duration

	mu       sync.Mutex
	endpoint Endpoint
	state    State
	sess     *session
	cancel   context.CancelFunc
	stopped  bool
	onState  []func(State, error)
	onInvoke []func(kind string)
	inflight sync.WaitGroup
}

func NewClient(cfg Config) *Client {
	dial := cfg.Dial
	if dial == nil {
		dial = defaultDial
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = DefaultPingInterval
	}
	return &Client{
		handler:      cfg.Handler,
		dial:         dial,
		backoff:      newReconnectBackoff(cfg.MinBackoff, cfg.MaxBackoff),
		pingInterval: ping,
		endpoint:     cfg.Endpoint,
		state:        StateDisconnected,
	}
}

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{
		"User-Agent": []string{"voiceclaw-bridge"},
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// OnStateChange registers fn to observe every transition. err carries the
// cause for Reconnecting and StoppedFatal.
func (c *Client) OnStateChange(fn func(State, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// OnInvoke registers fn to observe each accepted invoke frame.
func (c *Client) OnInvoke(fn func(kind string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInvoke = append(c.onInvoke, fn)
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetEndpoint replaces the server address or credentials. A live connection
// using different values is dropped and redialed at once.
func (c *Client) SetEndpoint(ep Endpoint) {
	c.mu.Lock()
	changed := ep != c.endpoint
	c.endpoint = ep
	c.mu.Unlock()
	if changed {
		c.Reconnect()
	}
}

// Reconnect drops the current connection and dials again without waiting.
func (c *Client) Reconnect() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		sess.close(websocket.CloseNormalClosure, "reconnecting", true)
	}
}

// Stop closes the connection with 1000 "bridge stopped" and makes Run return nil.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run connects and keeps the connection alive until Stop, ctx cancellation
// (both return nil) or a fatal token rejection (ErrInvalidToken).
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.setState(StateStopped, nil)
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	defer c.inflight.Wait()

	for {
		if ctx.Err() != nil {
			c.setState(StateStopped, nil)
			return nil
		}

		c.setState(StateConnecting, nil)
		conn, err := c.dial(ctx, c.url())
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateStopped, nil)
				return nil
			}
			slog.Warn("bridge.dial_failed", "error", err)
			c.setState(StateReconnecting, err)
			if !c.sleep(ctx) {
				c.setState(StateStopped, nil)
				return nil
			}
			continue
		}

		c.backoff.Reset()
		c.setState(StateConnected, nil)
		sess := newSession(conn)
		err = c.serve(ctx, sess)

		if ctx.Err() != nil {
			c.setState(StateStopped, nil)
			return nil
		}
		if isFatalClose(err) {
			slog.Error("bridge.token_rejected")
			c.setState(StateStoppedFatal, ErrInvalidToken)
			return ErrInvalidToken
		}
		slog.Warn("bridge.disconnected", "error", err)
		c.setState(StateReconnecting, err)
		if sess.shouldRedial() {
			continue
		}
		if !c.sleep(ctx) {
			c.setState(StateStopped, nil)
			return nil
		}
	}
}

// serve runs one connection until it ends and returns the read error.
func (c *Client) serve(ctx context.Context, sess *session) error {
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.sess = nil
		c.mu.Unlock()
	}()

	sess.start(c.pingInterval)
	stop := context.AfterFunc(ctx, func() {
		sess.close(websocket.CloseNormalClosure, protocol.CloseReasonStopped, false)
	})
	defer stop()

	var readErr error
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		c.handleFrame(ctx, sess, data)
	}

	// No close frame of our own is owed once the read side has failed.
	sess.close(0, "", sess.shouldRedial())
	sess.wait()
	sess.conn.Close()
	return readErr
}

func (c *Client) handleFrame(ctx context.Context, sess *session, data []byte) {
	f, err := protocol.ParseInvoke(data)
	if err != nil {
		slog.Debug("bridge.frame_dropped", "error", err)
		return
	}

	c.mu.Lock()
	hooks := c.onInvoke
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(f.Payload.Kind)
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		res := c.execute(ctx, f)
		b, err := json.Marshal(res)
		if err != nil {
			b, _ = json.Marshal(protocol.NewErrorResult(f.ID, fmt.Sprintf("marshal result: %v", err)))
		}
		if err := sess.enqueue(b); err != nil {
			slog.Warn("bridge.result_dropped", "req_id", f.ID, "kind", f.Payload.Kind, "error", err)
		}
	}()
}

// execute always produces exactly one result frame, even if the handler panics.
func (c *Client) execute(ctx context.Context, f *protocol.InvokeFrame) (res *protocol.ResultFrame) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bridge.invoke_panic", "req_id", f.ID, "kind", f.Payload.Kind, "panic", r)
			res = protocol.NewErrorResult(f.ID, fmt.Sprint(r))
		}
	}()

	body := f.Payload.Body
	if len(body) == 0 || string(body) == "null" {
		body = json.RawMessage(`{}`)
	}

	payload, err := c.handler.Dispatch(ctx, f.Payload.Kind, body)
	if err != nil {
		slog.Warn("bridge.invoke_failed", "req_id", f.ID, "kind", f.Payload.Kind, "error", err, "duration", time.Since(start))
		return protocol.NewErrorResult(f.ID, err.Error())
	}
	slog.Debug("bridge.invoke_ok", "req_id", f.ID, "kind", f.Payload.Kind, "duration", time.Since(start))
	return protocol.NewOKResult(f.ID, payload)
}

func (c *Client) sleep(ctx context.Context) bool {
	d := c.backoff.Next()
	slog.Info("bridge.reconnect_scheduled", "delay", d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) url() string {
	c.mu.Lock()
	ep := c.endpoint
	c.mu.Unlock()
	u, err := config.BridgeWSURL(ep.APIBase, protocol.BridgePath, ep.BridgeID, ep.Token)
	if err != nil {
		// Dialing the raw value surfaces the error as a dial failure.
		return ep.APIBase
	}
	return u
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	if c.state == s && err == nil {
		c.mu.Unlock()
		return
	}
	c.state = s
	hooks := c.onState
	c.mu.Unlock()

	slog.Debug("bridge.state", "state", s.String())
	for _, fn := range hooks {
		fn(s, err)
	}
}

// isFatalClose reports a 1008 close whose reason names an invalid token.
func isFatalClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) &&
		ce.Code == protocol.CloseCodePolicyViolation &&
		strings.Contains(ce.Text, protocol.CloseReasonInvalidToken)
}
