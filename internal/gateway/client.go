package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

const (
	// maxWSMessageSize is the maximum allowed WebSocket message size (8MB).
	// Transcription and TTS results carry base64 audio, so this is larger than
	// a plain RPC channel would need.
	maxWSMessageSize = 8 * 1024 * 1024

	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

var errSendBufferFull = errors.New("client send buffer full")

// Client is one authenticated bridge WebSocket connection.
type Client struct {
	id        string
	bridgeID  string
	conn      *websocket.Conn
	server    *Server
	send      chan []byte
	done      chan struct{}
	createdAt time.Time

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

func NewClient(conn *websocket.Conn, server *Server, bridgeID string) *Client {
	return &Client{
		id:        uuid.NewString(),
		bridgeID:  bridgeID,
		conn:      conn,
		server:    server,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
}

// Run starts the write pump and blocks in the read pump until the connection ends.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump reads frames from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.markClosed(websocket.CloseNormalClosure, "")
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// Bridges ping every 30s; treat their pings as liveness too.
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("bridge.read_error", "bridge_id", c.bridgeID, "client", c.id, "error", err)
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(data)
	}
}

// writePump writes queued frames and pings, and sends the close frame on Close.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.markClosed(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.markClosed(websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-c.done:
			code, reason := c.closeInfo()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(writeWait))
			return
		}
	}
}

// handleFrame routes result frames to the correlator. Anything else is dropped.
func (c *Client) handleFrame(data []byte) {
	frame, err := protocol.ParseResult(data)
	if err != nil {
		slog.Debug("bridge.frame_dropped", "bridge_id", c.bridgeID, "error", err)
		return
	}
	c.server.correlator.Resolve(frame)
}

// Send queues a frame for the write pump. It fails once the client is closed
// or when the buffer is full.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrBridgeOffline
	}
	select {
	case c.send <- data:
		return nil
	default:
		slog.Warn("client send buffer full, dropping message", "bridge_id", c.bridgeID, "client", c.id)
		return errSendBufferFull
	}
}

// Close sends a close frame with code and reason and ends the connection.
// Safe to call more than once; only the first call takes effect.
func (c *Client) Close(code int, reason string) {
	c.markClosed(code, reason)
}

// Open reports whether the client can still accept frames.
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string { return c.id }

// BridgeID returns the bridge this connection authenticated as.
func (c *Client) BridgeID() string { return c.bridgeID }

// ConnectedAt returns when the connection was accepted.
func (c *Client) ConnectedAt() time.Time { return c.createdAt }

func (c *Client) markClosed(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
}

func (c *Client) closeInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}
