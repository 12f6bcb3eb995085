package bridge

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	closeGrace = 2 * time.Second
	sendBuffer = 64
	// Results may carry base64 TTS audio.
	maxMessageSize = 8 * 1024 * 1024
)

var errSessionClosed = errors.New("connection closed")

// session owns one WebSocket connection: a write pump for results, pings and
// the final close frame. Only the write pump writes data frames.
type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	wg   sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	redial      bool // reconnect immediately after this session ends
}

func newSession(conn *websocket.Conn) *session {
	conn.SetReadLimit(maxMessageSize)
	return &session{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (s *session) start(pingInterval time.Duration) {
	s.wg.Add(1)
	go s.writePump(pingInterval)
}

// enqueue queues a frame, blocking while the buffer is full. It fails once
// the session is closing.
func (s *session) enqueue(b []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- b:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// close asks the write pump to send a close frame. Only the first call counts.
func (s *session) close(code int, reason string, redial bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	s.redial = redial
	close(s.done)
}

func (s *session) shouldRedial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redial
}

// wait blocks until the write pump has exited.
func (s *session) wait() { s.wg.Wait() }

func (s *session) writePump(pingInterval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.conn.Close()
				return
			}

		case <-ticker.C:
			// A failed ping means the connection is gone; the read loop notices.
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.conn.Close()
				return
			}

		case <-s.done:
			s.mu.Lock()
			code, reason := s.closeCode, s.closeReason
			s.mu.Unlock()
			if code != 0 {
				s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
				// Wait briefly for the server's close echo, then give up.
				s.conn.SetReadDeadline(time.Now().Add(closeGrace))
			}
			return
		}
	}
}
