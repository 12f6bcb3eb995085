package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/voiceclaw/pkg/protocol"
)

// outcome is the single result delivered to a waiting Invoke.
type outcome struct {
	payload json.RawMessage
	err     error
}

type pendingCall struct {
	ch     chan outcome // cap 1; written exactly once by whoever removes the entry
	timer  *time.Timer
	client *Client
}

// Correlator matches result frames to in-flight invocations by id.
//
// Every path that settles a call (result, timer, disconnect, cancel) first
// removes the map entry under mu; only the remover may deliver, so each call
// sees exactly one outcome.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*pendingCall)}
}

// Register tracks a new call sent through client. If nothing settles it
// within timeout the call resolves with ErrBridgeTimeout.
func (c *Correlator) Register(id string, client *Client, timeout time.Duration) <-chan outcome {
	p := &pendingCall{ch: make(chan outcome, 1), client: client}

	c.mu.Lock()
	c.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() {
		if c.settle(id, outcome{err: ErrBridgeTimeout}) {
			slog.Warn("gateway.invoke_timeout", "req_id", id)
		}
	})
	c.mu.Unlock()

	return p.ch
}

// Resolve delivers a result frame. Unknown or already-settled ids are discarded.
func (c *Correlator) Resolve(frame *protocol.ResultFrame) bool {
	o := outcome{payload: frame.Payload}
	if !frame.OK {
		o = outcome{err: &BackendError{Message: frame.Error}}
	}
	if !c.settle(frame.ID, o) {
		slog.Debug("gateway.result_discarded", "req_id", frame.ID)
		return false
	}
	return true
}

// Fail settles one call with err.
func (c *Correlator) Fail(id string, err error) bool {
	return c.settle(id, outcome{err: err})
}

// Cancel drops a call without delivering anything.
func (c *Correlator) Cancel(id string) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.timer.Stop()
	return true
}

// FailClient rejects every call sent through client with ErrBridgeOffline.
// It returns how many calls were failed.
func (c *Correlator) FailClient(client *Client) int {
	c.mu.Lock()
	var ids []string
	for id, p := range c.pending {
		if p.client == client {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	n := 0
	for _, id := range ids {
		if c.settle(id, outcome{err: ErrBridgeOffline}) {
			n++
		}
	}
	return n
}

// Len returns the number of in-flight calls.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) take(id string) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

func (c *Correlator) settle(id string, o outcome) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.timer.Stop()
	p.ch <- o
	return true
}
