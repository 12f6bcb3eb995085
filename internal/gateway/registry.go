package gateway

import "sync"

// Registry maps a bridgeId to its single live client.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Bind stores client as the live connection for bridgeID and returns the
// client it replaced, if any. The caller closes the previous client.
func (r *Registry) Bind(bridgeID string, client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.clients[bridgeID]
	r.clients[bridgeID] = client
	if prev == client {
		return nil
	}
	return prev
}

// Unbind removes the entry only if it still refers to client, so a
// superseded connection closing late cannot evict its replacement.
func (r *Registry) Unbind(bridgeID string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.clients[bridgeID]; ok && cur == client {
		delete(r.clients, bridgeID)
		return true
	}
	return false
}

// Get returns the live client for bridgeID.
func (r *Registry) Get(bridgeID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[bridgeID]
	return c, ok
}

// IsConnected reports whether bridgeID holds an open connection.
func (r *Registry) IsConnected(bridgeID string) bool {
	c, ok := r.Get(bridgeID)
	return ok && c.Open()
}

// Len returns the number of bound bridges.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// BridgeIDs returns a snapshot of bound bridge ids.
func (r *Registry) BridgeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every bound client with the given code and reason.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.Close(code, reason)
	}
}
