package gateway

import (
	"sync"
)

// ConnManager is the node-local uid -> client map. At most one client
// per uid on this node; a reconnect replaces the old entry and the
// replaced client is handed back to the caller for teardown.
type ConnManager struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewConnManager() *ConnManager {
	return &ConnManager{clients: make(map[string]*Client)}
}

// Register installs the client and returns the one it displaced, if
// any.
func (m *ConnManager) Register(c *Client) (previous *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous = m.clients[c.User.UID]
	m.clients[c.User.UID] = c
	return previous
}

// RemoveIfCurrent deletes uid's entry only when it still points at
// connID. A disconnect handler racing a reconnect must not evict the
// newer client.
func (m *ConnManager) RemoveIfCurrent(uid, connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[uid]
	if !ok || c.ConnID != connID {
		return false
	}
	delete(m.clients, uid)
	return true
}

func (m *ConnManager) Get(uid string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[uid]
	return c, ok
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Each visits every client under the read lock; f must not block.
func (m *ConnManager) Each(f func(*Client)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		f(c)
	}
}
