package connection

import "sync"

// Manager hands out one Client per server address for the lifetime of a
// CLI invocation or shell session.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager creates a new connection manager.
func NewManager() *Manager {
	return &Manager{clients: make(map[string]*Client)}
}

// Get returns the client for addr, creating it on first use.
func (m *Manager) Get(addr string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[addr]
	if !ok {
		c = NewClient(addr)
		m.clients[addr] = c
	}
	return c
}

// Len returns the number of open clients.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Close closes every client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for addr, c := range m.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(m.clients, addr)
	}
	return first
}
