package control

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/drovercloud/drover/pkg/metrics"
	"github.com/drovercloud/drover/pkg/protocol"
)

// agentConn is one live agent channel. Writes are serialized through a
// mutex because gorilla/websocket allows only one concurrent writer.
type agentConn struct {
	nodeID uuid.UUID
	addr   string
	conn   *websocket.Conn

	writeMu sync.Mutex
}

const agentWriteTimeout = 10 * time.Second

func (c *agentConn) send(env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(agentWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Registry tracks connected agents by node identity. A node's identity
// is its certificate UUID: a reconnecting agent presenting the same
// certificate is the same node regardless of address, and its new
// connection replaces the old one.
type Registry struct {
	mu     sync.RWMutex
	agents map[uuid.UUID]*agentConn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[uuid.UUID]*agentConn)}
}

// Register records a new agent channel, closing any previous channel for
// the same node.
func (r *Registry) Register(c *agentConn) {
	r.mu.Lock()
	previous := r.agents[c.nodeID]
	r.agents[c.nodeID] = c
	metrics.NodesConnected.Set(float64(len(r.agents)))
	r.mu.Unlock()

	if previous != nil && previous.conn != nil {
		previous.conn.Close()
	}
}

// Unregister removes an agent channel, but only if it is still the
// current one; a stale connection's teardown must not evict its
// replacement.
func (r *Registry) Unregister(c *agentConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agents[c.nodeID] == c {
		delete(r.agents, c.nodeID)
		metrics.NodesConnected.Set(float64(len(r.agents)))
	}
}

// Get returns the live channel for a node, if any.
func (r *Registry) Get(nodeID uuid.UUID) (*agentConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.agents[nodeID]
	return c, ok
}

// Connected returns the node IDs with a live channel.
func (r *Registry) Connected() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of connected agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
