package control

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRegistryReplacesConnectionForSameNode(t *testing.T) {
	r := NewRegistry()
	nodeID := uuid.New()

	old := &agentConn{nodeID: nodeID, addr: "10.0.0.1"}
	r.Register(old)
	assert.Equal(t, 1, r.Count())

	replacement := &agentConn{nodeID: nodeID, addr: "10.0.0.2"}
	r.Register(replacement)
	assert.Equal(t, 1, r.Count())

	current, ok := r.Get(nodeID)
	assert.True(t, ok)
	assert.Same(t, replacement, current)
}

func TestRegistryStaleUnregisterKeepsReplacement(t *testing.T) {
	r := NewRegistry()
	nodeID := uuid.New()

	old := &agentConn{nodeID: nodeID}
	r.Register(old)
	replacement := &agentConn{nodeID: nodeID}
	r.Register(replacement)

	// The old connection's teardown runs after the replacement arrived.
	r.Unregister(old)
	current, ok := r.Get(nodeID)
	assert.True(t, ok)
	assert.Same(t, replacement, current)

	r.Unregister(replacement)
	_, ok = r.Get(nodeID)
	assert.False(t, ok)
}

func TestRegistryConnected(t *testing.T) {
	r := NewRegistry()
	a, b := uuid.New(), uuid.New()
	r.Register(&agentConn{nodeID: a})
	r.Register(&agentConn{nodeID: b})

	connected := r.Connected()
	assert.Len(t, connected, 2)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, connected)
}
