package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drovercloud/drover/pkg/protocol"
	"github.com/drovercloud/drover/pkg/types"
)

// fakeBackend records operations and lets a test hook run mid-plan.
type fakeBackend struct {
	mu       sync.Mutex
	created  []uuid.UUID
	removed  []uuid.UUID
	moved    []uuid.UUID
	onCreate func()
	err      error
}

func (f *fakeBackend) Create(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	f.created = append(f.created, id)
	f.mu.Unlock()
	if f.onCreate != nil {
		f.onCreate()
	}
	return f.err
}

func (f *fakeBackend) Destroy(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return f.err
}

func (f *fakeBackend) Move(ctx context.Context, id uuid.UUID, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moved = append(f.moved, id)
	return f.err
}

func (f *fakeBackend) CurrentState(ctx context.Context) ([]*types.DatasetInfo, error) {
	return nil, f.err
}

func newTestAgent(b *fakeBackend) *Agent {
	return &Agent{
		nodeID:     uuid.New(),
		backend:    b,
		logger:     zerolog.Nop(),
		inProgress: make(map[uuid.UUID]*types.Operation),
	}
}

func TestConvergeAppliesPlan(t *testing.T) {
	b := &fakeBackend{}
	a := newTestAgent(b)
	a.setGeneration(3)

	cfg := &protocol.NodeConfiguration{Generation: 3, NodeID: a.nodeID.String()}
	plan := []*types.Operation{
		{Kind: types.OperationCreate, Dataset: uuid.New()},
		{Kind: types.OperationDestroy, Dataset: uuid.New()},
	}

	a.converge(context.Background(), cfg, plan)
	assert.Len(t, b.created, 1)
	assert.Len(t, b.removed, 1)
	assert.Empty(t, a.inProgress)
}

func TestConvergeAbandonsSupersededPlan(t *testing.T) {
	b := &fakeBackend{}
	a := newTestAgent(b)
	a.setGeneration(3)

	// A newer configuration arrives while the first operation runs.
	b.onCreate = func() { a.setGeneration(4) }

	cfg := &protocol.NodeConfiguration{Generation: 3, NodeID: a.nodeID.String()}
	plan := []*types.Operation{
		{Kind: types.OperationCreate, Dataset: uuid.New()},
		{Kind: types.OperationDestroy, Dataset: uuid.New()},
	}

	a.converge(context.Background(), cfg, plan)
	assert.Len(t, b.created, 1)
	assert.Empty(t, b.removed, "operations after supersession must not run")
}

func TestConvergeSkipsMoveWithoutPeerAddress(t *testing.T) {
	b := &fakeBackend{}
	a := newTestAgent(b)

	target := uuid.New()
	cfg := &protocol.NodeConfiguration{NodeID: a.nodeID.String()}
	plan := []*types.Operation{
		{Kind: types.OperationMove, Dataset: uuid.New(), Target: target},
	}

	a.converge(context.Background(), cfg, plan)
	assert.Empty(t, b.moved)
}

func TestConvergeMovesToPeerAddress(t *testing.T) {
	b := &fakeBackend{}
	a := newTestAgent(b)

	target := uuid.New()
	cfg := &protocol.NodeConfiguration{
		NodeID: a.nodeID.String(),
		Peers:  map[string]string{target.String(): "10.0.0.9"},
	}
	ds := uuid.New()
	plan := []*types.Operation{
		{Kind: types.OperationMove, Dataset: ds, Target: target},
	}

	a.converge(context.Background(), cfg, plan)
	require.Len(t, b.moved, 1)
	assert.Equal(t, ds, b.moved[0])
}

func TestGenerationNeverRegresses(t *testing.T) {
	a := newTestAgent(&fakeBackend{})
	a.setGeneration(5)
	a.setGeneration(2)
	assert.Equal(t, uint64(5), a.latestGeneration())
}
