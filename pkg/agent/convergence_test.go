package agent

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drovercloud/drover/pkg/protocol"
	"github.com/drovercloud/drover/pkg/types"
)

func TestPlanCreatesMissingDatasets(t *testing.T) {
	nodeID := uuid.New()
	ds := &types.Dataset{ID: uuid.New(), Primary: nodeID}
	cfg := &protocol.NodeConfiguration{
		NodeID:   nodeID.String(),
		Datasets: []*types.Dataset{ds},
	}

	plan := Plan(cfg, nil)
	require.Len(t, plan, 1)
	assert.Equal(t, types.OperationCreate, plan[0].Kind)
	assert.Equal(t, ds.ID, plan[0].Dataset)
}

func TestPlanIsEmptyWhenConverged(t *testing.T) {
	nodeID := uuid.New()
	ds := &types.Dataset{ID: uuid.New(), Primary: nodeID}
	cfg := &protocol.NodeConfiguration{
		NodeID:   nodeID.String(),
		Datasets: []*types.Dataset{ds},
	}
	local := []*types.DatasetInfo{{ID: ds.ID}}

	assert.Empty(t, Plan(cfg, local))
}

func TestPlanDestroysDeletedDatasets(t *testing.T) {
	nodeID := uuid.New()
	ds := &types.Dataset{ID: uuid.New(), Primary: nodeID, Deleted: true}
	cfg := &protocol.NodeConfiguration{
		NodeID:   nodeID.String(),
		Datasets: []*types.Dataset{ds},
	}

	// Already gone: nothing to do.
	assert.Empty(t, Plan(cfg, nil))

	local := []*types.DatasetInfo{{ID: ds.ID}}
	plan := Plan(cfg, local)
	require.Len(t, plan, 1)
	assert.Equal(t, types.OperationDestroy, plan[0].Kind)
}

func TestPlanMovesReassignedDatasets(t *testing.T) {
	nodeID := uuid.New()
	otherNode := uuid.New()
	ds := &types.Dataset{ID: uuid.New(), Primary: otherNode}
	cfg := &protocol.NodeConfiguration{
		NodeID:   nodeID.String(),
		Datasets: []*types.Dataset{ds},
	}
	local := []*types.DatasetInfo{{ID: ds.ID}}

	plan := Plan(cfg, local)
	require.Len(t, plan, 1)
	assert.Equal(t, types.OperationMove, plan[0].Kind)
	assert.Equal(t, otherNode, plan[0].Target)

	// Not held locally: the destination creates it, nothing to move.
	assert.Empty(t, Plan(cfg, nil))
}

func TestPlanLeavesUnknownDatasetsAlone(t *testing.T) {
	nodeID := uuid.New()
	cfg := &protocol.NodeConfiguration{NodeID: nodeID.String()}
	local := []*types.DatasetInfo{{ID: uuid.New()}, {ID: uuid.New()}}

	assert.Empty(t, Plan(cfg, local))
}

func TestPlanOrdersMixedOperations(t *testing.T) {
	nodeID := uuid.New()
	otherNode := uuid.New()

	toCreate := &types.Dataset{ID: uuid.New(), Primary: nodeID}
	toDestroy := &types.Dataset{ID: uuid.New(), Primary: nodeID, Deleted: true}
	toMove := &types.Dataset{ID: uuid.New(), Primary: otherNode}

	cfg := &protocol.NodeConfiguration{
		NodeID:   nodeID.String(),
		Datasets: []*types.Dataset{toCreate, toDestroy, toMove},
	}
	local := []*types.DatasetInfo{{ID: toDestroy.ID}, {ID: toMove.ID}}

	plan := Plan(cfg, local)
	require.Len(t, plan, 3)

	kinds := map[uuid.UUID]types.OperationKind{}
	for _, op := range plan {
		kinds[op.Dataset] = op.Kind
	}
	assert.Equal(t, types.OperationCreate, kinds[toCreate.ID])
	assert.Equal(t, types.OperationDestroy, kinds[toDestroy.ID])
	assert.Equal(t, types.OperationMove, kinds[toMove.ID])
}
