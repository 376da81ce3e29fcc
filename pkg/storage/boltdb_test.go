package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drovercloud/drover/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDatasetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	dataset := &types.Dataset{
		ID:          uuid.New(),
		Primary:     uuid.New(),
		MaximumSize: 1 << 30,
		Metadata:    map[string]string{"name": "postgres"},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.SaveDataset(dataset))

	got, err := store.GetDataset(dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, dataset.ID, got.ID)
	assert.Equal(t, dataset.Primary, got.Primary)
	assert.Equal(t, dataset.MaximumSize, got.MaximumSize)
	assert.Equal(t, "postgres", got.Metadata["name"])

	datasets, err := store.ListDatasets()
	require.NoError(t, err)
	assert.Len(t, datasets, 1)

	require.NoError(t, store.DeleteDataset(dataset.ID))
	_, err = store.GetDataset(dataset.ID)
	assert.Error(t, err)
}

func TestSaveDatasetIsUpsert(t *testing.T) {
	store := newTestStore(t)

	dataset := &types.Dataset{ID: uuid.New(), Primary: uuid.New()}
	require.NoError(t, store.SaveDataset(dataset))

	// Moving the dataset rewrites the same record
	dataset.Primary = uuid.New()
	require.NoError(t, store.SaveDataset(dataset))

	datasets, err := store.ListDatasets()
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, dataset.Primary, datasets[0].Primary)
}

func TestApplicationRoundTrip(t *testing.T) {
	store := newTestStore(t)

	app := &types.Application{
		Name:    "web",
		Image:   "nginx:latest",
		Node:    uuid.New(),
		Dataset: uuid.New(),
	}
	require.NoError(t, store.SaveApplication(app))

	got, err := store.GetApplication("web")
	require.NoError(t, err)
	assert.Equal(t, app.Image, got.Image)
	assert.Equal(t, app.Node, got.Node)

	require.NoError(t, store.DeleteApplication("web"))
	_, err = store.GetApplication("web")
	assert.Error(t, err)
}

func TestNodeRoundTrip(t *testing.T) {
	store := newTestStore(t)

	node := &types.Node{
		ID:       uuid.New(),
		Address:  "10.0.0.7",
		LastSeen: time.Now(),
	}
	require.NoError(t, store.SaveNode(node))

	got, err := store.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.Address, got.Address)

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBoltStore(dir)
	require.NoError(t, err)

	dataset := &types.Dataset{ID: uuid.New(), Primary: uuid.New()}
	require.NoError(t, store.SaveDataset(dataset))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetDataset(dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, dataset.Primary, got.Primary)
}
