package storage

import (
	"github.com/google/uuid"

	"github.com/drovercloud/drover/pkg/types"
)

// Store defines the interface for persisting control-service state.
// Implemented by the BoltDB-backed store.
type Store interface {
	// Datasets (desired configuration)
	SaveDataset(dataset *types.Dataset) error
	GetDataset(id uuid.UUID) (*types.Dataset, error)
	ListDatasets() ([]*types.Dataset, error)
	DeleteDataset(id uuid.UUID) error

	// Applications (desired configuration)
	SaveApplication(app *types.Application) error
	GetApplication(name string) (*types.Application, error)
	ListApplications() ([]*types.Application, error)
	DeleteApplication(name string) error

	// Nodes (identity bookkeeping, not liveness)
	SaveNode(node *types.Node) error
	GetNode(id uuid.UUID) (*types.Node, error)
	ListNodes() ([]*types.Node, error)

	// Utility
	Close() error
}
