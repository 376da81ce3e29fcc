package types

import (
	"time"

	"github.com/google/uuid"
)

// Dataset is the desired configuration for a single dataset: where it should
// live and how it is constrained. The control service owns these records;
// agents only ever observe them.
type Dataset struct {
	ID          uuid.UUID         `json:"dataset_id"`
	Primary     uuid.UUID         `json:"primary"` // node that should hold the dataset
	MaximumSize int64             `json:"maximum_size,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Deleted     bool              `json:"deleted"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Application is a workload attached to a dataset. Drover tracks where
// applications should run alongside their datasets; running them is the
// responsibility of whatever container runtime sits on the node.
type Application struct {
	Name    string    `json:"name"`
	Image   string    `json:"image"`
	Node    uuid.UUID `json:"node"`
	Dataset uuid.UUID `json:"dataset,omitempty"`
}

// DesiredState is the cluster-wide target configuration, keyed by dataset ID.
type DesiredState struct {
	Datasets     map[uuid.UUID]*Dataset  `json:"datasets"`
	Applications map[string]*Application `json:"applications"`
}

// NewDesiredState returns an empty desired state with initialized maps.
func NewDesiredState() *DesiredState {
	return &DesiredState{
		Datasets:     make(map[uuid.UUID]*Dataset),
		Applications: make(map[string]*Application),
	}
}

// DatasetsForNode returns the datasets whose primary is the given node,
// excluding deleted ones.
func (d *DesiredState) DatasetsForNode(node uuid.UUID) []*Dataset {
	var out []*Dataset
	for _, ds := range d.Datasets {
		if ds.Primary == node && !ds.Deleted {
			out = append(out, ds)
		}
	}
	return out
}

// ApplicationsForNode returns the applications assigned to the given node.
func (d *DesiredState) ApplicationsForNode(node uuid.UUID) []*Application {
	var out []*Application
	for _, app := range d.Applications {
		if app.Node == node {
			out = append(out, app)
		}
	}
	return out
}

// DatasetInfo is one dataset as observed on a node by its backend.
type DatasetInfo struct {
	ID          uuid.UUID `json:"dataset_id"`
	MaximumSize int64     `json:"maximum_size,omitempty"`
	Path        string    `json:"path,omitempty"`
}

// OperationKind identifies a convergence operation an agent may run.
type OperationKind string

const (
	OperationCreate  OperationKind = "create"
	OperationDestroy OperationKind = "destroy"
	OperationMove    OperationKind = "move"
)

// Operation describes an in-progress backend operation reported by an agent.
type Operation struct {
	Kind      OperationKind `json:"kind"`
	Dataset   uuid.UUID     `json:"dataset"`
	Target    uuid.UUID     `json:"target,omitempty"` // destination node for moves
	StartedAt time.Time     `json:"started_at"`
}

// NodeState is what one agent most recently reported about its node. Owned
// by the agent; the control service aggregates these read-only.
type NodeState struct {
	NodeID       uuid.UUID      `json:"node_id"`
	Address      string         `json:"address,omitempty"`
	Datasets     []*DatasetInfo `json:"datasets"`
	Applications []*Application `json:"applications,omitempty"`
	InProgress   []*Operation   `json:"in_progress,omitempty"`
	Degraded     bool           `json:"degraded"`
	DegradedErr  string         `json:"degraded_error,omitempty"`
	ReportedAt   time.Time      `json:"reported_at"`
}

// HasDataset reports whether the node state contains the given dataset.
func (s *NodeState) HasDataset(id uuid.UUID) bool {
	for _, ds := range s.Datasets {
		if ds.ID == id {
			return true
		}
	}
	return false
}

// Node is the control service's view of a known node: its durable identity
// plus connection bookkeeping. Identity is the certificate UUID, never the
// network address.
type Node struct {
	ID        uuid.UUID `json:"id"`
	Address   string    `json:"address,omitempty"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}
