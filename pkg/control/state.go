package control

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drovercloud/drover/pkg/metrics"
	"github.com/drovercloud/drover/pkg/protocol"
	"github.com/drovercloud/drover/pkg/storage"
	"github.com/drovercloud/drover/pkg/types"
)

// stateTTL is how long an agent's report stays current. Reports older
// than this are dropped from aggregate state; the node is unreachable
// and its last word cannot be trusted.
const stateTTL = 30 * time.Second

// StateStore is the single writer of cluster state. Desired state
// mutations go through it to bbolt; actual state reports are aggregated
// in memory only, since each agent re-reports within seconds of
// reconnecting and stale observations are worse than none.
type StateStore struct {
	mu         sync.RWMutex
	store      storage.Store
	generation uint64
	actual     map[uuid.UUID]*types.NodeState
	now        func() time.Time
}

// NewStateStore wraps a persistent store.
func NewStateStore(store storage.Store) *StateStore {
	return &StateStore{
		store:  store,
		actual: make(map[uuid.UUID]*types.NodeState),
		now:    time.Now,
	}
}

// Generation returns the current configuration generation. It increases
// with every desired-state mutation.
func (s *StateStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func (s *StateStore) bump() {
	s.generation++
}

// CreateDataset registers a new dataset. A zero ID gets a fresh UUID;
// a caller-supplied ID must not collide with an existing dataset.
func (s *StateStore) CreateDataset(d *types.Dataset) (*types.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	} else if _, err := s.store.GetDataset(d.ID); err == nil {
		return nil, fmt.Errorf("dataset %s already exists", d.ID)
	}
	if d.Primary == uuid.Nil {
		return nil, fmt.Errorf("dataset requires a primary node")
	}

	now := s.now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Deleted = false

	if err := s.store.SaveDataset(d); err != nil {
		return nil, err
	}
	s.bump()
	return d, nil
}

// MoveDataset reassigns a dataset's primary node. Moving to the current
// primary is a no-op and does not bump the generation.
func (s *StateStore) MoveDataset(id, primary uuid.UUID) (*types.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.store.GetDataset(id)
	if err != nil {
		return nil, err
	}
	if d.Deleted {
		return nil, fmt.Errorf("dataset %s is deleted", id)
	}
	if d.Primary == primary {
		return d, nil
	}

	d.Primary = primary
	d.UpdatedAt = s.now().UTC()
	if err := s.store.SaveDataset(d); err != nil {
		return nil, err
	}
	s.bump()
	return d, nil
}

// ResizeDataset updates a dataset's maximum size.
func (s *StateStore) ResizeDataset(id uuid.UUID, maximumSize int64) (*types.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.store.GetDataset(id)
	if err != nil {
		return nil, err
	}
	if d.Deleted {
		return nil, fmt.Errorf("dataset %s is deleted", id)
	}

	d.MaximumSize = maximumSize
	d.UpdatedAt = s.now().UTC()
	if err := s.store.SaveDataset(d); err != nil {
		return nil, err
	}
	s.bump()
	return d, nil
}

// DeleteDataset marks a dataset deleted. The record survives as a
// tombstone so agents holding the data learn to destroy it; destroying
// records outright would leave orphaned filesystems on disconnected
// nodes.
func (s *StateStore) DeleteDataset(id uuid.UUID) (*types.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.store.GetDataset(id)
	if err != nil {
		return nil, err
	}
	if d.Deleted {
		return d, nil
	}

	d.Deleted = true
	d.UpdatedAt = s.now().UTC()
	if err := s.store.SaveDataset(d); err != nil {
		return nil, err
	}
	s.bump()
	return d, nil
}

// GetDataset returns one dataset record, tombstones included.
func (s *StateStore) GetDataset(id uuid.UUID) (*types.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.GetDataset(id)
}

// ListDatasets returns the configured datasets, excluding tombstones.
func (s *StateStore) ListDatasets() ([]*types.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.store.ListDatasets()
	if err != nil {
		return nil, err
	}
	var datasets []*types.Dataset
	for _, d := range all {
		if !d.Deleted {
			datasets = append(datasets, d)
		}
	}
	return datasets, nil
}

// SaveApplication upserts an application record.
func (s *StateStore) SaveApplication(app *types.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if app.Name == "" {
		return fmt.Errorf("application requires a name")
	}
	if err := s.store.SaveApplication(app); err != nil {
		return err
	}
	s.bump()
	return nil
}

// DeleteApplication removes an application record.
func (s *StateStore) DeleteApplication(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DeleteApplication(name); err != nil {
		return err
	}
	s.bump()
	return nil
}

// ListApplications returns all application records.
func (s *StateStore) ListApplications() ([]*types.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.ListApplications()
}

// RecordNodeState stores an agent's report and refreshes the node's
// durable record. addr is the observed peer address of the agent
// channel, kept for dataset handoffs, never for identity.
func (s *StateStore) RecordNodeState(state *types.NodeState, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.ReportedAt.IsZero() {
		state.ReportedAt = s.now().UTC()
	}
	state.Address = addr
	s.actual[state.NodeID] = state
	metrics.StateReportsReceived.Inc()

	return s.store.SaveNode(&types.Node{
		ID:        state.NodeID,
		Address:   addr,
		Connected: true,
		LastSeen:  s.now().UTC(),
	})
}

// NodeState returns the unexpired report for one node.
func (s *StateStore) NodeState(nodeID uuid.UUID) (*types.NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.actual[nodeID]
	if !ok || s.now().Sub(state.ReportedAt) > stateTTL {
		return nil, false
	}
	return state, true
}

// NodeStates returns all unexpired reports.
func (s *StateStore) NodeStates() []*types.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var states []*types.NodeState
	for _, state := range s.actual {
		if s.now().Sub(state.ReportedAt) <= stateTTL {
			states = append(states, state)
		}
	}
	return states
}

// Nodes returns every node ever registered, with Connected reflecting
// whether an unexpired report exists.
func (s *StateStore) Nodes() ([]*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes, err := s.store.ListNodes()
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		state, ok := s.actual[n.ID]
		n.Connected = ok && s.now().Sub(state.ReportedAt) <= stateTTL
	}
	return nodes, nil
}

// NodeConfiguration builds the slice of desired state one node needs:
// every dataset it should hold, plus every dataset it does hold that
// belongs elsewhere or is deleted, so the agent knows to hand off or
// destroy.
func (s *StateStore) NodeConfiguration(nodeID uuid.UUID) (*protocol.NodeConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.store.ListDatasets()
	if err != nil {
		return nil, err
	}

	held := make(map[uuid.UUID]bool)
	if state, ok := s.actual[nodeID]; ok {
		for _, info := range state.Datasets {
			held[info.ID] = true
		}
	}

	cfg := &protocol.NodeConfiguration{
		Generation: s.generation,
		NodeID:     nodeID.String(),
		Peers:      make(map[string]string),
	}
	for _, d := range all {
		if d.Primary == nodeID || held[d.ID] {
			cfg.Datasets = append(cfg.Datasets, d)
		}
	}

	apps, err := s.store.ListApplications()
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		if app.Node == nodeID {
			cfg.Applications = append(cfg.Applications, app)
		}
	}

	nodes, err := s.store.ListNodes()
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.ID != nodeID && n.Address != "" {
			cfg.Peers[n.ID.String()] = n.Address
		}
	}
	return cfg, nil
}
