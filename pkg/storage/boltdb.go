package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/drovercloud/drover/pkg/types"
)

var (
	// Bucket names
	bucketDatasets     = []byte("datasets")
	bucketApplications = []byte("applications")
	bucketNodes        = []byte("nodes")
)

// BoltStore implements Store using BoltDB. Desired state survives control
// service restarts; agents that were disconnected pick it up on their next
// successful connection.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "drover.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketDatasets,
			bucketApplications,
			bucketNodes,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Dataset operations
func (s *BoltStore) SaveDataset(dataset *types.Dataset) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatasets)
		data, err := json.Marshal(dataset)
		if err != nil {
			return err
		}
		return b.Put([]byte(dataset.ID.String()), data)
	})
}

func (s *BoltStore) GetDataset(id uuid.UUID) (*types.Dataset, error) {
	var dataset types.Dataset
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatasets)
		data := b.Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("dataset not found: %s", id)
		}
		return json.Unmarshal(data, &dataset)
	})
	if err != nil {
		return nil, err
	}
	return &dataset, nil
}

func (s *BoltStore) ListDatasets() ([]*types.Dataset, error) {
	var datasets []*types.Dataset
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatasets)
		return b.ForEach(func(k, v []byte) error {
			var dataset types.Dataset
			if err := json.Unmarshal(v, &dataset); err != nil {
				return err
			}
			datasets = append(datasets, &dataset)
			return nil
		})
	})
	return datasets, err
}

func (s *BoltStore) DeleteDataset(id uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatasets)
		return b.Delete([]byte(id.String()))
	})
}

// Application operations
func (s *BoltStore) SaveApplication(app *types.Application) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApplications)
		data, err := json.Marshal(app)
		if err != nil {
			return err
		}
		return b.Put([]byte(app.Name), data)
	})
}

func (s *BoltStore) GetApplication(name string) (*types.Application, error) {
	var app types.Application
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApplications)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("application not found: %s", name)
		}
		return json.Unmarshal(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *BoltStore) ListApplications() ([]*types.Application, error) {
	var apps []*types.Application
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApplications)
		return b.ForEach(func(k, v []byte) error {
			var app types.Application
			if err := json.Unmarshal(v, &app); err != nil {
				return err
			}
			apps = append(apps, &app)
			return nil
		})
	})
	return apps, err
}

func (s *BoltStore) DeleteApplication(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApplications)
		return b.Delete([]byte(name))
	})
}

// Node operations
func (s *BoltStore) SaveNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID.String()), data)
	})
}

func (s *BoltStore) GetNode(id uuid.UUID) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("node not found: %s", id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}
