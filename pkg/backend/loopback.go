package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/drovercloud/drover/pkg/log"
	"github.com/drovercloud/drover/pkg/types"
)

// DefaultLoopbackRoot is where the loopback backend keeps datasets when
// the agent configuration does not name a directory.
const DefaultLoopbackRoot = "/var/lib/drover/loopback"

// Loopback stores each dataset as a plain directory under a root. It
// exists for development and testing on machines without ZFS; nothing
// about it is production-grade.
type Loopback struct {
	root   string
	logger zerolog.Logger
}

// NewLoopback returns a loopback backend rooted at dir, creating it if
// needed. An empty dir selects DefaultLoopbackRoot.
func NewLoopback(dir string) (*Loopback, error) {
	if dir == "" {
		dir = DefaultLoopbackRoot
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create loopback root: %w", err)
	}
	return &Loopback{
		root:   dir,
		logger: log.WithComponent("backend.loopback"),
	}, nil
}

func (l *Loopback) path(id uuid.UUID) string {
	return filepath.Join(l.root, id.String())
}

// Create makes the dataset directory. Creating an existing dataset is a
// no-op.
func (l *Loopback) Create(ctx context.Context, id uuid.UUID) error {
	if err := os.MkdirAll(l.path(id), 0o755); err != nil {
		return &Error{Op: "create", Dataset: id, Err: err}
	}
	return nil
}

// Destroy removes the dataset directory and its contents. Destroying a
// missing dataset is a no-op.
func (l *Loopback) Destroy(ctx context.Context, id uuid.UUID) error {
	if err := os.RemoveAll(l.path(id)); err != nil {
		return &Error{Op: "destroy", Dataset: id, Err: err}
	}
	return nil
}

// Move drops the local copy. The loopback backend has no transport; the
// destination node recreates the dataset empty. Good enough for testing
// convergence, useless for real data, which is the point of ZFS.
func (l *Loopback) Move(ctx context.Context, id uuid.UUID, addr string) error {
	l.logger.Warn().
		Str("dataset", id.String()).
		Str("destination", addr).
		Msg("Loopback move discards data; destination starts empty")
	return l.Destroy(ctx, id)
}

// CurrentState lists the dataset directories under the root. Entries
// whose names are not UUIDs are ignored.
func (l *Loopback) CurrentState(ctx context.Context) ([]*types.DatasetInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrPoolUnavailable, err)
		}
		return nil, &Error{Op: "list", Err: err}
	}

	var datasets []*types.DatasetInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			continue
		}
		datasets = append(datasets, &types.DatasetInfo{
			ID:   id,
			Path: filepath.Join(l.root, entry.Name()),
		})
	}
	return datasets, nil
}
