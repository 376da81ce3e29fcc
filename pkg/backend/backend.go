package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/drovercloud/drover/pkg/types"
)

// ErrPoolUnavailable is returned when the backing pool or root filesystem
// is absent. The agent reports the node degraded instead of terminating.
var ErrPoolUnavailable = errors.New("storage pool unavailable")

// Error wraps a failed backend operation with enough context for the
// degraded-node report.
type Error struct {
	Op      string
	Dataset uuid.UUID
	Err     error
}

func (e *Error) Error() string {
	if e.Dataset == uuid.Nil {
		return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend %s %s: %v", e.Op, e.Dataset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Backend realizes dataset operations on a node. All operations are
// idempotent: creating an existing dataset or destroying a missing one is
// a no-op, so reapplying a converged desired state changes nothing.
type Backend interface {
	// Create makes the dataset exist locally.
	Create(ctx context.Context, id uuid.UUID) error

	// Destroy removes the dataset locally.
	Destroy(ctx context.Context, id uuid.UUID) error

	// Move hands the dataset off to the peer at addr and removes it
	// locally once the peer has it.
	Move(ctx context.Context, id uuid.UUID, addr string) error

	// CurrentState lists the datasets present locally.
	CurrentState(ctx context.Context) ([]*types.DatasetInfo, error)
}

// Config selects and parameterizes a backend implementation.
type Config struct {
	// Name is the backend identifier from the agent configuration file.
	Name string

	// Pool is the ZFS pool holding drover datasets.
	Pool string

	// LoopbackRoot is the directory the loopback backend stores datasets
	// under.
	LoopbackRoot string

	// SSH configures the transport for cross-node moves.
	SSH SSHConfig
}

// Backend identifiers accepted in the agent configuration file.
const (
	BackendZFS      = "zfs"
	BackendLoopback = "loopback"
)

// New selects a backend implementation by the configured identifier.
func New(cfg Config) (Backend, error) {
	switch cfg.Name {
	case BackendZFS:
		return NewZFS(cfg.Pool, cfg.SSH), nil
	case BackendLoopback:
		return NewLoopback(cfg.LoopbackRoot)
	default:
		return nil, fmt.Errorf("unknown dataset backend: %q", cfg.Name)
	}
}
