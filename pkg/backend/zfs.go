package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/drovercloud/drover/pkg/log"
	"github.com/drovercloud/drover/pkg/types"
)

// DefaultPool is the ZFS pool used when the agent configuration does not
// name one.
const DefaultPool = "drover"

// runner executes an external command and returns its combined output.
// Tests substitute this to exercise the backend without a real zpool.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s %s: %w: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}

// ZFS realizes datasets as filesystems under a single pool. Each dataset
// becomes <pool>/<uuid>, mounted by ZFS at its default mountpoint. Moves
// stream a snapshot to the destination node with zfs send over SSH.
type ZFS struct {
	pool   string
	ssh    SSHConfig
	run    runner
	remote remoteRunner
	logger zerolog.Logger
}

// NewZFS returns a ZFS backend for the given pool. An empty pool name
// selects DefaultPool.
func NewZFS(pool string, ssh SSHConfig) *ZFS {
	if pool == "" {
		pool = DefaultPool
	}
	return &ZFS{
		pool:   pool,
		ssh:    ssh,
		run:    execRunner,
		remote: dialSSH,
		logger: log.WithComponent("backend.zfs"),
	}
}

func (z *ZFS) name(id uuid.UUID) string {
	return z.pool + "/" + id.String()
}

// checkPool verifies the configured pool is imported. A missing pool maps
// to ErrPoolUnavailable so the agent reports the node degraded rather
// than failing each operation with an opaque exec error.
func (z *ZFS) checkPool(ctx context.Context) error {
	if _, err := z.run(ctx, "zpool", "list", "-H", "-o", "name", z.pool); err != nil {
		return fmt.Errorf("%w: pool %q: %v", ErrPoolUnavailable, z.pool, err)
	}
	return nil
}

func (z *ZFS) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := z.run(ctx, "zfs", "list", "-H", "-o", "name", z.name(id))
	if err != nil {
		// zfs list exits nonzero for a missing dataset; distinguish that
		// from a broken pool.
		if poolErr := z.checkPool(ctx); poolErr != nil {
			return false, poolErr
		}
		return false, nil
	}
	return true, nil
}

// Create makes the dataset filesystem if it does not already exist.
func (z *ZFS) Create(ctx context.Context, id uuid.UUID) error {
	ok, err := z.exists(ctx, id)
	if err != nil {
		return &Error{Op: "create", Dataset: id, Err: err}
	}
	if ok {
		return nil
	}
	if _, err := z.run(ctx, "zfs", "create", z.name(id)); err != nil {
		return &Error{Op: "create", Dataset: id, Err: err}
	}
	z.logger.Info().Str("dataset", id.String()).Msg("Created ZFS filesystem")
	return nil
}

// Destroy removes the dataset filesystem and its snapshots. Destroying a
// dataset that does not exist is a no-op.
func (z *ZFS) Destroy(ctx context.Context, id uuid.UUID) error {
	ok, err := z.exists(ctx, id)
	if err != nil {
		return &Error{Op: "destroy", Dataset: id, Err: err}
	}
	if !ok {
		return nil
	}
	if _, err := z.run(ctx, "zfs", "destroy", "-r", z.name(id)); err != nil {
		return &Error{Op: "destroy", Dataset: id, Err: err}
	}
	z.logger.Info().Str("dataset", id.String()).Msg("Destroyed ZFS filesystem")
	return nil
}

// Move streams the dataset to the peer at addr and destroys the local
// copy once the stream has been received. The peer must run an agent
// with the same pool name.
func (z *ZFS) Move(ctx context.Context, id uuid.UUID, addr string) error {
	ok, err := z.exists(ctx, id)
	if err != nil {
		return &Error{Op: "move", Dataset: id, Err: err}
	}
	if !ok {
		// Nothing to hand off; the peer either has it already or will
		// create it fresh.
		return nil
	}

	snapshot := z.name(id) + "@handoff"
	// Leftover snapshot from an interrupted move; replace it.
	z.run(ctx, "zfs", "destroy", snapshot)
	if _, err := z.run(ctx, "zfs", "snapshot", snapshot); err != nil {
		return &Error{Op: "move", Dataset: id, Err: err}
	}

	send := exec.CommandContext(ctx, "zfs", "send", snapshot)
	stream, err := send.StdoutPipe()
	if err != nil {
		return &Error{Op: "move", Dataset: id, Err: err}
	}
	if err := send.Start(); err != nil {
		return &Error{Op: "move", Dataset: id, Err: err}
	}

	receive := fmt.Sprintf("zfs receive -F %s", z.name(id))
	if err := z.remote(ctx, z.ssh, addr, receive, stream); err != nil {
		send.Process.Kill()
		send.Wait()
		return &Error{Op: "move", Dataset: id, Err: fmt.Errorf("streaming to %s: %w", addr, err)}
	}
	if err := send.Wait(); err != nil {
		return &Error{Op: "move", Dataset: id, Err: err}
	}

	if _, err := z.run(ctx, "zfs", "destroy", "-r", z.name(id)); err != nil {
		return &Error{Op: "move", Dataset: id, Err: err}
	}
	z.logger.Info().
		Str("dataset", id.String()).
		Str("destination", addr).
		Msg("Moved ZFS filesystem")
	return nil
}

// CurrentState lists the dataset filesystems under the pool. Children
// whose names are not UUIDs are ignored; they are not drover's.
func (z *ZFS) CurrentState(ctx context.Context) ([]*types.DatasetInfo, error) {
	if err := z.checkPool(ctx); err != nil {
		return nil, err
	}

	out, err := z.run(ctx, "zfs", "list", "-H", "-r", "-d", "1",
		"-o", "name,quota,mountpoint", z.pool)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}

	var datasets []*types.DatasetInfo
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		name := strings.TrimPrefix(fields[0], z.pool+"/")
		id, err := uuid.Parse(name)
		if err != nil {
			continue
		}
		info := &types.DatasetInfo{ID: id, Path: fields[2]}
		if quota, err := strconv.ParseInt(fields[1], 10, 64); err == nil && quota > 0 {
			info.MaximumSize = quota
		}
		datasets = append(datasets, info)
	}
	return datasets, nil
}
