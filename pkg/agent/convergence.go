package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/drovercloud/drover/pkg/backend"
	"github.com/drovercloud/drover/pkg/metrics"
	"github.com/drovercloud/drover/pkg/protocol"
	"github.com/drovercloud/drover/pkg/types"
)

// Plan computes the backend operations that reconcile the local datasets
// with a node configuration. Local datasets the configuration does not
// mention are left alone: destroying data on missing information is the
// one mistake this system must never make.
func Plan(cfg *protocol.NodeConfiguration, local []*types.DatasetInfo) []*types.Operation {
	nodeID, err := uuid.Parse(cfg.NodeID)
	if err != nil {
		return nil
	}

	present := make(map[uuid.UUID]bool, len(local))
	for _, info := range local {
		present[info.ID] = true
	}

	var plan []*types.Operation
	for _, ds := range cfg.Datasets {
		switch {
		case ds.Deleted:
			if present[ds.ID] {
				plan = append(plan, &types.Operation{
					Kind:    types.OperationDestroy,
					Dataset: ds.ID,
				})
			}
		case ds.Primary == nodeID:
			if !present[ds.ID] {
				plan = append(plan, &types.Operation{
					Kind:    types.OperationCreate,
					Dataset: ds.ID,
				})
			}
		default:
			if present[ds.ID] {
				plan = append(plan, &types.Operation{
					Kind:    types.OperationMove,
					Dataset: ds.ID,
					Target:  ds.Primary,
				})
			}
		}
	}
	return plan
}

// converge applies a plan, checking before each operation that the
// configuration it was computed from has not been superseded by a newer
// generation. Superseded work is abandoned; the next configuration push
// produces a fresh plan against fresh local state.
func (a *Agent) converge(ctx context.Context, cfg *protocol.NodeConfiguration, plan []*types.Operation) {
	for _, op := range plan {
		if a.latestGeneration() != cfg.Generation {
			a.logger.Info().
				Uint64("generation", cfg.Generation).
				Str("operation", string(op.Kind)).
				Msg("Configuration superseded, abandoning plan")
			return
		}

		op.StartedAt = time.Now().UTC()
		a.setInProgress(op)
		err := a.apply(ctx, cfg, op)
		a.clearInProgress(op)

		outcome := "success"
		if err != nil {
			outcome = "failure"
			if errors.Is(err, backend.ErrPoolUnavailable) {
				a.setDegraded(err)
			}
			a.logger.Error().Err(err).
				Str("operation", string(op.Kind)).
				Str("dataset", op.Dataset.String()).
				Msg("Backend operation failed")
		} else {
			a.clearDegraded()
		}
		metrics.ConvergenceOperations.WithLabelValues(string(op.Kind), outcome).Inc()
	}
}

func (a *Agent) apply(ctx context.Context, cfg *protocol.NodeConfiguration, op *types.Operation) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ConvergenceDuration, string(op.Kind))

	switch op.Kind {
	case types.OperationCreate:
		return a.backend.Create(ctx, op.Dataset)
	case types.OperationDestroy:
		return a.backend.Destroy(ctx, op.Dataset)
	case types.OperationMove:
		addr, ok := cfg.Peers[op.Target.String()]
		if !ok {
			a.logger.Warn().
				Str("dataset", op.Dataset.String()).
				Str("target", op.Target.String()).
				Msg("No address for move target, deferring")
			return nil
		}
		return a.backend.Move(ctx, op.Dataset, addr)
	default:
		return nil
	}
}
