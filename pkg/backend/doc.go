/*
Package backend realizes dataset operations on a node.

A Backend turns the agent's convergence plan into filesystem reality.
Two implementations exist:

  - zfs: each dataset is a ZFS filesystem under a pool (default "drover").
    Cross-node moves snapshot the filesystem and stream it to the peer
    with zfs send piped into zfs receive over SSH.

  - loopback: each dataset is a plain directory. For development and
    tests only; moves discard data.

All operations are idempotent so the agent can reapply a plan after a
crash or reconnect without side effects. An unavailable pool surfaces as
ErrPoolUnavailable, which the agent translates into a degraded node
report instead of exiting.
*/
package backend
