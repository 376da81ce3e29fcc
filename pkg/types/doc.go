/*
Package types defines the core data structures shared across Drover.

The model splits cleanly along ownership lines:

  - DesiredState (datasets, applications) is owned by the control service
    and mutated only through its API.
  - NodeState is owned by each agent, which reports it over the agent
    channel; the control service aggregates reports read-only.
  - Node identity is the UUID embedded in the node's certificate. Network
    addresses are connection metadata and are never used as keys.

Datasets reference their primary node by UUID. Moving a dataset is a
configuration change (new primary); agents observe the change and perform
the handoff.
*/
package types
