/*
Package agent implements the node agent.

An agent is configured by /etc/drover/agent.yml, authenticates to the
control service with the node certificate installed alongside it, and
converges the node's datasets toward whatever configuration the control
service pushes.

# Configuration

	version: 1
	control-service:
	  hostname: control.example.com
	  port: 4524
	dataset:
	  backend: zfs
	  pool: drover

The version field pins the agent protocol; an unknown version is a fatal
startup error. The port defaults to 4524 when omitted.

# Convergence

Each configuration push carries a generation number. The agent plans
create, destroy, and move operations by diffing the configuration
against the backend's actual state, then applies them one at a time,
abandoning the plan the moment a newer generation arrives. Operations
are idempotent, so a plan interrupted by a crash or reconnect is safe to
recompute and reapply.

Datasets present locally but absent from the configuration are never
touched.

# Failure handling

Connectivity failures are retried forever with capped exponential
backoff. Backend failures mark the node degraded in its state reports
but keep the agent running; a fixed pool needs no agent restart.
*/
package agent
