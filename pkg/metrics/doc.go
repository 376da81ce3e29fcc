/*
Package metrics exposes drover's Prometheus instrumentation.

All metrics are package-level collectors registered at init and served
through Handler() on the control service's /metrics endpoint. Gauges
track cluster shape (connected nodes, configured and converged
datasets), counters track the agent channel and API traffic, and
histograms record convergence and API latencies.

Agents do not serve metrics; their operations surface through the state
reports the control service aggregates.
*/
package metrics
