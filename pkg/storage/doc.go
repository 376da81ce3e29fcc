/*
Package storage persists the control service's durable state in BoltDB.

The database holds the desired configuration (datasets, applications) and
node identity records. Actual node state is deliberately NOT persisted:
agents re-report it on every connection, so it is rebuilt from live
reports after a restart.

All records are stored as JSON values keyed by their identity (dataset
UUID, application name, node UUID) in per-entity buckets.
*/
package storage
