/*
Package protocol defines the wire format of the agent channel.

Agents connect outward to the control service's agent port (4524) over
mutual TLS and exchange JSON envelopes on a websocket. The control service
pushes NodeConfiguration frames (the node's slice of desired state, tagged
with a generation number) and receives NodeState frames in return.

The generation number is the supersession mechanism: an agent applying a
plan checks the latest generation before each operation and abandons work
planned against an older configuration.
*/
package protocol
