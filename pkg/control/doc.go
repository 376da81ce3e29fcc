/*
Package control implements the control service.

The control service is the single authority over desired cluster state.
It runs two mutually-TLS-authenticated listeners:

  - The REST API (port 4523) admits user certificates and carries all
    configuration changes: dataset create, move, resize, delete, plus
    read-only views of desired and actual state.

  - The agent channel (port 4524) admits node certificates. Agents
    connect outward, receive their slice of desired state whenever it
    changes, and stream back reports of what their node actually holds.

Identity everywhere is the certificate, never the network address. A
node is the UUID in its certificate's common name; an agent reconnecting
from a new address with the same certificate is the same node, and a
report claiming a different node than the channel's certificate is
dropped.

Desired state persists in bbolt and survives restarts. Actual state
lives in memory with a TTL; it is rebuilt within seconds of agents
reconnecting, and a report that old describes a node the service can no
longer vouch for.

Every mutation bumps a generation counter carried on configuration
pushes, which is how agents detect that in-flight work has been
superseded.
*/
package control
