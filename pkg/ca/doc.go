/*
Package ca implements the cluster certificate authority.

A Drover cluster's trust material is a self-signed root certificate/key
pair (cluster.crt / cluster.key) created once, offline, by the operator.
The root key signs three classes of subordinate certificates and nothing
else; it is never transmitted.

The classes are distinguished by common name so that none can impersonate
the others:

  1. Control service: CN "control-service", with the administrator-chosen
     hostname in the SAN so standard HTTPS verification works. Files are
     named control-<hostname>.crt / control-<hostname>.key.
  2. Node agents: CN "node-<uuid>". The UUID is generated at issuance and
     is the node's durable identity, independent of hostname or IP churn.
     Files are named <uuid>.crt / <uuid>.key.
  3. API users: CN "user-<username>", extendedKeyUsage clientAuth only.

Every certificate records the cluster UUID in its OU, so material from one
cluster never authenticates against another.

Issuance refuses to overwrite existing files (ErrFileExists): an existing
trust root must be removed deliberately, never clobbered.
*/
package ca
