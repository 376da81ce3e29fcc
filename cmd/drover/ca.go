package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drovercloud/drover/pkg/ca"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage cluster certificates",
	Long: `Initialize a cluster certificate authority and issue certificates
for the control service, nodes, and API users.

All files are written to the current directory. Existing files are never
overwritten; remove them deliberately if you mean to replace them.`,
}

var caInitializeCmd = &cobra.Command{
	Use:   "initialize <cluster-name>",
	Short: "Create a new cluster certificate authority",
	Long: `Create a new cluster: generate a root certificate and key under a
fresh cluster identity.

Writes cluster.crt and cluster.key to the current directory. The key
signs every certificate in the cluster; keep it offline and back it up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		authority, err := ca.NewAuthority(args[0])
		if err != nil {
			return err
		}
		if err := ca.WriteAuthority(authority, "."); err != nil {
			return err
		}

		clusterID, err := authority.ClusterID()
		if err != nil {
			return err
		}
		fmt.Printf("Created cluster %q (%s)\n", authority.ClusterName(), clusterID)
		fmt.Printf("  %s  cluster root certificate, distribute to every machine\n", ca.AuthorityCertificateFilename)
		fmt.Printf("  %s  cluster root key, keep private\n", ca.AuthorityKeyFilename)
		return nil
	},
}

var caControlCmd = &cobra.Command{
	Use:   "create-control-certificate <hostname>",
	Short: "Issue a certificate for the control service",
	Long: `Issue a control service certificate bound to the hostname or IP
address agents and API clients will connect to.

Requires cluster.crt and cluster.key in the current directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostname := args[0]
		authority, err := ca.LoadAuthority(".")
		if err != nil {
			return err
		}

		cred, err := authority.IssueControlCredential(hostname)
		if err != nil {
			return err
		}

		certFile := ca.ControlCertificateFilename(hostname)
		keyFile := ca.ControlKeyFilename(hostname)
		if err := ca.WriteCredential(cred, ".", certFile, keyFile); err != nil {
			return err
		}

		fmt.Printf("Issued control service certificate for %s\n", hostname)
		fmt.Printf("  %s\n  %s\n", certFile, keyFile)
		fmt.Println("Copy both to the control service machine along with cluster.crt,")
		fmt.Println("into a directory readable only by the service user (chmod 0700).")
		return nil
	},
}

var caNodeCmd = &cobra.Command{
	Use:   "create-node-certificate",
	Short: "Issue a certificate for a node agent",
	Long: `Issue a node certificate under a freshly generated node UUID. The
UUID is the node's permanent identity; issue one certificate per node
and never share them between machines.

Requires cluster.crt and cluster.key in the current directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		authority, err := ca.LoadAuthority(".")
		if err != nil {
			return err
		}

		cred, nodeID, err := authority.IssueNodeCredential()
		if err != nil {
			return err
		}

		certFile := nodeID.String() + ".crt"
		keyFile := nodeID.String() + ".key"
		if err := ca.WriteCredential(cred, ".", certFile, keyFile); err != nil {
			return err
		}

		fmt.Printf("Issued node certificate %s\n", nodeID)
		fmt.Printf("  %s\n  %s\n", certFile, keyFile)
		fmt.Println("Install on the node as /etc/drover/node.crt and /etc/drover/node.key,")
		fmt.Println("along with cluster.crt, in a directory readable only by the agent")
		fmt.Println("user (chmod 0700).")
		return nil
	},
}

var caUserCmd = &cobra.Command{
	Use:   "create-api-certificate <username>",
	Short: "Issue a certificate for an API user",
	Long: `Issue an API client certificate for the named user. The certificate
authenticates the user to the control service REST API and cannot act as
a server or a node.

Requires cluster.crt and cluster.key in the current directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		authority, err := ca.LoadAuthority(".")
		if err != nil {
			return err
		}

		cred, err := authority.IssueUserCredential(username)
		if err != nil {
			return err
		}

		certFile := username + ".crt"
		keyFile := username + ".key"
		if err := ca.WriteCredential(cred, ".", certFile, keyFile); err != nil {
			return err
		}

		fmt.Printf("Issued API certificate for %s\n", username)
		fmt.Printf("  %s\n  %s\n", certFile, keyFile)
		return nil
	},
}

func init() {
	caCmd.AddCommand(caInitializeCmd)
	caCmd.AddCommand(caControlCmd)
	caCmd.AddCommand(caNodeCmd)
	caCmd.AddCommand(caUserCmd)

	// Precondition failures (missing authority, existing files) must exit
	// nonzero without usage noise.
	caCmd.SilenceUsage = true
}
