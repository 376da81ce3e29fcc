package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drovercloud/drover/pkg/agent"
	"github.com/drovercloud/drover/pkg/control"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Run the control service",
	Long: `Run the control service: the REST API for operators on port 4523
and the agent channel on port 4524, both requiring cluster certificates.

Desired state persists in the data directory and survives restarts.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		certPath, _ := cmd.Flags().GetString("cert")
		keyPath, _ := cmd.Flags().GetString("key")
		caPath, _ := cmd.Flags().GetString("ca")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		agentAddr, _ := cmd.Flags().GetString("agent-addr")

		svc, err := control.NewService(control.Config{
			DataDir:   dataDir,
			CertPath:  certPath,
			KeyPath:   keyPath,
			CAPath:    caPath,
			APIAddr:   apiAddr,
			AgentAddr: agentAddr,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = svc.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the node agent",
	Long: `Run the node agent: connect to the control service named in the
configuration file and converge this node's datasets.

A missing or invalid configuration file is a fatal error. A missing
storage pool is not; the agent reports the node degraded and keeps
running.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		certPath, _ := cmd.Flags().GetString("cert")
		keyPath, _ := cmd.Flags().GetString("key")
		caPath, _ := cmd.Flags().GetString("ca")

		cfg, err := agent.LoadConfig(configPath)
		if err != nil {
			return err
		}

		a, err := agent.New(cfg, agent.Options{
			CertPath: certPath,
			KeyPath:  keyPath,
			CAPath:   caPath,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = a.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

func init() {
	controlCmd.Flags().String("data-dir", "/var/lib/drover", "Directory for cluster state")
	controlCmd.Flags().String("cert", "", "Control service certificate (control-<hostname>.crt)")
	controlCmd.Flags().String("key", "", "Control service private key")
	controlCmd.Flags().String("ca", "/etc/drover/cluster.crt", "Cluster root certificate")
	controlCmd.Flags().String("api-addr", "", "REST API listen address (default :4523)")
	controlCmd.Flags().String("agent-addr", "", "Agent channel listen address (default :4524)")
	controlCmd.MarkFlagRequired("cert")
	controlCmd.MarkFlagRequired("key")

	agentCmd.Flags().String("config", agent.DefaultConfigPath, "Agent configuration file")
	agentCmd.Flags().String("cert", agent.DefaultCertPath, "Node certificate")
	agentCmd.Flags().String("key", agent.DefaultKeyPath, "Node private key")
	agentCmd.Flags().String("ca", agent.DefaultCAPath, "Cluster root certificate")
}
