package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/drovercloud/drover/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Drover - portable datasets for stateful services",
	Long: `Drover manages datasets across a cluster of machines: where each
dataset lives, moving it between nodes with its data intact, and keeping
every node converged with the configured state.

A single control service owns the cluster configuration; an agent on
each node carries it out against a ZFS pool. All communication is
mutually authenticated with cluster-issued certificates.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Drover version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs")

	rootCmd.AddCommand(caCmd)
	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(datasetCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(versionCmd)
}
