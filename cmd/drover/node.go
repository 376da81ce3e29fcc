package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:          "node",
	Short:        "Inspect cluster nodes",
	SilenceUsage: true,
}

var nodeListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List known nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		nodes, err := c.ListNodes(context.Background())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tADDRESS\tSTATUS\tLAST SEEN")
		for _, n := range nodes {
			status := "disconnected"
			if n.Connected {
				status = "connected"
			}
			lastSeen := "-"
			if !n.LastSeen.IsZero() {
				lastSeen = n.LastSeen.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, n.Address, status, lastSeen)
		}
		return w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:          "server-version",
	Short:        "Show the control service version",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		version, err := c.Version(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Control service version %s\n", version)
		return nil
	},
}

func init() {
	addClientFlags(nodeCmd)
	addClientFlags(versionCmd)
	nodeCmd.AddCommand(nodeListCmd)
}
