package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/drovercloud/drover/pkg/client"
)

// newClient builds an API client from the command's connection flags.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	host, _ := cmd.Flags().GetString("control-service")
	port, _ := cmd.Flags().GetInt("port")
	certPath, _ := cmd.Flags().GetString("cert")
	keyPath, _ := cmd.Flags().GetString("key")
	caPath, _ := cmd.Flags().GetString("ca")

	return client.New(client.Config{
		Host:     host,
		Port:     port,
		CertPath: certPath,
		KeyPath:  keyPath,
		CAPath:   caPath,
	})
}

func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("control-service", "", "Control service hostname or IP")
	cmd.PersistentFlags().Int("port", 0, "Control service API port (default 4523)")
	cmd.PersistentFlags().String("cert", "", "API user certificate")
	cmd.PersistentFlags().String("key", "", "API user private key")
	cmd.PersistentFlags().String("ca", "/etc/drover/cluster.crt", "Cluster root certificate")
}

var datasetCmd = &cobra.Command{
	Use:          "dataset",
	Short:        "Manage datasets",
	SilenceUsage: true,
}

var datasetCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a dataset on a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		primaryArg, _ := cmd.Flags().GetString("node")
		primary, err := uuid.Parse(primaryArg)
		if err != nil {
			return fmt.Errorf("--node must be a node UUID: %w", err)
		}
		maxSize, _ := cmd.Flags().GetInt64("max-size")

		d, err := c.CreateDataset(context.Background(), primary, maxSize, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Created dataset %s on node %s\n", d.ID, d.Primary)
		return nil
	},
}

var datasetListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List configured datasets",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		datasets, err := c.ListDatasets(context.Background())
		if err != nil {
			return err
		}
		actual, err := c.ListDatasetState(context.Background())
		if err != nil {
			return err
		}

		present := make(map[uuid.UUID]uuid.UUID)
		for _, state := range actual {
			present[state.ID] = state.Node
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATASET\tPRIMARY\tMAX SIZE\tSTATUS")
		for _, d := range datasets {
			status := "pending"
			if node, ok := present[d.ID]; ok {
				if node == d.Primary {
					status = "attached"
				} else {
					status = "moving"
				}
			}
			size := "-"
			if d.MaximumSize > 0 {
				size = fmt.Sprintf("%d", d.MaximumSize)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Primary, size, status)
		}
		return w.Flush()
	},
}

var datasetMoveCmd = &cobra.Command{
	Use:   "move <dataset-id>",
	Short: "Move a dataset to another node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("dataset id must be a UUID: %w", err)
		}
		nodeArg, _ := cmd.Flags().GetString("node")
		node, err := uuid.Parse(nodeArg)
		if err != nil {
			return fmt.Errorf("--node must be a node UUID: %w", err)
		}

		d, err := c.MoveDataset(context.Background(), id, node)
		if err != nil {
			return err
		}
		fmt.Printf("Dataset %s moving to node %s\n", d.ID, d.Primary)
		return nil
	},
}

var datasetResizeCmd = &cobra.Command{
	Use:   "resize <dataset-id>",
	Short: "Change a dataset's maximum size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("dataset id must be a UUID: %w", err)
		}
		maxSize, _ := cmd.Flags().GetInt64("max-size")

		d, err := c.ResizeDataset(context.Background(), id, maxSize)
		if err != nil {
			return err
		}
		fmt.Printf("Dataset %s maximum size set to %d\n", d.ID, d.MaximumSize)
		return nil
	},
}

var datasetDeleteCmd = &cobra.Command{
	Use:   "rm <dataset-id>",
	Short: "Delete a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("dataset id must be a UUID: %w", err)
		}
		if err := c.DeleteDataset(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("Dataset %s deleted\n", id)
		return nil
	},
}

func init() {
	addClientFlags(datasetCmd)

	datasetCreateCmd.Flags().String("node", "", "Primary node UUID")
	datasetCreateCmd.Flags().Int64("max-size", 0, "Maximum size in bytes (0 for unlimited)")
	datasetCreateCmd.MarkFlagRequired("node")

	datasetMoveCmd.Flags().String("node", "", "Destination node UUID")
	datasetMoveCmd.MarkFlagRequired("node")

	datasetResizeCmd.Flags().Int64("max-size", 0, "Maximum size in bytes (0 for unlimited)")

	datasetCmd.AddCommand(datasetCreateCmd)
	datasetCmd.AddCommand(datasetListCmd)
	datasetCmd.AddCommand(datasetMoveCmd)
	datasetCmd.AddCommand(datasetResizeCmd)
	datasetCmd.AddCommand(datasetDeleteCmd)
}
