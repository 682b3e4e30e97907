package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func interfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List the ports known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Ports []portView `json:"ports"`
			}
			if err := client.get(context.Background(), "/api/interfaces", &resp); err != nil {
				return fmt.Errorf("list interfaces: %w", err)
			}

			out, err := formatPorts(resp.Ports, outputFormat)
			if err != nil {
				return fmt.Errorf("format interfaces: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
