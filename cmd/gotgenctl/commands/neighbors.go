package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func neighborsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "neighbors [interface...]",
		Short: "Probe and show discovered neighbors",
		Long:  "Triggers an ARP/NDP/LLDP scan on the named interfaces (all ports when none are given) and prints the refreshed caches.",
		RunE: func(_ *cobra.Command, args []string) error {
			var body any
			if len(args) > 0 {
				body = map[string]any{"interfaces": args}
			}

			var resp struct {
				Neighbors map[string]neighborCache `json:"neighbors"`
			}
			if err := client.post(context.Background(), "/api/neighbors/discover", body, &resp); err != nil {
				return fmt.Errorf("discover neighbors: %w", err)
			}

			out, err := formatNeighbors(resp.Neighbors, outputFormat)
			if err != nil {
				return fmt.Errorf("format neighbors: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
