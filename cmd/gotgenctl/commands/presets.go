package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in impairment presets",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Presets map[string]impairments `json:"presets"`
			}
			if err := client.get(context.Background(), "/api/impairments/presets", &resp); err != nil {
				return fmt.Errorf("list presets: %w", err)
			}

			out, err := formatPresets(resp.Presets, outputFormat)
			if err != nil {
				return fmt.Errorf("format presets: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
