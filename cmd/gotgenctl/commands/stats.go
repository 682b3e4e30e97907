package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the per-port and per-profile counter snapshot",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var snap statsSnapshot
			if err := client.get(context.Background(), "/api/traffic/stats", &snap); err != nil {
				return fmt.Errorf("fetch stats: %w", err)
			}

			out, err := formatStats(snap, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	cmd.AddCommand(statsResetCmd())
	cmd.AddCommand(statsExportCmd())

	return cmd
}

func statsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Zero all port and profile counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			err := client.post(context.Background(), "/api/traffic/stats/reset", nil, nil)
			if err != nil {
				return fmt.Errorf("reset stats: %w", err)
			}

			fmt.Println("Counters reset.")

			return nil
		},
	}
}

func statsExportCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the counter snapshot as CSV",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			data, err := client.getRaw(context.Background(), "/api/traffic/stats/export")
			if err != nil {
				return fmt.Errorf("export stats: %w", err)
			}

			if outPath == "" {
				_, err = os.Stdout.Write(data)
				if err != nil {
					return fmt.Errorf("write stdout: %w", err)
				}

				return nil
			}

			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}

			fmt.Printf("Wrote %d bytes to %s.\n", len(data), outPath)

			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "write CSV to a file instead of stdout")

	return cmd
}
