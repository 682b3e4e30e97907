package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func trafficCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traffic",
		Short: "Start or stop all enabled profiles",
	}

	cmd.AddCommand(trafficStartCmd())
	cmd.AddCommand(trafficStopCmd())

	return cmd
}

// printFailures reports per-profile failures from a bulk operation.
func printFailures(failures map[string]string) {
	for name, msg := range failures {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", name, msg)
	}
}

func trafficStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start every enabled traffic profile",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Status   string            `json:"status"`
				Failures map[string]string `json:"failures"`
			}
			if err := client.post(context.Background(), "/api/traffic/start", nil, &resp); err != nil {
				return fmt.Errorf("start traffic: %w", err)
			}

			fmt.Println("Traffic started.")
			printFailures(resp.Failures)

			return nil
		},
	}
}

func trafficStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop every running traffic profile",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Status   string            `json:"status"`
				Failures map[string]string `json:"failures"`
			}
			if err := client.post(context.Background(), "/api/traffic/stop", nil, &resp); err != nil {
				return fmt.Errorf("stop traffic: %w", err)
			}

			fmt.Println("Traffic stopped.")
			printFailures(resp.Failures)

			return nil
		},
	}
}
