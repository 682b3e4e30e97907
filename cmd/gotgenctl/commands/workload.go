package commands

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func workloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workload",
		Short: "Manage auxiliary workloads (netflow, snmp, bgp)",
	}

	cmd.AddCommand(workloadListCmd())
	cmd.AddCommand(workloadStartCmd())
	cmd.AddCommand(workloadStopCmd())

	return cmd
}

func workloadListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show configured workloads and their status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp struct {
				Workloads map[string]workloadStatus `json:"workloads"`
			}
			if err := client.get(context.Background(), "/api/workloads", &resp); err != nil {
				return fmt.Errorf("list workloads: %w", err)
			}

			out, err := formatWorkloads(resp.Workloads, outputFormat)
			if err != nil {
				return fmt.Errorf("format workloads: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func workloadStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a configured workload",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "/api/workloads/" + url.PathEscape(args[0]) + "/start"
			if err := client.post(context.Background(), path, nil, nil); err != nil {
				return fmt.Errorf("start workload: %w", err)
			}

			fmt.Printf("Workload %q started.\n", args[0])

			return nil
		},
	}
}

func workloadStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a running workload",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "/api/workloads/" + url.PathEscape(args[0]) + "/stop"
			if err := client.post(context.Background(), path, nil, nil); err != nil {
				return fmt.Errorf("stop workload: %w", err)
			}

			fmt.Printf("Workload %q stopped.\n", args[0])

			return nil
		},
	}
}
