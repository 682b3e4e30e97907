package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// client is the HTTP API client, initialized in PersistentPreRunE.
	client *apiClient

	// outputFormat controls the output format for all commands (table, json or yaml).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the HTTP connection.
	serverAddr string
)

// rootCmd is the top-level cobra command for gotgenctl.
var rootCmd = &cobra.Command{
	Use:   "gotgenctl",
	Short: "CLI client for the gotgen daemon",
	Long:  "gotgenctl communicates with the gotgen daemon over its HTTP JSON API to manage traffic profiles, impairments and benchmarks.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = newAPIClient(serverAddr)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"gotgen daemon address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json, yaml")

	rootCmd.AddCommand(interfacesCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(trafficCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(presetsCmd())
	rootCmd.AddCommand(neighborsCmd())
	rootCmd.AddCommand(benchCmd())
	rootCmd.AddCommand(workloadCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
