package commands

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func benchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run RFC 2544 benchmarks",
	}

	cmd.AddCommand(benchStartCmd())
	cmd.AddCommand(benchResultsCmd())
	cmd.AddCommand(benchCancelCmd())

	return cmd
}

func benchStartCmd() *cobra.Command {
	var (
		tests          []string
		frameSizes     []int
		trialSeconds   int
		latencySeconds int
		lossThreshold  float64
		lowMbps        float64
		highMbps       float64
	)

	cmd := &cobra.Command{
		Use:   "start <profile>",
		Short: "Start a benchmark run against a stopped profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"profile": args[0],
				"tests":   tests,
			}

			set := func(flag, key string, val any) {
				if cmd.Flags().Changed(flag) {
					body[key] = val
				}
			}

			set("frame-sizes", "frame_sizes", frameSizes)
			set("trial-seconds", "trial_seconds", trialSeconds)
			set("latency-seconds", "latency_seconds", latencySeconds)
			set("loss-threshold", "loss_threshold", lossThreshold)
			set("low-mbps", "low_mbps", lowMbps)
			set("high-mbps", "high_mbps", highMbps)

			var resp struct {
				Profile string `json:"profile"`
				State   string `json:"state"`
			}
			if err := client.post(context.Background(), "/api/rfc2544/start", body, &resp); err != nil {
				return fmt.Errorf("start benchmark: %w", err)
			}

			fmt.Printf("Benchmark for %q started. Poll with: gotgenctl bench results %s\n",
				resp.Profile, resp.Profile)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&tests, "tests", []string{"throughput"},
		"tests to run: throughput, latency, frame-loss, back-to-back")
	flags.IntSliceVar(&frameSizes, "frame-sizes", nil,
		"frame sizes to test (default: the RFC 2544 ladder)")
	flags.IntVar(&trialSeconds, "trial-seconds", 0, "seconds per throughput trial")
	flags.IntVar(&latencySeconds, "latency-seconds", 0, "seconds for the latency measurement")
	flags.Float64Var(&lossThreshold, "loss-threshold", 0, "acceptable loss rate per trial")
	flags.Float64Var(&lowMbps, "low-mbps", 0, "binary search lower bound in Mbps")
	flags.Float64Var(&highMbps, "high-mbps", 0, "binary search upper bound in Mbps")

	return cmd
}

func benchResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <profile>",
		Short: "Show the latest benchmark report for a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var report benchReport

			path := "/api/rfc2544/results/" + url.PathEscape(args[0])
			if err := client.get(context.Background(), path, &report); err != nil {
				return fmt.Errorf("fetch results: %w", err)
			}

			out, err := formatBenchReport(report, outputFormat)
			if err != nil {
				return fmt.Errorf("format report: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func benchCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <profile>",
		Short: "Cancel a running benchmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "/api/rfc2544/" + url.PathEscape(args[0]) + "/cancel"
			if err := client.post(context.Background(), path, nil, nil); err != nil {
				return fmt.Errorf("cancel benchmark: %w", err)
			}

			fmt.Printf("Benchmark for %q cancelling.\n", args[0])

			return nil
		},
	}
}
