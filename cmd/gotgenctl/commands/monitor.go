package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch live send rates",
		Long:  "Polls the stats endpoint and prints per-port frame and bit rates until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runMonitor(ctx, interval); err != nil {
				// Context cancellation (Ctrl+C) is expected, not an error.
				if errors.Is(err, context.Canceled) {
					return nil
				}

				return err
			}

			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")

	return cmd
}

// runMonitor polls snapshots and prints the rate deltas between
// consecutive samples.
func runMonitor(ctx context.Context, interval time.Duration) error {
	var prev *statsSnapshot

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var snap statsSnapshot
		if err := client.get(ctx, "/api/traffic/stats", &snap); err != nil {
			return fmt.Errorf("fetch stats: %w", err)
		}

		if prev != nil {
			printRates(prev, &snap)
		}

		prev = &snap

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// printRates renders one line per port with activity since the last
// sample. Counter resets show as a fresh baseline, not negative rates.
func printRates(prev, cur *statsSnapshot) {
	elapsed := cur.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 {
		return
	}

	ts := cur.Timestamp.Format("15:04:05")

	for _, name := range sortedKeys(cur.Ports) {
		c := cur.Ports[name]

		p, ok := prev.Ports[name]
		if !ok || c.Frames < p.Frames {
			p = txCounters{}
		}

		fps := float64(c.Frames-p.Frames) / elapsed
		mbps := float64(c.Bytes-p.Bytes) * 8 / elapsed / 1e6

		fmt.Printf("[%s] %-12s %10.0f fps  %10.3f Mbps  dropped=%d\n",
			ts, name, fps, mbps, c.Dropped)
	}
}
