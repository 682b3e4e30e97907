package netio

import "time"

// bootTime anchors the process-wide monotonic clock. Emit timestamps in
// frame signatures and latency math on the receive side both measure
// against this base.
//
//nolint:gochecknoglobals // single process-wide clock anchor.
var bootTime = time.Now()

// Uptime returns the monotonic time since process start.
func Uptime() time.Duration {
	return time.Since(bootTime)
}
