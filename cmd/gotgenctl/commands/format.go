// Package commands implements the gotgenctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStructured renders v as indented JSON or YAML. Table output is
// handled per-type by the format*Table functions.
func formatStructured(v any, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal to JSON: %w", err)
		}

		return string(data) + "\n", nil
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal to YAML: %w", err)
		}

		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// shortTime renders a timestamp or N/A for the zero value.
func shortTime(t time.Time) string {
	if t.IsZero() {
		return valueNA
	}

	return t.Format(time.RFC3339)
}

// flushTable finalizes a tabwriter into its builder.
func flushTable(buf *strings.Builder, w *tabwriter.Writer) (string, error) {
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// -------------------------------------------------------------------------
// Ports
// -------------------------------------------------------------------------

func formatPorts(ports []portView, format string) (string, error) {
	if format != formatTable {
		return formatStructured(ports, format)
	}

	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMAC\tMTU\tSPEED\tTYPE\tLINK\tSENDABLE\tIPV4\tFRAMES\tDROPPED")

	for _, p := range ports {
		speed := valueNA
		if p.SpeedMbps > 0 {
			speed = fmt.Sprintf("%d Mbps", p.SpeedMbps)
		}

		ipv4 := p.IPv4
		if ipv4 == "" {
			ipv4 = valueNA
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%t\t%s\t%d\t%d\n",
			p.Name, p.MAC, p.MTU, speed, p.Type,
			linkString(p.LinkUp), p.Sendable, ipv4,
			p.Counters.Frames, p.Counters.Dropped,
		)
	}

	return flushTable(&buf, w)
}

func linkString(up bool) string {
	if up {
		return "up"
	}

	return "down"
}

// -------------------------------------------------------------------------
// Profiles
// -------------------------------------------------------------------------

func formatProfiles(profiles []profileView, format string) (string, error) {
	if format != formatTable {
		return formatStructured(profiles, format)
	}

	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSRC\tDST\tPROTOCOL\tRATE\tFRAME\tSTATE\tSENT\tDROPS")

	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%s\t%s -> %s\t%s\t%g Mbps\t%dB\t%s\t%d\t%d\n",
			p.Name, p.SrcPort, p.DstPort, p.DstIP,
			p.Protocol, p.BandwidthMbps, p.FrameSize, p.State,
			p.Counters.FramesSent, p.Counters.LossDrops,
		)
	}

	return flushTable(&buf, w)
}

func formatProfileDetail(p profileView, format string) (string, error) {
	if format != formatTable {
		return formatStructured(p, format)
	}

	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Name:\t%s\n", p.Name)
	fmt.Fprintf(w, "Source Port:\t%s\n", p.SrcPort)
	fmt.Fprintf(w, "Destination Port:\t%s\n", p.DstPort)
	fmt.Fprintf(w, "Destination IP:\t%s\n", p.DstIP)
	fmt.Fprintf(w, "Protocol:\t%s\n", p.Protocol)

	if p.L4Port != 0 {
		fmt.Fprintf(w, "L4 Port:\t%d\n", p.L4Port)
	}
	if p.VNI != 0 {
		fmt.Fprintf(w, "VXLAN VNI:\t%d\n", p.VNI)
	}
	if p.MPLSLabel != 0 {
		fmt.Fprintf(w, "MPLS Label:\t%d\n", p.MPLSLabel)
	}
	if p.OuterVLAN != 0 {
		fmt.Fprintf(w, "Outer VLAN:\t%d\n", p.OuterVLAN)
	}
	if p.InnerVLAN != 0 {
		fmt.Fprintf(w, "Inner VLAN:\t%d\n", p.InnerVLAN)
	}

	fmt.Fprintf(w, "Bandwidth:\t%g Mbps\n", p.BandwidthMbps)
	fmt.Fprintf(w, "Frame Size:\t%d\n", p.FrameSize)
	fmt.Fprintf(w, "DSCP:\t%d\n", p.DSCP)
	fmt.Fprintf(w, "Enabled:\t%t\n", p.Enabled)
	fmt.Fprintf(w, "State:\t%s\n", p.State)

	if p.Cause != "" {
		fmt.Fprintf(w, "Cause:\t%s\n", p.Cause)
	}

	im := p.Impairments
	fmt.Fprintf(w, "Latency:\t%g ms (jitter %g ms)\n", im.LatencyMs, im.JitterMs)
	fmt.Fprintf(w, "Loss:\t%g%% (burst %g%%)\n", im.LossPercent, im.BurstLossPercent)
	fmt.Fprintf(w, "Reorder:\t%g%%\n", im.ReorderPercent)
	fmt.Fprintf(w, "Duplicate:\t%g%%\n", im.DuplicatePercent)

	if im.ShapingCapMbps > 0 {
		fmt.Fprintf(w, "Shaping Cap:\t%g Mbps\n", im.ShapingCapMbps)
	}

	c := p.Counters
	fmt.Fprintf(w, "Frames Sent:\t%d\n", c.FramesSent)
	fmt.Fprintf(w, "Bytes Sent:\t%d\n", c.BytesSent)
	fmt.Fprintf(w, "Loss Drops:\t%d\n", c.LossDrops)
	fmt.Fprintf(w, "Duplicates:\t%d\n", c.DupEmits)
	fmt.Fprintf(w, "Reorders:\t%d\n", c.ReorderEvents)
	fmt.Fprintf(w, "Shaper Overruns:\t%d\n", c.ShaperOverruns)
	fmt.Fprintf(w, "Last Send:\t%s\n", shortTime(c.LastSend))

	return flushTable(&buf, w)
}

// -------------------------------------------------------------------------
// Stats
// -------------------------------------------------------------------------

func formatStats(s statsSnapshot, format string) (string, error) {
	if format != formatTable {
		return formatStructured(s, format)
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "Snapshot at %s\n\n", shortTime(s.Timestamp))

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tFRAMES\tBYTES\tDROPPED\tLAST-TX")

	for _, name := range sortedKeys(s.Ports) {
		c := s.Ports[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
			name, c.Frames, c.Bytes, c.Dropped, shortTime(c.LastTX))
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	buf.WriteString("\n")
	w = tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tFRAMES\tBYTES\tLOSS\tDUPS\tREORDERS\tOVERRUNS")

	for _, name := range sortedKeys(s.Profiles) {
		c := s.Profiles[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			name, c.FramesSent, c.BytesSent, c.LossDrops,
			c.DupEmits, c.ReorderEvents, c.ShaperOverruns)
	}

	return flushTable(&buf, w)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// -------------------------------------------------------------------------
// Neighbors
// -------------------------------------------------------------------------

func formatNeighbors(caches map[string]neighborCache, format string) (string, error) {
	if format != formatTable {
		return formatStructured(caches, format)
	}

	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tKIND\tNEIGHBOR\tDETAIL\tLINK\tLAST-SCAN")

	for _, port := range sortedKeys(caches) {
		cache := caches[port]
		link := linkString(cache.LinkUp)
		scan := shortTime(cache.LastScan)

		if len(cache.ARP) == 0 && len(cache.LLDP) == 0 {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%s\t%s\n", port, link, scan)
			continue
		}

		for _, e := range cache.ARP {
			fmt.Fprintf(w, "%s\tarp\t%s\t%s (%s)\t%s\t%s\n",
				port, e.IP, e.MAC, e.State, link, scan)
		}

		for _, e := range cache.LLDP {
			fmt.Fprintf(w, "%s\tlldp\t%s\tport %s chassis %s\t%s\t%s\n",
				port, e.SystemName, e.PortID, e.ChassisID, link, scan)
		}
	}

	return flushTable(&buf, w)
}

// -------------------------------------------------------------------------
// Benchmark reports
// -------------------------------------------------------------------------

func formatBenchReport(r benchReport, format string) (string, error) {
	if format != formatTable {
		return formatStructured(r, format)
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "Profile: %s\nState:   %s\nStarted: %s\n",
		r.Profile, r.State, shortTime(r.StartedAt))

	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&buf, "Finished: %s\n", shortTime(r.FinishedAt))
	}

	if len(r.Throughput) > 0 {
		buf.WriteString("\nThroughput:\n")
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  FRAME\tRATE\tSENT\tRECEIVED\tLOSS\tPASS")

		for _, t := range r.Throughput {
			fmt.Fprintf(w, "  %dB\t%.2f Mbps\t%d\t%d\t%.4f\t%t\n",
				t.FrameSize, t.RateMbps, t.Sent, t.Received, t.LossRate, t.Pass)
		}

		if _, err := flushTable(&buf, w); err != nil {
			return "", err
		}
	}

	if l := r.Latency; l != nil {
		fmt.Fprintf(&buf, "\nLatency at %.2f Mbps: min %.1fus mean %.1fus max %.1fus (%d samples)\n",
			l.RateMbps, l.MinUs, l.MeanUs, l.MaxUs, l.Samples)
	}

	if len(r.FrameLoss) > 0 {
		buf.WriteString("\nFrame loss:\n")
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  LOAD\tRATE\tLOSS")

		for _, s := range r.FrameLoss {
			fmt.Fprintf(w, "  %d%%\t%.2f Mbps\t%.4f\n", s.Percent, s.RateMbps, s.LossRate)
		}

		if _, err := flushTable(&buf, w); err != nil {
			return "", err
		}
	}

	if len(r.BackToBack) > 0 {
		buf.WriteString("\nBack-to-back:\n")

		for _, b := range r.BackToBack {
			fmt.Fprintf(&buf, "  %dB: longest burst %d frames\n", b.FrameSize, b.LongestBurst)
		}
	}

	for _, f := range r.Failures {
		fmt.Fprintf(&buf, "\nFailure: %s\n", f)
	}

	return buf.String(), nil
}

// -------------------------------------------------------------------------
// Workloads
// -------------------------------------------------------------------------

func formatWorkloads(statuses map[string]workloadStatus, format string) (string, error) {
	if format != formatTable {
		return formatStructured(statuses, format)
	}

	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKLOAD\tRUNNING\tSTARTED\tLAST-ERROR")

	for _, name := range sortedKeys(statuses) {
		st := statuses[name]
		lastErr := st.LastError
		if lastErr == "" {
			lastErr = "-"
		}

		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n",
			name, st.Running, shortTime(st.StartedAt), lastErr)
	}

	return flushTable(&buf, w)
}

// -------------------------------------------------------------------------
// Presets
// -------------------------------------------------------------------------

func formatPresets(presets map[string]impairments, format string) (string, error) {
	if format != formatTable {
		return formatStructured(presets, format)
	}

	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tLATENCY\tJITTER\tLOSS\tBURST\tREORDER\tDUP\tCAP")

	for _, name := range sortedKeys(presets) {
		im := presets[name]
		shapingCap := "-"
		if im.ShapingCapMbps > 0 {
			shapingCap = fmt.Sprintf("%g Mbps", im.ShapingCapMbps)
		}

		fmt.Fprintf(w, "%s\t%g ms\t%g ms\t%g%%\t%g%%\t%g%%\t%g%%\t%s\n",
			name, im.LatencyMs, im.JitterMs, im.LossPercent,
			im.BurstLossPercent, im.ReorderPercent, im.DuplicatePercent, shapingCap)
	}

	return flushTable(&buf, w)
}
