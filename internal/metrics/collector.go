// Package metrics exports engine counters to Prometheus. The collector
// is pull-based: every scrape takes a consistent registry snapshot, so
// the hot transmit path never touches a metric vec.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gotgen/internal/engine"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const namespace = "gotgen"

// Label names for traffic metrics.
const (
	labelPort    = "port"
	labelProfile = "profile"
	labelState   = "state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Traffic Metrics
// -------------------------------------------------------------------------

// Collector exposes per-port TX counters and per-profile pipeline
// counters. All metrics carry the "gotgen_" prefix to avoid collisions
// with other exporters.
type Collector struct {
	reg *engine.Registry

	portFrames  *prometheus.Desc
	portBytes   *prometheus.Desc
	portDropped *prometheus.Desc
	portLinkUp  *prometheus.Desc

	profFrames   *prometheus.Desc
	profBytes    *prometheus.Desc
	profLoss     *prometheus.Desc
	profDups     *prometheus.Desc
	profReorders *prometheus.Desc
	profOverruns *prometheus.Desc
	profState    *prometheus.Desc

	profilesActive *prometheus.Desc
}

// NewCollector creates a Collector over the registry and registers it
// against promReg. If promReg is nil, prometheus.DefaultRegisterer is
// used.
func NewCollector(reg *engine.Registry, promReg prometheus.Registerer) *Collector {
	if promReg == nil {
		promReg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		reg: reg,

		portFrames: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "port", "frames_total"),
			"Total frames transmitted on the port.",
			[]string{labelPort}, nil),
		portBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "port", "bytes_total"),
			"Total bytes transmitted on the port.",
			[]string{labelPort}, nil),
		portDropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "port", "dropped_total"),
			"Total frames dropped on the port (link down, retry exhaustion, oversize).",
			[]string{labelPort}, nil),
		portLinkUp: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "port", "link_up"),
			"Whether the port link is operationally up.",
			[]string{labelPort}, nil),

		profFrames: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "profile", "frames_sent_total"),
			"Total frames emitted by the profile pipeline.",
			[]string{labelProfile}, nil),
		profBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "profile", "bytes_sent_total"),
			"Total bytes emitted by the profile pipeline.",
			[]string{labelProfile}, nil),
		profLoss: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "profile", "loss_drops_total"),
			"Total frames dropped by the loss and burst loss impairments.",
			[]string{labelProfile}, nil),
		profDups: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "profile", "dup_emits_total"),
			"Total duplicate copies emitted by the duplication impairment.",
			[]string{labelProfile}, nil),
		profReorders: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "profile", "reorder_events_total"),
			"Total frames delayed by the reorder impairment.",
			[]string{labelProfile}, nil),
		profOverruns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "profile", "shaper_overruns_total"),
			"Total frames tail-dropped by the shaping cap queue.",
			[]string{labelProfile}, nil),
		profState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "profile", "state"),
			"Profile lifecycle state (1 for the current state label).",
			[]string{labelProfile, labelState}, nil),

		profilesActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "profiles_active"),
			"Number of profiles currently emitting frames.",
			nil, nil),
	}

	promReg.MustRegister(c)

	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.portFrames
	ch <- c.portBytes
	ch <- c.portDropped
	ch <- c.portLinkUp
	ch <- c.profFrames
	ch <- c.profBytes
	ch <- c.profLoss
	ch <- c.profDups
	ch <- c.profReorders
	ch <- c.profOverruns
	ch <- c.profState
	ch <- c.profilesActive
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, port := range c.reg.PortViews() {
		ch <- prometheus.MustNewConstMetric(c.portFrames,
			prometheus.CounterValue, float64(port.Counters.Frames), port.Name)
		ch <- prometheus.MustNewConstMetric(c.portBytes,
			prometheus.CounterValue, float64(port.Counters.Bytes), port.Name)
		ch <- prometheus.MustNewConstMetric(c.portDropped,
			prometheus.CounterValue, float64(port.Counters.Dropped), port.Name)

		linkUp := 0.0
		if port.LinkUp {
			linkUp = 1
		}
		ch <- prometheus.MustNewConstMetric(c.portLinkUp,
			prometheus.GaugeValue, linkUp, port.Name)
	}

	active := 0.0

	for _, prof := range c.reg.ProfileViews() {
		ch <- prometheus.MustNewConstMetric(c.profFrames,
			prometheus.CounterValue, float64(prof.Counters.FramesSent), prof.Name)
		ch <- prometheus.MustNewConstMetric(c.profBytes,
			prometheus.CounterValue, float64(prof.Counters.BytesSent), prof.Name)
		ch <- prometheus.MustNewConstMetric(c.profLoss,
			prometheus.CounterValue, float64(prof.Counters.LossDrops), prof.Name)
		ch <- prometheus.MustNewConstMetric(c.profDups,
			prometheus.CounterValue, float64(prof.Counters.DupEmits), prof.Name)
		ch <- prometheus.MustNewConstMetric(c.profReorders,
			prometheus.CounterValue, float64(prof.Counters.ReorderEvents), prof.Name)
		ch <- prometheus.MustNewConstMetric(c.profOverruns,
			prometheus.CounterValue, float64(prof.Counters.ShaperOverruns), prof.Name)
		ch <- prometheus.MustNewConstMetric(c.profState,
			prometheus.GaugeValue, 1, prof.Name, prof.State)

		if prof.State == "running" || prof.State == "updating" {
			active++
		}
	}

	ch <- prometheus.MustNewConstMetric(c.profilesActive,
		prometheus.GaugeValue, active)
}
