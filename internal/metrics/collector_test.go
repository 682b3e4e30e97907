package metrics_test

import (
	"log/slog"
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dantte-lp/gotgen/internal/engine"
	"github.com/dantte-lp/gotgen/internal/metrics"
	"github.com/dantte-lp/gotgen/internal/netio"
)

func testRegistry(t *testing.T) *engine.Registry {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	reg := engine.NewRegistry(logger)

	reg.AddPort(engine.NewPort(netio.PortInfo{
		Name:   "eth1",
		Index:  3,
		MAC:    [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		MTU:    1500,
		Type:   "physical",
		OperUp: true,
	}, nil))
	reg.AddPort(engine.NewPort(netio.PortInfo{
		Name:  "eth2",
		Index: 4,
		MAC:   [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		MTU:   1500,
		Type:  "physical",
	}, nil))

	if _, err := reg.CreateProfile(&engine.Profile{
		Name:          "uplink",
		SrcPort:       "eth1",
		DstPort:       "eth2",
		DstIP:         netip.MustParseAddr("10.0.0.2"),
		ProtocolName:  "ipv4",
		BandwidthMbps: 10,
		FrameSize:     128,
	}); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	return reg
}

// metricValue gathers promReg and returns the sample whose label set
// matches want exactly. Fails the test when the series is absent.
func metricValue(t *testing.T, promReg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()

	families, err := promReg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}

	metric:
		for _, m := range fam.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if len(labels) != len(want) {
				continue metric
			}
			for k, v := range want {
				if labels[k] != v {
					continue metric
				}
			}

			return sampleValue(m)
		}
	}

	t.Fatalf("metric %s%v not found", name, want)

	return 0
}

func sampleValue(m *dto.Metric) float64 {
	if g := m.GetGauge(); g != nil {
		return g.GetValue()
	}

	return m.GetCounter().GetValue()
}

func TestCollectorPortMetrics(t *testing.T) {
	t.Parallel()

	promReg := prometheus.NewPedanticRegistry()
	metrics.NewCollector(testRegistry(t), promReg)

	if v := metricValue(t, promReg, "gotgen_port_frames_total", map[string]string{"port": "eth1"}); v != 0 {
		t.Errorf("eth1 frames = %v, want 0", v)
	}
	if v := metricValue(t, promReg, "gotgen_port_link_up", map[string]string{"port": "eth1"}); v != 1 {
		t.Errorf("eth1 link_up = %v, want 1", v)
	}
	if v := metricValue(t, promReg, "gotgen_port_link_up", map[string]string{"port": "eth2"}); v != 0 {
		t.Errorf("eth2 link_up = %v, want 0", v)
	}
}

func TestCollectorProfileMetrics(t *testing.T) {
	t.Parallel()

	promReg := prometheus.NewPedanticRegistry()
	metrics.NewCollector(testRegistry(t), promReg)

	if v := metricValue(t, promReg, "gotgen_profile_frames_sent_total", map[string]string{"profile": "uplink"}); v != 0 {
		t.Errorf("uplink frames = %v, want 0", v)
	}
	if v := metricValue(t, promReg, "gotgen_profile_state",
		map[string]string{"profile": "uplink", "state": "idle"}); v != 1 {
		t.Errorf("uplink idle state gauge = %v, want 1", v)
	}
	if v := metricValue(t, promReg, "gotgen_engine_profiles_active", map[string]string{}); v != 0 {
		t.Errorf("profiles_active = %v, want 0", v)
	}
}

func TestCollectorGatherIsClean(t *testing.T) {
	t.Parallel()

	// The pedantic registry rejects inconsistent label sets and
	// duplicate series at gather time.
	promReg := prometheus.NewPedanticRegistry()
	metrics.NewCollector(testRegistry(t), promReg)

	if _, err := promReg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}
