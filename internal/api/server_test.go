package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/dantte-lp/gotgen/internal/api"
	"github.com/dantte-lp/gotgen/internal/engine"
	"github.com/dantte-lp/gotgen/internal/netio"
	"github.com/dantte-lp/gotgen/internal/workloads"
)

type fixture struct {
	core *engine.Core
	wl   *workloads.Manager
	srv  *httptest.Server
}

// blockingWorkload parks until cancelled.
type blockingWorkload struct{ name string }

func (b blockingWorkload) Name() string { return b.name }

func (b blockingWorkload) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	reg := engine.NewRegistry(logger)

	reg.AddPort(engine.NewPort(netio.PortInfo{
		Name: "eth1", Index: 3, MTU: 1500, OperUp: true,
		IPv4: netip.MustParsePrefix("10.0.0.1/24"),
	}, nil))
	reg.AddPort(engine.NewPort(netio.PortInfo{
		Name: "eth2", Index: 4, MTU: 1500, OperUp: true,
	}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	core := engine.NewCore(ctx, reg, nil, nil, logger)
	bench := engine.NewBench(reg, nil, logger)

	wl := workloads.NewManager(logger)
	wl.Register(blockingWorkload{name: "netflow"})

	srv := httptest.NewServer(api.New(core, bench, wl, logger).Handler())

	t.Cleanup(func() {
		srv.Client().CloseIdleConnections()
		srv.Close()
		wl.StopAll()
		core.Shutdown(context.Background())
		cancel()
	})

	return &fixture{core: core, wl: wl, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}

	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	return resp, raw
}

func profileBody(name string) map[string]any {
	return map[string]any{
		"name":           name,
		"src_port":       "eth1",
		"dst_port":       "eth2",
		"dst_ip":         "10.0.0.2",
		"protocol":       "ipv4",
		"bandwidth_mbps": 10,
		"frame_size":     128,
	}
}

func TestListInterfaces(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, raw := f.do(t, http.MethodGet, "/api/interfaces", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
	}

	var out struct {
		Ports []engine.PortView `json:"ports"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Ports) != 2 || out.Ports[0].Name != "eth1" {
		t.Errorf("ports = %+v", out.Ports)
	}
	if out.Ports[0].IPv4 != "10.0.0.1/24" {
		t.Errorf("eth1 ipv4 = %q", out.Ports[0].IPv4)
	}
}

func TestProfileCRUD(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, raw := f.do(t, http.MethodPost, "/api/traffic-profiles", profileBody("uplink"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, raw)
	}

	// Duplicate name conflicts.
	resp, _ = f.do(t, http.MethodPost, "/api/traffic-profiles", profileBody("uplink"))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", resp.StatusCode)
	}

	// Malformed descriptor is a bad request.
	bad := profileBody("broken")
	bad["protocol"] = "carrier-pigeon"
	resp, _ = f.do(t, http.MethodPost, "/api/traffic-profiles", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want 400", resp.StatusCode)
	}

	// Partial update touches only the named field.
	resp, raw = f.do(t, http.MethodPut, "/api/traffic-profiles/uplink",
		map[string]any{"bandwidth_mbps": 250})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, body %s", resp.StatusCode, raw)
	}

	var updated struct {
		Profile engine.Profile `json:"profile"`
	}
	if err := json.Unmarshal(raw, &updated); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if updated.Profile.BandwidthMbps != 250 {
		t.Errorf("bandwidth = %v, want 250", updated.Profile.BandwidthMbps)
	}
	if updated.Profile.DstIP != netip.MustParseAddr("10.0.0.2") {
		t.Errorf("partial update clobbered dst_ip: %v", updated.Profile.DstIP)
	}

	resp, _ = f.do(t, http.MethodPut, "/api/traffic-profiles/ghost",
		map[string]any{"bandwidth_mbps": 1})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("update unknown status = %d, want 404", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodDelete, "/api/traffic-profiles/uplink", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodDelete, "/api/traffic-profiles/uplink", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestProfilePreset(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	body := profileBody("sat")
	body["impairment_preset"] = "satellite"

	resp, raw := f.do(t, http.MethodPost, "/api/traffic-profiles", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, raw)
	}

	resp, raw = f.do(t, http.MethodGet, "/api/traffic-profiles", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}

	var out struct {
		Profiles []engine.ProfileView `json:"profiles"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Profiles) != 1 {
		t.Fatalf("profiles = %+v", out.Profiles)
	}
	if out.Profiles[0].Impairments.LatencyMs != 600 {
		t.Errorf("satellite latency = %v, want 600", out.Profiles[0].Impairments.LatencyMs)
	}

	body = profileBody("bad-preset")
	body["impairment_preset"] = "avian"
	resp, _ = f.do(t, http.MethodPost, "/api/traffic-profiles", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown preset status = %d, want 400", resp.StatusCode)
	}
}

func TestEnableWithoutEndpointConflicts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/traffic-profiles", profileBody("uplink"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	// eth1 has no raw endpoint in the fixture.
	resp, _ = f.do(t, http.MethodPost, "/api/traffic-profiles/uplink/enable", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("enable status = %d, want 409", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/traffic-profiles/uplink/disable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("disable status = %d, want 200", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/traffic-profiles/ghost/enable", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("enable unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestStatsEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, raw := f.do(t, http.MethodGet, "/api/traffic/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}

	var snap engine.StatsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Ports) != 2 {
		t.Errorf("snapshot ports = %d, want 2", len(snap.Ports))
	}
	if snap.Timestamp.IsZero() {
		t.Error("snapshot timestamp not stamped")
	}

	resp, _ = f.do(t, http.MethodPost, "/api/traffic/stats/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reset status = %d", resp.StatusCode)
	}

	resp, raw = f.do(t, http.MethodGet, "/api/traffic/stats/export", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("export content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if !strings.HasPrefix(lines[0], "kind,name,frames,bytes") {
		t.Errorf("csv header = %q", lines[0])
	}
	// Header plus one row per port.
	if len(lines) != 3 {
		t.Errorf("csv rows = %d, want 3", len(lines))
	}
}

func TestStartStopAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, raw := f.do(t, http.MethodPost, "/api/traffic/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("start status = %d, body %s", resp.StatusCode, raw)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/traffic/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stop status = %d", resp.StatusCode)
	}
}

func TestPresetCatalogue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, raw := f.do(t, http.MethodGet, "/api/impairments/presets", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("presets status = %d", resp.StatusCode)
	}

	var out struct {
		Presets map[string]engine.Impairments `json:"presets"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Presets["satellite"].LatencyMs != 600 {
		t.Errorf("satellite preset = %+v", out.Presets["satellite"])
	}
}

func TestDiscoverNeighbors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, raw := f.do(t, http.MethodPost, "/api/neighbors/discover",
		map[string]any{"interfaces": []string{"eth1"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("discover status = %d, body %s", resp.StatusCode, raw)
	}

	var out struct {
		Neighbors map[string]engine.NeighborCache `json:"neighbors"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Neighbors) != 1 {
		t.Errorf("neighbors = %v, want eth1 only", out.Neighbors)
	}
	if nc, ok := out.Neighbors["eth1"]; !ok || !nc.LinkUp {
		t.Errorf("eth1 cache = %+v", out.Neighbors["eth1"])
	}
}

func TestBenchResultsNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/rfc2544/results/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("bench results status = %d, want 404", resp.StatusCode)
	}
}

func TestWorkloadLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, raw := f.do(t, http.MethodGet, "/api/workloads", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("workloads status = %d", resp.StatusCode)
	}

	var out struct {
		Workloads map[string]workloads.Status `json:"workloads"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st, ok := out.Workloads["netflow"]; !ok || st.Running {
		t.Errorf("netflow status = %+v", out.Workloads)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/workloads/netflow/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("workload start status = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/workloads/netflow/start", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double start status = %d, want 409", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/workloads/netflow/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("workload stop status = %d", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/workloads/snmp/start", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown workload status = %d, want 404", resp.StatusCode)
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/nonsense", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", resp.StatusCode)
	}
}
