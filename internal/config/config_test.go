package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/gotgen/internal/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gotgen.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.API.Addr != ":8080" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, ":8080")
	}

	if cfg.Metrics.Addr != ":9101" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9101")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Discovery.Interval != 10*time.Second {
		t.Errorf("Discovery.Interval = %v, want %v", cfg.Discovery.Interval, 10*time.Second)
	}

	if cfg.Discovery.PortTimeout != 2*time.Second {
		t.Errorf("Discovery.PortTimeout = %v, want %v", cfg.Discovery.PortTimeout, 2*time.Second)
	}

	if cfg.Workloads.NetFlow.Version != "v5" {
		t.Errorf("NetFlow.Version = %q, want %q", cfg.Workloads.NetFlow.Version, "v5")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
api:
  addr: ":9000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
engine:
  store_path: "/tmp/profiles.json"
  ports: ["eth1", "eth2"]
  hardware_timestamps: true
discovery:
  interval: "30s"
  port_timeout: "5s"
workloads:
  netflow:
    collector: "10.0.0.9:2055"
    version: "ipfix"
  snmp:
    trap_target: "10.0.0.9:162"
    agents: 4
  bgp:
    grpc_addr: "127.0.0.1:50051"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.API.Addr != ":9000" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, ":9000")
	}
	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want debug/text", cfg.Log)
	}
	if cfg.Engine.StorePath != "/tmp/profiles.json" {
		t.Errorf("Engine.StorePath = %q", cfg.Engine.StorePath)
	}
	if len(cfg.Engine.Ports) != 2 || cfg.Engine.Ports[0] != "eth1" {
		t.Errorf("Engine.Ports = %v, want [eth1 eth2]", cfg.Engine.Ports)
	}
	if !cfg.Engine.HardwareTimestamps {
		t.Error("Engine.HardwareTimestamps = false, want true")
	}
	if cfg.Discovery.Interval != 30*time.Second {
		t.Errorf("Discovery.Interval = %v, want 30s", cfg.Discovery.Interval)
	}
	if cfg.Workloads.NetFlow.Collector != "10.0.0.9:2055" {
		t.Errorf("NetFlow.Collector = %q", cfg.Workloads.NetFlow.Collector)
	}
	if cfg.Workloads.NetFlow.Version != "ipfix" {
		t.Errorf("NetFlow.Version = %q, want ipfix", cfg.Workloads.NetFlow.Version)
	}
	if cfg.Workloads.SNMP.Agents != 4 {
		t.Errorf("SNMP.Agents = %d, want 4", cfg.Workloads.SNMP.Agents)
	}
	if cfg.Workloads.BGP.GRPCAddr != "127.0.0.1:50051" {
		t.Errorf("BGP.GRPCAddr = %q", cfg.Workloads.BGP.GRPCAddr)
	}
}

func TestLoadMissingFieldsInheritDefaults(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "api:\n  addr: \":7070\"\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Addr != ":7070" {
		t.Errorf("API.Addr = %q, want override", cfg.API.Addr)
	}
	if cfg.Metrics.Addr != ":9101" {
		t.Errorf("Metrics.Addr = %q, want default", cfg.Metrics.Addr)
	}
	if cfg.Discovery.Interval != 10*time.Second {
		t.Errorf("Discovery.Interval = %v, want default", cfg.Discovery.Interval)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}

	if cfg.API.Addr != ":8080" {
		t.Errorf("API.Addr = %q, want default", cfg.API.Addr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GOTGEN_API_ADDR", ":6060")
	t.Setenv("GOTGEN_LOG_LEVEL", "warn")

	path := writeTemp(t, "api:\n  addr: \":7070\"\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Addr != ":6060" {
		t.Errorf("API.Addr = %q, want env override :6060", cfg.API.Addr)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want env override warn", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing file succeeded, want error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty api addr",
			mutate:  func(c *config.Config) { c.API.Addr = "" },
			wantErr: config.ErrEmptyAPIAddr,
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Log.Format = "xml" },
			wantErr: config.ErrInvalidLogFormat,
		},
		{
			name:    "zero prober interval",
			mutate:  func(c *config.Config) { c.Discovery.Interval = 0 },
			wantErr: config.ErrInvalidProbeInterval,
		},
		{
			name:    "zero port timeout",
			mutate:  func(c *config.Config) { c.Discovery.PortTimeout = 0 },
			wantErr: config.ErrInvalidPortTimeout,
		},
		{
			name:    "bad netflow version",
			mutate:  func(c *config.Config) { c.Workloads.NetFlow.Version = "v9" },
			wantErr: config.ErrInvalidNetFlowVersion,
		},
		{
			name:    "negative agent count",
			mutate:  func(c *config.Config) { c.Workloads.SNMP.Agents = -1 },
			wantErr: config.ErrInvalidAgentCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.mutate(cfg)

			if err := config.Validate(cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := config.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
