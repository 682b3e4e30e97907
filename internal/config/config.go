// Package config manages gotgen daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags. Profile
// descriptors are persisted separately by Store (see store.go); this
// file covers daemon-level settings only.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gotgen configuration.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Engine    EngineConfig    `koanf:"engine"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Workloads WorkloadsConfig `koanf:"workloads"`
}

// APIConfig holds the HTTP control surface configuration.
type APIConfig struct {
	// Addr is the HTTP listen address (e.g., ":8080"). The control
	// surface carries no authentication; bind it to an operator-trusted
	// interface.
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9101").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// EngineConfig holds traffic engine settings.
type EngineConfig struct {
	// StorePath is the JSON file profiles persist to. Empty disables
	// persistence; profiles then live only in memory.
	StorePath string `koanf:"store_path"`

	// Ports restricts the engine to the named devices. Empty opens
	// every enumerated physical port.
	Ports []string `koanf:"ports"`

	// HardwareTimestamps requests NIC TX timestamps where the device
	// supports them.
	HardwareTimestamps bool `koanf:"hardware_timestamps"`

	// QueueDepth bounds each port transmitter's scheduling queue; zero
	// selects the built-in default.
	QueueDepth int `koanf:"queue_depth"`
}

// DiscoveryConfig holds neighbor prober settings.
type DiscoveryConfig struct {
	// Interval is the periodic scan schedule (e.g., "10s").
	Interval time.Duration `koanf:"interval"`

	// PortTimeout bounds one port's probe (e.g., "2s").
	PortTimeout time.Duration `koanf:"port_timeout"`

	// LLDPPath is the lldpctl binary consulted read-only for peer
	// info. Empty disables LLDP probing.
	LLDPPath string `koanf:"lldp_path"`
}

// WorkloadsConfig declares the optional auxiliary workload capabilities.
// A subsystem left unconfigured is absent: its endpoints answer 404.
type WorkloadsConfig struct {
	NetFlow NetFlowConfig `koanf:"netflow"`
	SNMP    SNMPConfig    `koanf:"snmp"`
	BGP     BGPConfig     `koanf:"bgp"`
}

// NetFlowConfig holds the flow export workload settings.
type NetFlowConfig struct {
	// Collector is the UDP collector address (e.g., "10.0.0.9:2055").
	Collector string `koanf:"collector"`

	// Version selects the export encoding: "v5" or "ipfix".
	Version string `koanf:"version"`

	// Interval is the export cadence (e.g., "10s").
	Interval time.Duration `koanf:"interval"`
}

// SNMPConfig holds the trap farm workload settings.
type SNMPConfig struct {
	// TrapTarget is the manager address traps are sent to (e.g.,
	// "10.0.0.9:162").
	TrapTarget string `koanf:"trap_target"`

	// Community is the SNMPv2c community string.
	Community string `koanf:"community"`

	// Agents is the number of emulated agents in the farm.
	Agents int `koanf:"agents"`
}

// BGPConfig holds the route injection workload settings.
type BGPConfig struct {
	// GRPCAddr is the gobgpd API endpoint (e.g., "127.0.0.1:50051").
	GRPCAddr string `koanf:"grpc_addr"`

	// Timeout bounds one API call.
	Timeout time.Duration `koanf:"timeout"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Addr: ":8080",
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			StorePath: "/var/lib/gotgen/profiles.json",
		},
		Discovery: DiscoveryConfig{
			Interval:    10 * time.Second,
			PortTimeout: 2 * time.Second,
			LLDPPath:    "lldpctl",
		},
		Workloads: WorkloadsConfig{
			NetFlow: NetFlowConfig{
				Version:  "v5",
				Interval: 10 * time.Second,
			},
			SNMP: SNMPConfig{
				Community: "public",
				Agents:    1,
			},
			BGP: BGPConfig{
				Timeout: 5 * time.Second,
			},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gotgen configuration.
// Variables are named GOTGEN_<section>_<key>, e.g., GOTGEN_API_ADDR.
const envPrefix = "GOTGEN_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOTGEN_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips
// the file layer entirely.
//
// Environment variable mapping:
//
//	GOTGEN_API_ADDR           -> api.addr
//	GOTGEN_METRICS_ADDR       -> metrics.addr
//	GOTGEN_LOG_LEVEL          -> log.level
//	GOTGEN_ENGINE_STORE_PATH  -> engine.store.path (see envKeyMapper note)
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// GOTGEN_API_ADDR -> api.addr (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOTGEN_API_ADDR -> api.addr. Strips the
// GOTGEN_ prefix, lowercases, and replaces _ with . -- which means
// multi-word keys (store_path, trap_target) are reachable only through
// the YAML file, the same trade-off the underscore convention always
// has.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"api.addr":                   defaults.API.Addr,
		"metrics.addr":               defaults.Metrics.Addr,
		"metrics.path":               defaults.Metrics.Path,
		"log.level":                  defaults.Log.Level,
		"log.format":                 defaults.Log.Format,
		"engine.store_path":          defaults.Engine.StorePath,
		"discovery.interval":         defaults.Discovery.Interval.String(),
		"discovery.port_timeout":     defaults.Discovery.PortTimeout.String(),
		"discovery.lldp_path":        defaults.Discovery.LLDPPath,
		"workloads.netflow.version":  defaults.Workloads.NetFlow.Version,
		"workloads.netflow.interval": defaults.Workloads.NetFlow.Interval.String(),
		"workloads.snmp.community":   defaults.Workloads.SNMP.Community,
		"workloads.snmp.agents":      defaults.Workloads.SNMP.Agents,
		"workloads.bgp.timeout":      defaults.Workloads.BGP.Timeout.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAPIAddr indicates the HTTP listen address is empty.
	ErrEmptyAPIAddr = errors.New("api.addr must not be empty")

	// ErrInvalidLogFormat indicates an unrecognized log format.
	ErrInvalidLogFormat = errors.New("log.format must be json or text")

	// ErrInvalidProbeInterval indicates a non-positive prober interval.
	ErrInvalidProbeInterval = errors.New("discovery.interval must be > 0")

	// ErrInvalidPortTimeout indicates a non-positive per-port timeout.
	ErrInvalidPortTimeout = errors.New("discovery.port_timeout must be > 0")

	// ErrInvalidNetFlowVersion indicates an unrecognized export encoding.
	ErrInvalidNetFlowVersion = errors.New("workloads.netflow.version must be v5 or ipfix")

	// ErrInvalidAgentCount indicates a negative SNMP agent count.
	ErrInvalidAgentCount = errors.New("workloads.snmp.agents must be >= 0")
)

// ValidNetFlowVersions lists the recognized export encodings.
var ValidNetFlowVersions = map[string]bool{
	"v5":    true,
	"ipfix": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return ErrEmptyAPIAddr
	}

	if cfg.Log.Format != "" && cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log format %q: %w", cfg.Log.Format, ErrInvalidLogFormat)
	}

	if cfg.Discovery.Interval <= 0 {
		return ErrInvalidProbeInterval
	}

	if cfg.Discovery.PortTimeout <= 0 {
		return ErrInvalidPortTimeout
	}

	if v := cfg.Workloads.NetFlow.Version; v != "" && !ValidNetFlowVersions[v] {
		return fmt.Errorf("netflow version %q: %w", v, ErrInvalidNetFlowVersion)
	}

	if cfg.Workloads.SNMP.Agents < 0 {
		return ErrInvalidAgentCount
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
