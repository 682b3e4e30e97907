package workloads

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/dantte-lp/gotgen/internal/engine"
	"github.com/dantte-lp/gotgen/internal/netio"
)

// -------------------------------------------------------------------------
// SNMP Trap Farm
// -------------------------------------------------------------------------

// Standard OIDs carried in every trap.
const (
	oidSysUptime    = ".1.3.6.1.2.1.1.3.0"
	oidSnmpTrapOID  = ".1.3.6.1.6.3.1.1.4.1.0"
	oidSysName      = ".1.3.6.1.2.1.1.5.0"
	oidIfOutOctets  = ".1.3.6.1.2.1.2.2.1.16"
	oidColdStart    = ".1.3.6.1.6.3.1.1.5.1"
	oidEnterprise   = ".1.3.6.1.4.1.8072.9999.1"
	defaultTrapPort = 162
)

const defaultTrapInterval = 10 * time.Second

// SNMPConfig parameterizes the trap farm.
type SNMPConfig struct {
	// TrapTarget is the manager address, "host:port" or bare host.
	TrapTarget string

	// Community is the SNMPv2c community string.
	Community string

	// Agents is the number of emulated agents; each sends its own trap
	// stream under a distinct sysName.
	Agents int

	// Interval is the per-agent trap cadence; zero selects 10s.
	Interval time.Duration
}

// TrapFarm emulates a population of SNMPv2c agents, each periodically
// sending traps that carry the engine's per-port TX octet counters.
// Useful for exercising trap receivers and NMS ingest pipelines.
type TrapFarm struct {
	cfg SNMPConfig
	reg *engine.Registry
	log *slog.Logger
}

// NewTrapFarm creates the farm. The registry supplies the counter
// varbinds included in each trap.
func NewTrapFarm(reg *engine.Registry, cfg SNMPConfig, logger *slog.Logger) *TrapFarm {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Agents <= 0 {
		cfg.Agents = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultTrapInterval
	}
	if cfg.Community == "" {
		cfg.Community = "public"
	}

	return &TrapFarm{
		cfg: cfg,
		reg: reg,
		log: logger.With(slog.String("component", "snmp")),
	}
}

// Name implements Workload.
func (f *TrapFarm) Name() string { return "snmp" }

// Run sends one cold-start trap per agent, then periodic counter traps
// until ctx is cancelled.
func (f *TrapFarm) Run(ctx context.Context) error {
	host, port, err := splitTrapTarget(f.cfg.TrapTarget)
	if err != nil {
		return err
	}

	client := &gosnmp.GoSNMP{
		Target:    host,
		Port:      port,
		Community: f.cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   2 * time.Second,
		Retries:   0,
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect trap target %s: %w", f.cfg.TrapTarget, err)
	}
	defer client.Conn.Close()

	f.log.Info("trap farm started",
		slog.String("target", f.cfg.TrapTarget),
		slog.Int("agents", f.cfg.Agents))

	for agent := 0; agent < f.cfg.Agents; agent++ {
		if err := f.sendTrap(client, agent, oidColdStart); err != nil {
			f.log.Warn("cold start trap failed",
				slog.Int("agent", agent), slog.Any("error", err))
		}
	}

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for agent := 0; agent < f.cfg.Agents; agent++ {
				if err := f.sendTrap(client, agent, oidEnterprise); err != nil {
					f.log.Warn("trap failed",
						slog.Int("agent", agent), slog.Any("error", err))
				}
			}
		}
	}
}

// sendTrap emits one trap for the given agent: uptime, trap OID,
// sysName, then one ifOutOctets varbind per registered port.
func (f *TrapFarm) sendTrap(client *gosnmp.GoSNMP, agent int, trapOID string) error {
	uptimeTicks := uint32(netio.Uptime().Milliseconds() / 10) //nolint:gosec // G115: TimeTicks wrap after 497 days on the wire.

	vars := []gosnmp.SnmpPDU{
		{Name: oidSysUptime, Type: gosnmp.TimeTicks, Value: uptimeTicks},
		{Name: oidSnmpTrapOID, Type: gosnmp.ObjectIdentifier, Value: trapOID},
		{Name: oidSysName, Type: gosnmp.OctetString, Value: fmt.Sprintf("gotgen-agent-%d", agent)},
	}

	for _, port := range f.reg.PortViews() {
		vars = append(vars, gosnmp.SnmpPDU{
			Name:  oidIfOutOctets + "." + strconv.Itoa(port.Index),
			Type:  gosnmp.Counter32,
			Value: clamp32(port.Counters.Bytes),
		})
	}

	if _, err := client.SendTrap(gosnmp.SnmpTrap{Variables: vars}); err != nil {
		return fmt.Errorf("send trap: %w", err)
	}

	return nil
}

// splitTrapTarget accepts "host:port" or a bare host (default port 162).
func splitTrapTarget(target string) (string, uint16, error) {
	if target == "" {
		return "", 0, fmt.Errorf("empty trap target: %w", ErrNotAvailable)
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return target, defaultTrapPort, nil //nolint:nilerr // bare host form.
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("trap target port %q: %w", portStr, err)
	}

	return host, uint16(port), nil
}
