// Package discovery keeps per-port neighbor caches fresh: kernel
// ARP/NDP entries, optional LLDP peer info from a host lldpd, and link
// state. The prober is strictly read-only towards the kernel.
package discovery

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jsimonetti/rtnetlink/v2"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gotgen/internal/engine"
	"github.com/dantte-lp/gotgen/internal/netio"
)

const (
	// DefaultInterval is the periodic scan schedule.
	DefaultInterval = 10 * time.Second

	// DefaultPortTimeout bounds one port's probe; a timed-out port keeps
	// its previous cache.
	DefaultPortTimeout = 2 * time.Second
)

// neighborRow is one kernel neighbor table entry.
type neighborRow struct {
	ifIndex int
	ip      string
	mac     string
	state   string
}

// Config tunes the prober.
type Config struct {
	// Interval is the periodic scan schedule; zero selects the default.
	Interval time.Duration

	// PortTimeout bounds one port's probe; zero selects the default.
	PortTimeout time.Duration

	// LLDPPath is the lldpctl binary consulted read-only for peer info.
	// Empty disables LLDP probing.
	LLDPPath string
}

// Prober refreshes neighbor caches on a schedule and on demand. It
// implements engine.NeighborScanner.
type Prober struct {
	reg *engine.Registry
	cfg Config
	log *slog.Logger

	// Probe seams, replaceable in tests.
	neighbors func(ctx context.Context) ([]neighborRow, error)
	lldp      func(ctx context.Context, ifname string) ([]engine.LLDPEntry, error)
	linkState func(name string) (up bool, speedMbps int, duplex string, err error)
}

// NewProber wires a prober against the registry's port set.
func NewProber(reg *engine.Registry, cfg Config, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PortTimeout <= 0 {
		cfg.PortTimeout = DefaultPortTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Prober{
		reg:       reg,
		cfg:       cfg,
		log:       logger.With(slog.String("component", "prober")),
		neighbors: kernelNeighbors,
		linkState: netio.LinkState,
	}

	if cfg.LLDPPath != "" {
		p.lldp = func(ctx context.Context, ifname string) ([]engine.LLDPEntry, error) {
			return lldpctlNeighbors(ctx, cfg.LLDPPath, ifname)
		}
	}

	return p
}

// Run scans on the configured schedule until ctx is cancelled. The first
// scan happens immediately so caches are populated at startup.
func (p *Prober) Run(ctx context.Context) error {
	if err := p.Scan(ctx, nil); err != nil {
		p.log.Warn("initial scan failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Scan(ctx, nil); err != nil {
				p.log.Warn("scan failed", slog.Any("error", err))
			}
		}
	}
}

// Scan refreshes the named ports (all registry ports when empty). Each
// port's cache is swapped atomically on success; a port whose probe
// times out or fails keeps its previous cache and is logged.
func (p *Prober) Scan(ctx context.Context, ports []string) error {
	rows, err := p.neighbors(ctx)
	if err != nil {
		// Link state and LLDP can still refresh; ARP entries carry over
		// per port below.
		p.log.Warn("neighbor table read failed", slog.Any("error", err))
		rows = nil
	}

	want := make(map[string]bool, len(ports))
	for _, name := range ports {
		want[name] = true
	}

	for _, port := range p.reg.Ports() {
		if len(want) > 0 && !want[port.Info.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan aborted: %w", err)
		}

		p.probePort(ctx, port, rows)
	}

	return nil
}

// probePort builds a fresh cache for one port within the port timeout.
func (p *Prober) probePort(ctx context.Context, port *engine.Port, rows []neighborRow) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PortTimeout)
	defer cancel()

	name := port.Info.Name
	prev := port.Neighbors()

	nc := &engine.NeighborCache{LastScan: time.Now()}

	if rows != nil {
		for _, row := range rows {
			if row.ifIndex != port.Info.Index {
				continue
			}
			nc.ARP = append(nc.ARP, engine.ARPEntry{
				IP:    row.ip,
				MAC:   row.mac,
				State: row.state,
			})
		}
	} else if prev != nil {
		nc.ARP = prev.ARP
	}

	up, speed, duplex, err := p.linkState(name)
	if err != nil {
		p.log.Warn("link state probe failed, keeping previous cache",
			slog.String("port", name), slog.Any("error", err))
		return
	}
	nc.LinkUp = up
	nc.Speed = speed
	nc.Duplex = duplex

	if p.lldp != nil {
		entries, err := p.lldp(ctx, name)
		switch {
		case ctx.Err() != nil:
			p.log.Warn("port probe timed out, keeping previous cache",
				slog.String("port", name))
			return
		case err != nil:
			// lldpd absent or not answering for this port; the rest of
			// the cache is still good.
			p.log.Debug("lldp probe failed",
				slog.String("port", name), slog.Any("error", err))
		default:
			nc.LLDP = entries
		}
	}

	port.SetNeighbors(nc)
}

// -------------------------------------------------------------------------
// Kernel neighbor table
// -------------------------------------------------------------------------

// kernelNeighbors lists the ARP/NDP table via rtnetlink.
func kernelNeighbors(ctx context.Context) ([]neighborRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("dial rtnetlink: %w", err)
	}
	defer conn.Close()

	msgs, err := conn.Neigh.List()
	if err != nil {
		return nil, fmt.Errorf("list neighbors: %w", err)
	}

	rows := make([]neighborRow, 0, len(msgs))

	for i := range msgs {
		msg := &msgs[i]
		if msg.Attributes == nil || msg.Attributes.Address == nil {
			continue
		}
		if msg.State&unix.NUD_NOARP != 0 {
			continue
		}

		row := neighborRow{
			ifIndex: int(msg.Index),
			ip:      msg.Attributes.Address.String(),
			state:   nudState(msg.State),
		}
		if lladdr := msg.Attributes.LLAddress; len(lladdr) > 0 {
			row.mac = lladdr.String()
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// nudState maps the kernel NUD bitmask to the ip-neigh wording.
func nudState(state uint16) string {
	switch {
	case state&unix.NUD_PERMANENT != 0:
		return "permanent"
	case state&unix.NUD_REACHABLE != 0:
		return "reachable"
	case state&unix.NUD_STALE != 0:
		return "stale"
	case state&unix.NUD_DELAY != 0:
		return "delay"
	case state&unix.NUD_PROBE != 0:
		return "probe"
	case state&unix.NUD_INCOMPLETE != 0:
		return "incomplete"
	case state&unix.NUD_FAILED != 0:
		return "failed"
	default:
		return "unknown"
	}
}

// -------------------------------------------------------------------------
// LLDP (lldpctl, read-only)
// -------------------------------------------------------------------------

// lldpctlNeighbors shells out to lldpctl in keyvalue mode and folds the
// per-interface keys into one entry per peer.
func lldpctlNeighbors(ctx context.Context, path, ifname string) ([]engine.LLDPEntry, error) {
	out, err := exec.CommandContext(ctx, path, "-f", "keyvalue", ifname).Output()
	if err != nil {
		return nil, fmt.Errorf("lldpctl %s: %w", ifname, err)
	}

	return parseLLDPKeyValue(string(out), ifname), nil
}

// parseLLDPKeyValue reads lldpctl keyvalue output, e.g.
//
//	lldp.eth1.chassis.mac=52:54:00:aa:bb:cc
//	lldp.eth1.chassis.name=tor-switch-1
//	lldp.eth1.port.ifname=Ethernet12
//	lldp.eth1.port.ttl=120
func parseLLDPKeyValue(out, ifname string) []engine.LLDPEntry {
	prefix := "lldp." + ifname + "."

	var entry engine.LLDPEntry
	seen := false

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}

		key, value, ok := strings.Cut(line[len(prefix):], "=")
		if !ok {
			continue
		}

		seen = true

		switch key {
		case "chassis.mac", "chassis.id":
			entry.ChassisID = value
		case "chassis.name":
			entry.SystemName = value
		case "chassis.descr":
			entry.SystemDesc = value
		case "port.ifname", "port.local", "port.mac":
			if entry.PortID == "" {
				entry.PortID = value
			}
		case "port.ttl", "chassis.ttl":
			if ttl, err := strconv.Atoi(value); err == nil {
				entry.TTL = ttl
			}
		}
	}

	if !seen {
		return nil
	}

	return []engine.LLDPEntry{entry}
}
