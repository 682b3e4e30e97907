package engine

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/gotgen/internal/netio"
)

// -------------------------------------------------------------------------
// Port Descriptor + Neighbor Cache
// -------------------------------------------------------------------------

// ARPEntry is one kernel neighbor table row witnessed on a port.
type ARPEntry struct {
	IP    string `json:"ip"`
	MAC   string `json:"mac"`
	State string `json:"state"`
}

// LLDPEntry is one peer reported by the host LLDP daemon for a port.
type LLDPEntry struct {
	ChassisID  string `json:"chassis_id"`
	PortID     string `json:"port_id"`
	SystemName string `json:"system_name"`
	SystemDesc string `json:"system_desc,omitempty"`
	TTL        int    `json:"ttl,omitempty"`
}

// NeighborCache is the derived per-port neighbor view. It is written
// only by the prober and swapped atomically; readers never see a
// partially updated cache.
type NeighborCache struct {
	ARP      []ARPEntry  `json:"arp"`
	LLDP     []LLDPEntry `json:"lldp"`
	LinkUp   bool        `json:"link_up"`
	Speed    int         `json:"speed_mbps,omitempty"`
	Duplex   string      `json:"duplex,omitempty"`
	LastScan time.Time   `json:"last_scan"`
}

// Port pairs a host interface with its exclusively owning transmitter.
// The transmitter is nil until the port is opened for sending; inventory
// and neighbor data are available either way.
type Port struct {
	// Info is the inventory read at enumeration time.
	Info netio.PortInfo

	tx        *netio.Transmitter
	neighbors atomic.Pointer[NeighborCache]
}

// NewPort wraps an enumerated interface. tx may be nil for ports the
// daemon could not open (insufficient privilege, virtual device).
func NewPort(info netio.PortInfo, tx *netio.Transmitter) *Port {
	p := &Port{Info: info, tx: tx}
	p.neighbors.Store(&NeighborCache{LinkUp: info.OperUp, LastScan: time.Time{}})

	return p
}

// Transmitter returns the owning transmitter, nil when the port is not
// opened for sending.
func (p *Port) Transmitter() *netio.Transmitter {
	return p.tx
}

// Sendable reports whether the port has an open raw endpoint.
func (p *Port) Sendable() bool {
	return p.tx != nil
}

// Neighbors returns the current neighbor cache.
func (p *Port) Neighbors() *NeighborCache {
	return p.neighbors.Load()
}

// SetNeighbors atomically replaces the neighbor cache.
func (p *Port) SetNeighbors(nc *NeighborCache) {
	p.neighbors.Store(nc)
}

// ResolveMAC looks the destination IP up in the neighbor cache. The zero
// MAC means unresolved; the frame builder falls back to broadcast.
func (p *Port) ResolveMAC(ip string) [6]byte {
	var mac [6]byte

	nc := p.neighbors.Load()
	if nc == nil {
		return mac
	}

	for _, e := range nc.ARP {
		if e.IP != ip {
			continue
		}
		hw, err := net.ParseMAC(e.MAC)
		if err != nil || len(hw) != 6 {
			return mac
		}
		copy(mac[:], hw)

		return mac
	}

	return mac
}

// Counters returns the port TX counters, zero when the port has no
// transmitter.
func (p *Port) Counters() netio.TXCounters {
	if p.tx == nil {
		return netio.TXCounters{}
	}

	return p.tx.Counters()
}

// PortView is the wire representation of a port for list/get responses.
type PortView struct {
	Name      string `json:"name"`
	Index     int    `json:"index"`
	MAC       string `json:"mac"`
	MTU       int    `json:"mtu"`
	SpeedMbps int    `json:"speed_mbps,omitempty"`
	Duplex    string `json:"duplex,omitempty"`
	Type      string `json:"type"`
	LinkUp    bool   `json:"link_up"`
	Sendable  bool   `json:"sendable"`
	IPv4      string `json:"ipv4,omitempty"`
	IPv6      string `json:"ipv6,omitempty"`

	Counters netio.TXCounters `json:"counters"`
}

// View builds a point-in-time wire view of the port.
func (p *Port) View() PortView {
	v := PortView{
		Name:      p.Info.Name,
		Index:     p.Info.Index,
		MAC:       net.HardwareAddr(p.Info.MAC[:]).String(),
		MTU:       p.Info.MTU,
		SpeedMbps: p.Info.SpeedMbps,
		Duplex:    p.Info.Duplex,
		Type:      p.Info.Type,
		Sendable:  p.tx != nil,
		Counters:  p.Counters(),
	}

	if nc := p.neighbors.Load(); nc != nil {
		v.LinkUp = nc.LinkUp
	}

	if p.Info.IPv4.IsValid() {
		v.IPv4 = p.Info.IPv4.String()
	}
	if p.Info.IPv6.IsValid() {
		v.IPv6 = p.Info.IPv6.String()
	}

	return v
}
