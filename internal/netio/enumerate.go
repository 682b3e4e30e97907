package netio

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/jsimonetti/rtnetlink/v2"
	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Port Enumeration
// -------------------------------------------------------------------------

// PortInfo describes one host Ethernet device as seen at startup or on a
// prober refresh.
type PortInfo struct {
	// Name is the stable device name ("eth1", "enp3s0").
	Name string

	// Index is the kernel interface index.
	Index int

	// MAC is the device hardware address.
	MAC [6]byte

	// MTU is the device MTU in bytes.
	MTU int

	// SpeedMbps is the nominal link speed; zero when the driver does not
	// report one (virtual devices).
	SpeedMbps int

	// Duplex is "full", "half", or "" when unknown.
	Duplex string

	// Type classifies the device: "copper", "sfp", or "virtual".
	Type string

	// OperUp reflects the kernel operational state.
	OperUp bool

	// IPv4 and IPv6 are the primary addresses with prefix, when assigned.
	IPv4 netip.Prefix
	IPv6 netip.Prefix
}

// sfpSpeedThreshold classifies >= 10 Gb/s devices as SFP ports.
const sfpSpeedThreshold = 10000

// EnumeratePorts lists the host's physical Ethernet devices via
// rtnetlink, skipping loopback and devices without a hardware address.
// Speed and duplex come from sysfs (the same values ethtool reports).
func EnumeratePorts() ([]PortInfo, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: dial rtnetlink: %w", err)
	}
	defer conn.Close()

	links, err := conn.Link.List()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: list links: %w", err)
	}

	ports := make([]PortInfo, 0, len(links))

	for i := range links {
		link := &links[i]
		if link.Attributes == nil {
			continue
		}
		if link.Flags&unix.IFF_LOOPBACK != 0 {
			continue
		}
		if len(link.Attributes.Address) != 6 {
			continue
		}

		info := portFromLink(link)
		fillAddresses(&info)
		ports = append(ports, info)
	}

	return ports, nil
}

// LinkState reads the current operational state, speed, and duplex for
// one device. Used by the neighbor prober on every scan.
func LinkState(name string) (up bool, speedMbps int, duplex string, err error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return false, 0, "", fmt.Errorf("link state for %s: %w: %w",
			name, ErrInterfaceNotFound, err)
	}

	up = ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagRunning != 0
	speedMbps, duplex = sysfsLinkParams(name)

	return up, speedMbps, duplex, nil
}

// portFromLink maps one rtnetlink link message to a PortInfo.
func portFromLink(link *rtnetlink.LinkMessage) PortInfo {
	attrs := link.Attributes

	var mac [6]byte
	copy(mac[:], attrs.Address)

	speed, duplex := sysfsLinkParams(attrs.Name)

	info := PortInfo{
		Name:      attrs.Name,
		Index:     int(link.Index),
		MAC:       mac,
		MTU:       int(attrs.MTU),
		SpeedMbps: speed,
		Duplex:    duplex,
		Type:      classifyPort(attrs.Name, speed),
		OperUp: link.Flags&unix.IFF_UP != 0 &&
			link.Flags&unix.IFF_RUNNING != 0,
	}

	return info
}

// classifyPort tags a device as copper, sfp, or virtual. Physical
// devices have a backing PCI/USB device node in sysfs; high-speed ports
// are assumed to be SFP cages.
func classifyPort(name string, speedMbps int) string {
	if _, err := os.Stat("/sys/class/net/" + name + "/device"); err != nil {
		return "virtual"
	}
	if speedMbps >= sfpSpeedThreshold {
		return "sfp"
	}

	return "copper"
}

// sysfsLinkParams reads speed (Mb/s) and duplex from sysfs. Drivers for
// virtual or down devices return -1 or EINVAL; both map to zero values.
func sysfsLinkParams(name string) (int, string) {
	var speed int

	if b, err := os.ReadFile("/sys/class/net/" + name + "/speed"); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil && v > 0 {
			speed = v
		}
	}

	var duplex string
	if b, err := os.ReadFile("/sys/class/net/" + name + "/duplex"); err == nil {
		d := strings.TrimSpace(string(b))
		if d == "full" || d == "half" {
			duplex = d
		}
	}

	return speed, duplex
}

// fillAddresses populates the primary IPv4/IPv6 prefixes from the
// standard library interface view.
func fillAddresses(info *PortInfo) {
	ifi, err := net.InterfaceByIndex(info.Index)
	if err != nil {
		return
	}

	addrs, err := ifi.Addrs()
	if err != nil {
		return
	}

	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}

		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()

		ones, _ := ipnet.Mask.Size()
		prefix := netip.PrefixFrom(addr, ones)

		switch {
		case addr.Is4() && !info.IPv4.IsValid():
			info.IPv4 = prefix
		case addr.Is6() && !addr.IsLinkLocalUnicast() && !info.IPv6.IsValid():
			info.IPv6 = prefix
		}
	}
}
