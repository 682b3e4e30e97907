package workloads

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dantte-lp/gotgen/internal/engine"
	"github.com/dantte-lp/gotgen/internal/netio"
)

// -------------------------------------------------------------------------
// NetFlow / IPFIX Export
// -------------------------------------------------------------------------

// NetFlow export encodings.
const (
	netflowV5Version    = 5
	ipfixVersion        = 10
	v5HeaderLen         = 24
	v5RecordLen         = 48
	v5MaxRecords        = 30
	ipfixHeaderLen      = 16
	ipfixTemplateID     = 256
	ipfixRecordLen      = 4 + 4 + 8 + 8 + 2 + 2 + 1
	defaultFlowInterval = 10 * time.Second
)

// NetFlowConfig parameterizes the flow exporter.
type NetFlowConfig struct {
	// Collector is the UDP address flow packets are sent to.
	Collector string

	// Version selects the encoding: "v5" or "ipfix".
	Version string

	// Interval is the export cadence; zero selects 10s.
	Interval time.Duration

	// SourceID is the IPFIX observation domain / v5 engine ID.
	SourceID uint32
}

// flowRecord is one exported flow, synthesized from a profile's counter
// delta since the previous export.
type flowRecord struct {
	srcIP    [4]byte
	dstIP    [4]byte
	srcPort  uint16
	dstPort  uint16
	proto    uint8
	tos      uint8
	packets  uint64
	octets   uint64
	first    time.Duration
	last     time.Duration
}

// NetFlow exports the engine's per-profile traffic as NetFlow v5 or
// IPFIX flow records. One flow per IPv4 profile per export interval,
// carrying the counter delta since the previous tick.
type NetFlow struct {
	cfg NetFlowConfig
	reg *engine.Registry
	log *slog.Logger

	seq  uint32
	prev map[string]engine.ProfileCounters
}

// NewNetFlow creates the exporter. The registry provides profile
// descriptors and counters at each export tick.
func NewNetFlow(reg *engine.Registry, cfg NetFlowConfig, logger *slog.Logger) *NetFlow {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultFlowInterval
	}

	return &NetFlow{
		cfg:  cfg,
		reg:  reg,
		log:  logger.With(slog.String("component", "netflow")),
		prev: make(map[string]engine.ProfileCounters),
	}
}

// Name implements Workload.
func (n *NetFlow) Name() string { return "netflow" }

// Run exports on the configured cadence until ctx is cancelled.
func (n *NetFlow) Run(ctx context.Context) error {
	conn, err := net.Dial("udp", n.cfg.Collector)
	if err != nil {
		return fmt.Errorf("dial collector %s: %w", n.cfg.Collector, err)
	}
	defer conn.Close()

	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()

	n.log.Info("flow export started",
		slog.String("collector", n.cfg.Collector),
		slog.String("version", n.cfg.Version))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.export(conn); err != nil {
				n.log.Warn("flow export failed", slog.Any("error", err))
			}
		}
	}
}

// export collects the current flow set and writes one packet per batch.
func (n *NetFlow) export(conn net.Conn) error {
	flows := n.collect()
	if len(flows) == 0 {
		return nil
	}

	now := time.Now()

	for len(flows) > 0 {
		batch := flows
		if n.cfg.Version == "v5" && len(batch) > v5MaxRecords {
			batch = flows[:v5MaxRecords]
		}
		flows = flows[len(batch):]

		var pkt []byte
		if n.cfg.Version == "ipfix" {
			pkt = n.encodeIPFIX(batch, now)
		} else {
			pkt = n.encodeV5(batch, now)
		}

		if _, err := conn.Write(pkt); err != nil {
			return fmt.Errorf("write flow packet: %w", err)
		}
	}

	return nil
}

// collect builds flow records from profile counter deltas. Profiles
// without IPv4 endpoints or without new traffic are skipped.
func (n *NetFlow) collect() []flowRecord {
	profiles := n.reg.ProfileViews()
	ports := make(map[string]engine.PortView)
	for _, p := range n.reg.PortViews() {
		ports[p.Name] = p
	}

	var flows []flowRecord

	for _, prof := range profiles {
		cur := prof.Counters
		prev := n.prev[prof.Name]
		n.prev[prof.Name] = cur

		dPkts := cur.FramesSent - prev.FramesSent
		dOctets := cur.BytesSent - prev.BytesSent
		if cur.FramesSent < prev.FramesSent {
			// Counters were reset since the last export.
			dPkts, dOctets = cur.FramesSent, cur.BytesSent
		}
		if dPkts == 0 {
			continue
		}

		if !prof.DstIP.Is4() {
			continue
		}

		rec := flowRecord{
			dstIP:   prof.DstIP.As4(),
			dstPort: prof.L4Port,
			proto:   protocolNumber(prof.ProtocolName),
			tos:     prof.DSCP << 2,
			packets: dPkts,
			octets:  dOctets,
			last:    netio.Uptime(),
		}
		rec.first = rec.last - n.cfg.Interval

		if src, ok := ports[prof.SrcPort]; ok && src.IPv4 != "" {
			if addr, err := parseIPv4(src.IPv4); err == nil {
				rec.srcIP = addr
			}
		}

		flows = append(flows, rec)
	}

	return flows
}

// parseIPv4 parses the port view's "addr/len" prefix string.
func parseIPv4(prefix string) ([4]byte, error) {
	var out [4]byte

	ip, _, err := net.ParseCIDR(prefix)
	if err != nil {
		ip = net.ParseIP(prefix)
		if ip == nil {
			return out, fmt.Errorf("parse source address %q: %w", prefix, err)
		}
	}

	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("source address %q is not IPv4", prefix)
	}
	copy(out[:], v4)

	return out, nil
}

// protocolNumber maps the profile encapsulation to the IP protocol
// field of the exported flow.
func protocolNumber(name string) uint8 {
	switch name {
	case "udp-flood", "vxlan", "dns-amp":
		return 17
	case "tcp-syn-flood", "http-flood":
		return 6
	default:
		return 0
	}
}

// encodeV5 builds one NetFlow v5 packet for at most v5MaxRecords flows.
func (n *NetFlow) encodeV5(flows []flowRecord, now time.Time) []byte {
	pkt := make([]byte, v5HeaderLen+len(flows)*v5RecordLen)

	uptimeMs := uint32(netio.Uptime().Milliseconds()) //nolint:gosec // G115: wraps after 49 days, per the v5 field definition.

	binary.BigEndian.PutUint16(pkt[0:2], netflowV5Version)
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(flows))) //nolint:gosec // G115: bounded by v5MaxRecords.
	binary.BigEndian.PutUint32(pkt[4:8], uptimeMs)
	binary.BigEndian.PutUint32(pkt[8:12], uint32(now.Unix()))       //nolint:gosec // G115: epoch seconds fit until 2106.
	binary.BigEndian.PutUint32(pkt[12:16], uint32(now.Nanosecond())) //nolint:gosec // G115: < 1e9.
	binary.BigEndian.PutUint32(pkt[16:20], n.seq)
	pkt[21] = uint8(n.cfg.SourceID) //nolint:gosec // G115: engine ID is one octet on the wire.

	n.seq += uint32(len(flows)) //nolint:gosec // G115: bounded by v5MaxRecords.

	for i, f := range flows {
		rec := pkt[v5HeaderLen+i*v5RecordLen:]

		copy(rec[0:4], f.srcIP[:])
		copy(rec[4:8], f.dstIP[:])
		binary.BigEndian.PutUint32(rec[16:20], clamp32(f.packets))
		binary.BigEndian.PutUint32(rec[20:24], clamp32(f.octets))
		binary.BigEndian.PutUint32(rec[24:28], uint32(f.first.Milliseconds())) //nolint:gosec // G115: uptime ms.
		binary.BigEndian.PutUint32(rec[28:32], uint32(f.last.Milliseconds()))  //nolint:gosec // G115: uptime ms.
		binary.BigEndian.PutUint16(rec[32:34], f.srcPort)
		binary.BigEndian.PutUint16(rec[34:36], f.dstPort)
		rec[38] = f.proto
		rec[39] = f.tos
	}

	return pkt
}

// clamp32 saturates a 64-bit delta into the v5 32-bit counter fields.
func clamp32(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}

	return uint32(v)
}

// ipfixTemplate is the single template: IPv4 5-tuple plus delta
// counters, information elements per RFC 7012.
var ipfixTemplate = []struct{ id, length uint16 }{
	{8, 4},  // sourceIPv4Address
	{12, 4}, // destinationIPv4Address
	{2, 8},  // packetDeltaCount
	{1, 8},  // octetDeltaCount
	{7, 2},  // sourceTransportPort
	{11, 2}, // destinationTransportPort
	{4, 1},  // protocolIdentifier
}

// encodeIPFIX builds one IPFIX message carrying the template set and a
// data set. The template rides along in every message so collectors
// never see data they cannot decode.
func (n *NetFlow) encodeIPFIX(flows []flowRecord, now time.Time) []byte {
	templateSetLen := 4 + 4 + len(ipfixTemplate)*4
	dataSetLen := 4 + len(flows)*ipfixRecordLen
	total := ipfixHeaderLen + templateSetLen + dataSetLen

	pkt := make([]byte, total)

	binary.BigEndian.PutUint16(pkt[0:2], ipfixVersion)
	binary.BigEndian.PutUint16(pkt[2:4], uint16(total))        //nolint:gosec // G115: bounded by the batch size.
	binary.BigEndian.PutUint32(pkt[4:8], uint32(now.Unix()))   //nolint:gosec // G115: epoch seconds fit until 2106.
	binary.BigEndian.PutUint32(pkt[8:12], n.seq)
	binary.BigEndian.PutUint32(pkt[12:16], n.cfg.SourceID)

	n.seq += uint32(len(flows)) //nolint:gosec // G115: batch size.

	// Template set (set ID 2).
	tmpl := pkt[ipfixHeaderLen:]
	binary.BigEndian.PutUint16(tmpl[0:2], 2)
	binary.BigEndian.PutUint16(tmpl[2:4], uint16(templateSetLen)) //nolint:gosec // G115: fixed template size.
	binary.BigEndian.PutUint16(tmpl[4:6], ipfixTemplateID)
	binary.BigEndian.PutUint16(tmpl[6:8], uint16(len(ipfixTemplate))) //nolint:gosec // G115: fixed field count.
	for i, fld := range ipfixTemplate {
		binary.BigEndian.PutUint16(tmpl[8+i*4:], fld.id)
		binary.BigEndian.PutUint16(tmpl[10+i*4:], fld.length)
	}

	// Data set (set ID = template ID).
	data := tmpl[templateSetLen:]
	binary.BigEndian.PutUint16(data[0:2], ipfixTemplateID)
	binary.BigEndian.PutUint16(data[2:4], uint16(dataSetLen)) //nolint:gosec // G115: bounded by the batch size.

	for i, f := range flows {
		rec := data[4+i*ipfixRecordLen:]

		copy(rec[0:4], f.srcIP[:])
		copy(rec[4:8], f.dstIP[:])
		binary.BigEndian.PutUint64(rec[8:16], f.packets)
		binary.BigEndian.PutUint64(rec[16:24], f.octets)
		binary.BigEndian.PutUint16(rec[24:26], f.srcPort)
		binary.BigEndian.PutUint16(rec[26:28], f.dstPort)
		rec[28] = f.proto
	}

	return pkt
}
