package workloads

import (
	"encoding/binary"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gotgen/internal/engine"
	"github.com/dantte-lp/gotgen/internal/netio"
)

func testFlows() []flowRecord {
	return []flowRecord{
		{
			srcIP:   [4]byte{10, 0, 0, 1},
			dstIP:   [4]byte{10, 0, 0, 2},
			srcPort: 0,
			dstPort: 4789,
			proto:   17,
			tos:     0xb8,
			packets: 1000,
			octets:  128000,
			first:   time.Second,
			last:    11 * time.Second,
		},
		{
			srcIP:   [4]byte{10, 0, 1, 1},
			dstIP:   [4]byte{10, 0, 1, 2},
			dstPort: 80,
			proto:   6,
			packets: 42,
			octets:  2520,
		},
	}
}

func TestEncodeV5(t *testing.T) {
	t.Parallel()

	nf := NewNetFlow(nil, NetFlowConfig{Version: "v5", SourceID: 7}, slog.New(slog.DiscardHandler))

	now := time.Unix(1_700_000_000, 123_456_789)
	pkt := nf.encodeV5(testFlows(), now)

	if len(pkt) != v5HeaderLen+2*v5RecordLen {
		t.Fatalf("packet length = %d, want %d", len(pkt), v5HeaderLen+2*v5RecordLen)
	}

	if v := binary.BigEndian.Uint16(pkt[0:2]); v != 5 {
		t.Errorf("version = %d, want 5", v)
	}
	if v := binary.BigEndian.Uint16(pkt[2:4]); v != 2 {
		t.Errorf("count = %d, want 2", v)
	}
	if v := binary.BigEndian.Uint32(pkt[8:12]); v != 1_700_000_000 {
		t.Errorf("unix secs = %d", v)
	}
	if v := binary.BigEndian.Uint32(pkt[16:20]); v != 0 {
		t.Errorf("first sequence = %d, want 0", v)
	}
	if pkt[21] != 7 {
		t.Errorf("engine id = %d, want 7", pkt[21])
	}

	rec := pkt[v5HeaderLen:]
	if rec[0] != 10 || rec[3] != 1 {
		t.Errorf("srcaddr = %v", rec[0:4])
	}
	if v := binary.BigEndian.Uint32(rec[16:20]); v != 1000 {
		t.Errorf("dPkts = %d, want 1000", v)
	}
	if v := binary.BigEndian.Uint32(rec[20:24]); v != 128000 {
		t.Errorf("dOctets = %d, want 128000", v)
	}
	if v := binary.BigEndian.Uint16(rec[34:36]); v != 4789 {
		t.Errorf("dstport = %d, want 4789", v)
	}
	if rec[38] != 17 {
		t.Errorf("proto = %d, want 17", rec[38])
	}
	if rec[39] != 0xb8 {
		t.Errorf("tos = %#x, want 0xb8", rec[39])
	}

	// The sequence number advances by the record count.
	pkt2 := nf.encodeV5(testFlows()[:1], now)
	if v := binary.BigEndian.Uint32(pkt2[16:20]); v != 2 {
		t.Errorf("second sequence = %d, want 2", v)
	}
}

func TestEncodeIPFIX(t *testing.T) {
	t.Parallel()

	nf := NewNetFlow(nil, NetFlowConfig{Version: "ipfix", SourceID: 99}, slog.New(slog.DiscardHandler))

	now := time.Unix(1_700_000_000, 0)
	flows := testFlows()
	pkt := nf.encodeIPFIX(flows, now)

	if v := binary.BigEndian.Uint16(pkt[0:2]); v != 10 {
		t.Errorf("version = %d, want 10", v)
	}
	if v := binary.BigEndian.Uint16(pkt[2:4]); int(v) != len(pkt) {
		t.Errorf("length field = %d, packet = %d", v, len(pkt))
	}
	if v := binary.BigEndian.Uint32(pkt[12:16]); v != 99 {
		t.Errorf("observation domain = %d, want 99", v)
	}

	// Template set.
	tmpl := pkt[ipfixHeaderLen:]
	if v := binary.BigEndian.Uint16(tmpl[0:2]); v != 2 {
		t.Errorf("template set id = %d, want 2", v)
	}
	if v := binary.BigEndian.Uint16(tmpl[4:6]); v != ipfixTemplateID {
		t.Errorf("template id = %d, want %d", v, ipfixTemplateID)
	}
	if v := binary.BigEndian.Uint16(tmpl[6:8]); int(v) != len(ipfixTemplate) {
		t.Errorf("field count = %d, want %d", v, len(ipfixTemplate))
	}

	// Data set holds the 64-bit delta counters unclamped.
	templateSetLen := int(binary.BigEndian.Uint16(tmpl[2:4]))
	data := tmpl[templateSetLen:]
	if v := binary.BigEndian.Uint16(data[0:2]); v != ipfixTemplateID {
		t.Errorf("data set id = %d, want %d", v, ipfixTemplateID)
	}
	rec := data[4:]
	if v := binary.BigEndian.Uint64(rec[8:16]); v != 1000 {
		t.Errorf("packetDeltaCount = %d, want 1000", v)
	}
	if v := binary.BigEndian.Uint64(rec[16:24]); v != 128000 {
		t.Errorf("octetDeltaCount = %d, want 128000", v)
	}
}

func TestCollectSkipsIdleAndNonIPv4(t *testing.T) {
	t.Parallel()

	reg := engine.NewRegistry(slog.New(slog.DiscardHandler))
	reg.AddPort(engine.NewPort(netio.PortInfo{Name: "eth1", Index: 3, MTU: 1500, OperUp: true}, nil))
	reg.AddPort(engine.NewPort(netio.PortInfo{Name: "eth2", Index: 4, MTU: 1500, OperUp: true}, nil))

	if _, err := reg.CreateProfile(&engine.Profile{
		Name:          "idle-v4",
		SrcPort:       "eth1",
		DstPort:       "eth2",
		DstIP:         netip.MustParseAddr("10.0.0.2"),
		ProtocolName:  "ipv4",
		BandwidthMbps: 10,
		FrameSize:     128,
	}); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	nf := NewNetFlow(reg, NetFlowConfig{Version: "v5"}, slog.New(slog.DiscardHandler))

	// No frames sent yet: nothing to export.
	if flows := nf.collect(); len(flows) != 0 {
		t.Errorf("collect() on idle registry = %d flows, want 0", len(flows))
	}
}

func TestParseIPv4(t *testing.T) {
	t.Parallel()

	addr, err := parseIPv4("10.1.2.3/24")
	if err != nil {
		t.Fatalf("parseIPv4 prefix form: %v", err)
	}
	if addr != [4]byte{10, 1, 2, 3} {
		t.Errorf("addr = %v", addr)
	}

	addr, err = parseIPv4("192.168.0.9")
	if err != nil {
		t.Fatalf("parseIPv4 bare form: %v", err)
	}
	if addr != [4]byte{192, 168, 0, 9} {
		t.Errorf("addr = %v", addr)
	}

	if _, err := parseIPv4("fd00::1/64"); err == nil {
		t.Error("parseIPv4 accepted an IPv6 prefix")
	}
}

func TestClamp32(t *testing.T) {
	t.Parallel()

	if v := clamp32(123); v != 123 {
		t.Errorf("clamp32(123) = %d", v)
	}
	if v := clamp32(1 << 40); v != 0xFFFFFFFF {
		t.Errorf("clamp32(2^40) = %d, want saturation", v)
	}
}

func TestProtocolNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want uint8
	}{
		{"udp-flood", 17},
		{"vxlan", 17},
		{"dns-amp", 17},
		{"tcp-syn-flood", 6},
		{"http-flood", 6},
		{"ipv4", 0},
		{"mpls", 0},
	}

	for _, tt := range tests {
		if got := protocolNumber(tt.name); got != tt.want {
			t.Errorf("protocolNumber(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSplitTrapTarget(t *testing.T) {
	t.Parallel()

	host, port, err := splitTrapTarget("10.0.0.9:1162")
	if err != nil || host != "10.0.0.9" || port != 1162 {
		t.Errorf("splitTrapTarget(host:port) = %q, %d, %v", host, port, err)
	}

	host, port, err = splitTrapTarget("nms.example.net")
	if err != nil || host != "nms.example.net" || port != defaultTrapPort {
		t.Errorf("splitTrapTarget(bare) = %q, %d, %v", host, port, err)
	}

	if _, _, err := splitTrapTarget(""); err == nil {
		t.Error("splitTrapTarget accepted an empty target")
	}
}
