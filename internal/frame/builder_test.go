package frame_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gotgen/internal/frame"
)

// -------------------------------------------------------------------------
// Test Fixtures
// -------------------------------------------------------------------------

func testSpec(proto frame.Protocol) *frame.Spec {
	return &frame.Spec{
		ProfileID: frame.ProfileID("p1"),
		Protocol:  proto,
		SrcMAC:    [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:    [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		SrcIP:     netip.MustParseAddr("10.0.0.1"),
		DstIP:     netip.MustParseAddr("10.0.0.2"),
		FrameSize: 512,
		MTU:       1500,
	}
}

// ipv4Checksum recomputes the header checksum over a 20-byte IPv4 header
// with its checksum field zeroed; a valid header sums to the stored value.
func ipv4Checksum(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i < len(hdr); i += 2 {
		if i == 10 {
			continue // checksum field
		}
		sum += uint32(binary.BigEndian.Uint16(hdr[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}

	return ^uint16(sum)
}

// -------------------------------------------------------------------------
// IPv4 Frame Shape
// -------------------------------------------------------------------------

func TestBuildIPv4FrameShape(t *testing.T) {
	t.Parallel()

	spec := testSpec(frame.ProtoIPv4)
	spec.DSCP = 46 // EF

	buf, err := frame.Build(spec, 7, 1500*time.Microsecond)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(buf) != spec.FrameSize {
		t.Fatalf("frame length = %d, want %d", len(buf), spec.FrameSize)
	}

	// EtherType 0x0800.
	if et := binary.BigEndian.Uint16(buf[12:14]); et != 0x0800 {
		t.Errorf("EtherType = 0x%04x, want 0x0800", et)
	}

	// DSCP occupies the top six TOS bits.
	if tos := buf[15]; tos != 46<<2 {
		t.Errorf("TOS = 0x%02x, want 0x%02x", tos, 46<<2)
	}

	// IPv4 total length covers everything after Ethernet.
	if tl := binary.BigEndian.Uint16(buf[16:18]); int(tl) != spec.FrameSize-14 {
		t.Errorf("IPv4 total length = %d, want %d", tl, spec.FrameSize-14)
	}

	// Header checksum verifies.
	hdr := buf[14:34]
	if got, want := binary.BigEndian.Uint16(hdr[10:12]), ipv4Checksum(hdr); got != want {
		t.Errorf("IPv4 checksum = 0x%04x, want 0x%04x", got, want)
	}

	// Default UDP destination port.
	if dp := binary.BigEndian.Uint16(buf[36:38]); dp != frame.DefaultUDPDstPort {
		t.Errorf("UDP dst port = %d, want %d", dp, frame.DefaultUDPDstPort)
	}

	// Payload signature sits right after the UDP header.
	sig, err := frame.ParseSignature(buf[42:])
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if sig.ProfileID != frame.ProfileID("p1") {
		t.Errorf("signature profile id = 0x%08x, want 0x%08x",
			sig.ProfileID, frame.ProfileID("p1"))
	}
	if sig.Seq != 7 {
		t.Errorf("signature seq = %d, want 7", sig.Seq)
	}
	if sig.EmitMicros != 1500 {
		t.Errorf("signature emit = %d us, want 1500", sig.EmitMicros)
	}
}

func TestBuildIsPure(t *testing.T) {
	t.Parallel()

	for _, proto := range []frame.Protocol{
		frame.ProtoIPv4, frame.ProtoIPv6, frame.ProtoMPLS, frame.ProtoVXLAN,
		frame.ProtoQinQ, frame.ProtoUDPFlood, frame.ProtoSYNFlood,
		frame.ProtoHTTPFlood, frame.ProtoDNSAmp,
	} {
		t.Run(proto.String(), func(t *testing.T) {
			t.Parallel()

			spec := testSpec(proto)
			if proto == frame.ProtoIPv6 {
				spec.SrcIP = netip.MustParseAddr("2001:db8::1")
				spec.DstIP = netip.MustParseAddr("2001:db8::2")
			}

			a, err := frame.Build(spec, 42, 9*time.Millisecond)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			b, err := frame.Build(spec, 42, 9*time.Millisecond)
			if err != nil {
				t.Fatalf("Build (second call): %v", err)
			}
			if !bytes.Equal(a, b) {
				t.Error("repeated Build with identical inputs differs")
			}
		})
	}
}

func TestBuildBroadcastFallback(t *testing.T) {
	t.Parallel()

	spec := testSpec(frame.ProtoIPv4)
	spec.DstMAC = [6]byte{}

	buf, err := frame.Build(spec, 0, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := range 6 {
		if buf[i] != 0xFF {
			t.Fatalf("dst MAC byte[%d] = 0x%02x, want 0xFF (broadcast fallback)", i, buf[i])
		}
	}
}

// -------------------------------------------------------------------------
// Encapsulation Shapes
// -------------------------------------------------------------------------

func TestBuildVXLANFrameShape(t *testing.T) {
	t.Parallel()

	spec := testSpec(frame.ProtoVXLAN)
	spec.VNI = 5000
	spec.FrameSize = 1400

	buf, err := frame.Build(spec, 0, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Outer UDP destination 4789 (bytes 36-37 after eth+ipv4+udp src).
	if dp := binary.BigEndian.Uint16(buf[36:38]); dp != 4789 {
		t.Errorf("outer UDP dst = %d, want 4789", dp)
	}

	// VXLAN header at offset 42: flags byte 0x08, VNI 5000 = 00 13 88.
	vx := buf[42:50]
	if vx[0] != 0x08 {
		t.Errorf("VXLAN flags = 0x%02x, want 0x08", vx[0])
	}
	if vx[4] != 0x00 || vx[5] != 0x13 || vx[6] != 0x88 {
		t.Errorf("VNI bytes = [%02x %02x %02x], want [00 13 88]", vx[4], vx[5], vx[6])
	}

	// Inner Ethernet present: EtherType 0x0800 at inner offset 12.
	inner := buf[50:]
	if et := binary.BigEndian.Uint16(inner[12:14]); et != 0x0800 {
		t.Errorf("inner EtherType = 0x%04x, want 0x0800", et)
	}
}

func TestBuildQinQTags(t *testing.T) {
	t.Parallel()

	spec := testSpec(frame.ProtoQinQ)
	spec.OuterVLAN = 100
	spec.InnerVLAN = 200
	spec.DSCP = 40 // PCP 5

	buf, err := frame.Build(spec, 0, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Outer tag: TPID 0x88a8, TCI = PCP<<13 | VID.
	if tpid := binary.BigEndian.Uint16(buf[12:14]); tpid != 0x88A8 {
		t.Errorf("outer TPID = 0x%04x, want 0x88a8", tpid)
	}
	if tci := binary.BigEndian.Uint16(buf[14:16]); tci != 5<<13|100 {
		t.Errorf("outer TCI = 0x%04x, want 0x%04x", tci, 5<<13|100)
	}

	// Inner tag: TPID 0x8100.
	if tpid := binary.BigEndian.Uint16(buf[16:18]); tpid != 0x8100 {
		t.Errorf("inner TPID = 0x%04x, want 0x8100", tpid)
	}
	if tci := binary.BigEndian.Uint16(buf[18:20]); tci != 5<<13|200 {
		t.Errorf("inner TCI = 0x%04x, want 0x%04x", tci, 5<<13|200)
	}

	// Payload EtherType follows the inner tag.
	if et := binary.BigEndian.Uint16(buf[20:22]); et != 0x0800 {
		t.Errorf("payload EtherType = 0x%04x, want 0x0800", et)
	}
}

func TestBuildMPLSShim(t *testing.T) {
	t.Parallel()

	spec := testSpec(frame.ProtoMPLS)
	spec.MPLSLabel = 16
	spec.DSCP = 46 // EXP = 46>>3 = 5

	buf, err := frame.Build(spec, 0, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if et := binary.BigEndian.Uint16(buf[12:14]); et != 0x8847 {
		t.Errorf("EtherType = 0x%04x, want 0x8847", et)
	}

	// Shim word: Label(20) | EXP(3) | S(1) | TTL(8).
	shim := binary.BigEndian.Uint32(buf[14:18])
	if got := shim >> 12; got != 16 {
		t.Errorf("label = %d, want 16", got)
	}
	if got := shim >> 9 & 0x7; got != 5 {
		t.Errorf("EXP = %d, want 5", got)
	}
	if shim>>8&0x1 != 1 {
		t.Error("bottom-of-stack bit not set")
	}
	if got := shim & 0xFF; got != 64 {
		t.Errorf("TTL = %d, want 64", got)
	}
}

func TestBuildSYNFlood(t *testing.T) {
	t.Parallel()

	spec := testSpec(frame.ProtoSYNFlood)
	spec.DstPort = 80

	a, err := frame.Build(spec, 1, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := frame.Build(spec, 2, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// IP protocol TCP.
	if a[23] != 6 {
		t.Errorf("IP protocol = %d, want 6 (TCP)", a[23])
	}

	// SYN flag set, ACK clear.
	if flags := a[47]; flags != 0x02 {
		t.Errorf("TCP flags = 0x%02x, want 0x02 (SYN)", flags)
	}

	// Source port and ISN vary across sequence numbers.
	srcA := binary.BigEndian.Uint16(a[34:36])
	srcB := binary.BigEndian.Uint16(b[34:36])
	isnA := binary.BigEndian.Uint32(a[38:42])
	isnB := binary.BigEndian.Uint32(b[38:42])
	if srcA == srcB && isnA == isnB {
		t.Error("source port and ISN identical across frames")
	}
	if srcA < 49152 {
		t.Errorf("source port %d below ephemeral range", srcA)
	}
}

func TestBuildHTTPFloodRequest(t *testing.T) {
	t.Parallel()

	spec := testSpec(frame.ProtoHTTPFlood)
	spec.DstPort = 8080

	buf, err := frame.Build(spec, 0, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	payload := buf[54:]
	if !bytes.HasPrefix(payload, []byte("GET / HTTP/1.1\r\n")) {
		t.Errorf("payload does not start with an HTTP GET: %q", payload[:16])
	}
	if !bytes.Contains(payload, []byte("Host: 10.0.0.2")) {
		t.Error("Host header missing from HTTP request")
	}
}

func TestBuildDNSAmpQuery(t *testing.T) {
	t.Parallel()

	spec := testSpec(frame.ProtoDNSAmp)

	buf, err := frame.Build(spec, 0, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Default DNS destination port.
	if dp := binary.BigEndian.Uint16(buf[36:38]); dp != 53 {
		t.Errorf("UDP dst = %d, want 53", dp)
	}

	// DNS header: QDCOUNT=1 at payload offset 4.
	payload := buf[42:]
	if qd := binary.BigEndian.Uint16(payload[4:6]); qd != 1 {
		t.Errorf("QDCOUNT = %d, want 1", qd)
	}
	if !bytes.Contains(payload, []byte("\x07example\x03com\x00")) {
		t.Error("QNAME example.com missing from query")
	}
}

// -------------------------------------------------------------------------
// Unencodable Descriptors
// -------------------------------------------------------------------------

func TestBuildUnencodable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*frame.Spec)
	}{
		{"frame_too_small_for_vxlan", func(s *frame.Spec) {
			s.Protocol = frame.ProtoVXLAN
			s.FrameSize = 90
		}},
		{"oversize_vs_mtu", func(s *frame.Spec) {
			s.FrameSize = 9000
			s.MTU = 1500
		}},
		{"frame_below_minimum", func(s *frame.Spec) {
			s.FrameSize = 32
		}},
		{"vni_overflow", func(s *frame.Spec) {
			s.Protocol = frame.ProtoVXLAN
			s.FrameSize = 1400
			s.VNI = 0x01000000
		}},
		{"mpls_label_overflow", func(s *frame.Spec) {
			s.Protocol = frame.ProtoMPLS
			s.MPLSLabel = 0x100000
		}},
		{"vlan_id_overflow", func(s *frame.Spec) {
			s.Protocol = frame.ProtoQinQ
			s.OuterVLAN = 4096
		}},
		{"ipv6_with_ipv4_addrs", func(s *frame.Spec) {
			s.Protocol = frame.ProtoIPv6
		}},
		{"ipv4_with_ipv6_addrs", func(s *frame.Spec) {
			s.SrcIP = netip.MustParseAddr("2001:db8::1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			spec := testSpec(frame.ProtoIPv4)
			tt.mutate(spec)

			_, err := frame.Build(spec, 0, 0)
			if !errors.Is(err, frame.ErrUnencodable) {
				t.Fatalf("Build = %v, want ErrUnencodable", err)
			}
		})
	}
}

func TestBuildMinimumIPv4Frame(t *testing.T) {
	t.Parallel()

	// 64 bytes is the minimum Ethernet frame and fits eth+ipv4+udp+signature.
	spec := testSpec(frame.ProtoIPv4)
	spec.FrameSize = 64

	buf, err := frame.Build(spec, 0, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(buf) != 64 {
		t.Fatalf("frame length = %d, want 64", len(buf))
	}
}

// -------------------------------------------------------------------------
// Signature
// -------------------------------------------------------------------------

func TestParseSignatureErrors(t *testing.T) {
	t.Parallel()

	if _, err := frame.ParseSignature(make([]byte, 8)); !errors.Is(err, frame.ErrSignatureTooShort) {
		t.Errorf("short payload: %v, want ErrSignatureTooShort", err)
	}

	if _, err := frame.ParseSignature(make([]byte, 16)); !errors.Is(err, frame.ErrSignatureBadMagic) {
		t.Errorf("zero payload: %v, want ErrSignatureBadMagic", err)
	}
}

func TestProfileIDStable(t *testing.T) {
	t.Parallel()

	if frame.ProfileID("p1") != frame.ProfileID("p1") {
		t.Error("ProfileID not stable across calls")
	}
	if frame.ProfileID("p1") == frame.ProfileID("p2") {
		t.Error("distinct names hash to the same profile id")
	}
}

// -------------------------------------------------------------------------
// Protocol Parsing
// -------------------------------------------------------------------------

func TestParseProtocolRoundTrip(t *testing.T) {
	t.Parallel()

	for _, name := range []string{
		"ipv4", "ipv6", "mpls", "vxlan", "qinq",
		"udp-flood", "tcp-syn-flood", "http-flood", "dns-amp",
	} {
		p, err := frame.ParseProtocol(name)
		if err != nil {
			t.Fatalf("ParseProtocol(%q): %v", name, err)
		}
		if p.String() != name {
			t.Errorf("round trip %q -> %q", name, p.String())
		}
	}

	if _, err := frame.ParseProtocol("gopher"); !errors.Is(err, frame.ErrUnknownProtocol) {
		t.Errorf("unknown tag: %v, want ErrUnknownProtocol", err)
	}
}
