package frame

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// -------------------------------------------------------------------------
// Protocol Tags
// -------------------------------------------------------------------------

// Protocol selects the encapsulation the builder emits for a profile.
type Protocol uint8

const (
	// ProtoIPv4 is plain Ethernet + IPv4 + UDP.
	ProtoIPv4 Protocol = iota

	// ProtoIPv6 is plain Ethernet + IPv6 + UDP.
	ProtoIPv6

	// ProtoMPLS is Ethernet (0x8847) + one MPLS shim + IPv4 + UDP.
	ProtoMPLS

	// ProtoVXLAN is a VXLAN-encapsulated inner Ethernet/IPv4/UDP frame.
	ProtoVXLAN

	// ProtoQinQ is 802.1ad double-tagged Ethernet + IPv4 + UDP.
	ProtoQinQ

	// ProtoUDPFlood is IPv4 + UDP toward a configured destination port.
	ProtoUDPFlood

	// ProtoSYNFlood is IPv4 + TCP SYN with per-frame randomized source
	// port and initial sequence number.
	ProtoSYNFlood

	// ProtoHTTPFlood is IPv4 + TCP segments carrying a minimal HTTP/1.1
	// GET. No handshake is performed; this is flooding, not conversation.
	ProtoHTTPFlood

	// ProtoDNSAmp is IPv4 + UDP to port 53 carrying a DNS query skeleton.
	ProtoDNSAmp
)

// protocolNames maps tags to their wire-facing configuration names.
var protocolNames = map[Protocol]string{
	ProtoIPv4:      "ipv4",
	ProtoIPv6:      "ipv6",
	ProtoMPLS:      "mpls",
	ProtoVXLAN:     "vxlan",
	ProtoQinQ:      "qinq",
	ProtoUDPFlood:  "udp-flood",
	ProtoSYNFlood:  "tcp-syn-flood",
	ProtoHTTPFlood: "http-flood",
	ProtoDNSAmp:    "dns-amp",
}

// String returns the configuration name of the protocol tag.
func (p Protocol) String() string {
	if s, ok := protocolNames[p]; ok {
		return s
	}

	return fmt.Sprintf("protocol(%d)", uint8(p))
}

// ParseProtocol maps a configuration name to its protocol tag.
func ParseProtocol(s string) (Protocol, error) {
	for p, name := range protocolNames {
		if name == s {
			return p, nil
		}
	}

	return 0, fmt.Errorf("parse protocol %q: %w", s, ErrUnknownProtocol)
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrUnknownProtocol indicates an unrecognized protocol tag.
	ErrUnknownProtocol = errors.New("unknown protocol tag")

	// ErrUnencodable indicates the descriptor cannot produce a valid
	// frame (frame size below the encapsulation minimum, oversize versus
	// the port MTU, or inconsistent protocol fields).
	ErrUnencodable = errors.New("descriptor not encodable")
)

// -------------------------------------------------------------------------
// Frame Spec
// -------------------------------------------------------------------------

// Spec is the immutable per-profile input to the builder. The engine
// derives one from a profile descriptor at enable time and rebuilds it on
// hot updates (frame size) and neighbor cache changes (destination MAC).
type Spec struct {
	// ProfileID is the FNV-1a hash of the profile name (see ProfileID).
	ProfileID uint32

	// Protocol selects the encapsulation.
	Protocol Protocol

	// SrcMAC is the source port's hardware address.
	SrcMAC [6]byte

	// DstMAC is the resolved destination hardware address. The zero value
	// selects the broadcast fallback.
	DstMAC [6]byte

	// SrcIP and DstIP are the L3 endpoints. Family must match the
	// protocol tag (IPv6 only for ProtoIPv6).
	SrcIP netip.Addr
	DstIP netip.Addr

	// SrcPort and DstPort are the L4 ports. Zero selects the default:
	// a deterministic per-frame ephemeral source and DefaultUDPDstPort
	// (DNSPort for dns-amp).
	SrcPort uint16
	DstPort uint16

	// DSCP is the 6-bit differentiated services codepoint carried in the
	// IPv4 TOS / IPv6 Traffic Class field. MPLS copies its top three bits
	// into EXP.
	DSCP uint8

	// FrameSize is the total L2 frame length in bytes, excluding FCS.
	FrameSize int

	// MTU is the source port's MTU; zero disables the oversize check.
	// VLAN tags are not counted against it.
	MTU int

	// MPLSLabel is the 20-bit label for ProtoMPLS.
	MPLSLabel uint32

	// VNI is the 24-bit VXLAN network identifier for ProtoVXLAN.
	VNI uint32

	// OuterVLAN and InnerVLAN are the 802.1ad service and 802.1Q customer
	// VLAN IDs for ProtoQinQ.
	OuterVLAN uint16
	InnerVLAN uint16
}

// Inner addressing for VXLAN test frames: locally administered MACs and a
// fixed point-to-point inner subnet. The outer header carries the
// profile's configured endpoints.
var (
	vxlanInnerDstMAC = [6]byte{0x02, 0x00, 0x5E, 0x00, 0x00, 0x02}
	vxlanInnerSrcMAC = [6]byte{0x02, 0x00, 0x5E, 0x00, 0x00, 0x01}

	vxlanInnerSrcIP = netip.AddrFrom4([4]byte{10, 0, 0, 1})
	vxlanInnerDstIP = netip.AddrFrom4([4]byte{10, 0, 0, 2})
)

// overhead returns the total header bytes before the signed payload for
// the spec's encapsulation.
func (s *Spec) overhead() int {
	switch s.Protocol {
	case ProtoIPv4, ProtoUDPFlood, ProtoDNSAmp:
		return EthHeaderSize + IPv4HeaderSize + UDPHeaderSize
	case ProtoIPv6:
		return EthHeaderSize + IPv6HeaderSize + UDPHeaderSize
	case ProtoMPLS:
		return EthHeaderSize + MPLSShimSize + IPv4HeaderSize + UDPHeaderSize
	case ProtoVXLAN:
		return EthHeaderSize + IPv4HeaderSize + UDPHeaderSize + VXLANHeaderSize +
			EthHeaderSize + IPv4HeaderSize + UDPHeaderSize
	case ProtoQinQ:
		return EthHeaderSize + 2*VLANTagSize + IPv4HeaderSize + UDPHeaderSize
	case ProtoSYNFlood, ProtoHTTPFlood:
		return EthHeaderSize + IPv4HeaderSize + TCPHeaderSize
	default:
		return EthHeaderSize + IPv4HeaderSize + UDPHeaderSize
	}
}

// vlanTags returns the number of 802.1Q tags the encapsulation inserts,
// which do not count against the port MTU.
func (s *Spec) vlanTags() int {
	if s.Protocol == ProtoQinQ {
		return 2
	}

	return 0
}

// Validate checks that the spec can produce at least one valid frame.
// It applies the same rules Build enforces, so a validated spec only
// fails Build on conditions introduced by later mutation.
func (s *Spec) Validate() error {
	if s.FrameSize < MinFrameSize || s.FrameSize > MaxFrameSize {
		return fmt.Errorf("frame size %d outside [%d, %d]: %w",
			s.FrameSize, MinFrameSize, MaxFrameSize, ErrUnencodable)
	}

	extra := s.protocolPayloadOverhead()
	if s.FrameSize < s.overhead()+extra+SignatureSize {
		return fmt.Errorf("frame size %d below %s encapsulation minimum %d: %w",
			s.FrameSize, s.Protocol, s.overhead()+extra+SignatureSize, ErrUnencodable)
	}

	if s.MTU > 0 {
		l3 := s.FrameSize - EthHeaderSize - s.vlanTags()*VLANTagSize
		if l3 > s.MTU {
			return fmt.Errorf("frame size %d exceeds MTU %d by %d bytes: %w",
				s.FrameSize, s.MTU, l3-s.MTU, ErrUnencodable)
		}
	}

	switch s.Protocol {
	case ProtoIPv6:
		if !s.SrcIP.Is6() || s.SrcIP.Is4In6() || !s.DstIP.Is6() || s.DstIP.Is4In6() {
			return fmt.Errorf("ipv6 protocol with non-IPv6 endpoints src=%s dst=%s: %w",
				s.SrcIP, s.DstIP, ErrUnencodable)
		}
	case ProtoMPLS:
		if s.MPLSLabel > 0xFFFFF {
			return fmt.Errorf("mpls label %d exceeds 20-bit range: %w",
				s.MPLSLabel, ErrUnencodable)
		}
		if err := s.requireIPv4(); err != nil {
			return err
		}
	case ProtoVXLAN:
		if s.VNI > 0xFFFFFF {
			return fmt.Errorf("vni %d exceeds 24-bit range: %w", s.VNI, ErrUnencodable)
		}
		if err := s.requireIPv4(); err != nil {
			return err
		}
	case ProtoQinQ:
		if s.OuterVLAN > 0x0FFF || s.InnerVLAN > 0x0FFF {
			return fmt.Errorf("vlan id outer=%d inner=%d exceeds 12-bit range: %w",
				s.OuterVLAN, s.InnerVLAN, ErrUnencodable)
		}
		if err := s.requireIPv4(); err != nil {
			return err
		}
	case ProtoIPv4, ProtoUDPFlood, ProtoSYNFlood, ProtoHTTPFlood, ProtoDNSAmp:
		if err := s.requireIPv4(); err != nil {
			return err
		}
	}

	return nil
}

func (s *Spec) requireIPv4() error {
	if !s.SrcIP.Is4() || !s.DstIP.Is4() {
		return fmt.Errorf("%s protocol with non-IPv4 endpoints src=%s dst=%s: %w",
			s.Protocol, s.SrcIP, s.DstIP, ErrUnencodable)
	}

	return nil
}

// protocolPayloadOverhead returns payload bytes the encapsulation claims
// before the signature (the DNS query skeleton, the HTTP request line).
func (s *Spec) protocolPayloadOverhead() int {
	switch s.Protocol {
	case ProtoDNSAmp:
		return len(dnsQuerySkeleton)
	case ProtoHTTPFlood:
		return len(s.httpRequest())
	default:
		return 0
	}
}

// -------------------------------------------------------------------------
// Build — one frame per (spec, seq)
// -------------------------------------------------------------------------

// Build encodes the frame for sequence number seq. emit is a monotonic
// offset (time since engine start) embedded in the payload signature.
//
// Build is a pure function: identical inputs produce bit-identical
// output. Randomized-looking fields are derived from frameHash.
func Build(spec *Spec, seq uint32, emit time.Duration) ([]byte, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("build frame seq=%d: %w", seq, err)
	}

	buf := make([]byte, spec.FrameSize)

	switch spec.Protocol {
	case ProtoIPv4, ProtoUDPFlood:
		spec.buildUDP4(buf, seq, emit, nil)
	case ProtoDNSAmp:
		spec.buildUDP4(buf, seq, emit, dnsQuerySkeleton)
	case ProtoIPv6:
		spec.buildUDP6(buf, seq, emit)
	case ProtoMPLS:
		spec.buildMPLS(buf, seq, emit)
	case ProtoVXLAN:
		spec.buildVXLAN(buf, seq, emit)
	case ProtoQinQ:
		spec.buildQinQ(buf, seq, emit)
	case ProtoSYNFlood:
		spec.buildTCP4(buf, seq, emit, tcpFlagSYN, nil)
	case ProtoHTTPFlood:
		spec.buildTCP4(buf, seq, emit, tcpFlagPSH|tcpFlagACK, spec.httpRequest())
	default:
		return nil, fmt.Errorf("build frame seq=%d: protocol %d: %w",
			seq, spec.Protocol, ErrUnknownProtocol)
	}

	return buf, nil
}

// dstMAC returns the resolved destination MAC, or broadcast when the
// neighbor cache had no entry.
func (s *Spec) dstMAC() [6]byte {
	if s.DstMAC == ([6]byte{}) {
		return BroadcastMAC
	}

	return s.DstMAC
}

// srcPort returns the configured source port or a deterministic ephemeral
// port derived from the frame hash.
func (s *Spec) srcPort(h uint64) uint16 {
	if s.SrcPort != 0 {
		return s.SrcPort
	}

	return ephemeralPort(h)
}

// dstPort returns the configured destination port or the protocol default.
func (s *Spec) dstPort() uint16 {
	if s.DstPort != 0 {
		return s.DstPort
	}
	if s.Protocol == ProtoDNSAmp {
		return DNSPort
	}

	return DefaultUDPDstPort
}

// buildUDP4 assembles Ethernet | IPv4 | UDP | [prefix] | signature | pad.
func (s *Spec) buildUDP4(buf []byte, seq uint32, emit time.Duration, payloadPrefix []byte) {
	h := frameHash(s.ProfileID, seq)

	off := putEthernet(buf, s.dstMAC(), s.SrcMAC, etherTypeIPv4)
	ipOff := off
	off = putIPv4(buf, off, s.SrcIP, s.DstIP, ipProtoUDP, s.DSCP,
		len(buf)-ipOff, uint16(seq)) //nolint:gosec // G115: IP ident wraps with seq
	udpOff := off
	off = putUDP(buf, off, s.srcPort(h), s.dstPort(), len(buf)-udpOff)

	off += copy(buf[off:], payloadPrefix)
	putSignature(buf[off:], s.ProfileID, seq, emit)

	csum := transportChecksum4(s.SrcIP, s.DstIP, ipProtoUDP, buf[udpOff:])
	buf[udpOff+6] = byte(csum >> 8)
	buf[udpOff+7] = byte(csum)
}

// buildUDP6 assembles Ethernet | IPv6 | UDP | signature | pad.
func (s *Spec) buildUDP6(buf []byte, seq uint32, emit time.Duration) {
	h := frameHash(s.ProfileID, seq)

	off := putEthernet(buf, s.dstMAC(), s.SrcMAC, etherTypeIPv6)
	off = putIPv6(buf, off, s.SrcIP, s.DstIP, ipProtoUDP, s.DSCP,
		len(buf)-off-IPv6HeaderSize)
	udpOff := off
	off = putUDP(buf, off, s.srcPort(h), s.dstPort(), len(buf)-udpOff)

	putSignature(buf[off:], s.ProfileID, seq, emit)

	// RFC 8200 Section 8.1: UDP checksum is mandatory over IPv6.
	csum := transportChecksum6(s.SrcIP, s.DstIP, ipProtoUDP, buf[udpOff:])
	buf[udpOff+6] = byte(csum >> 8)
	buf[udpOff+7] = byte(csum)
}

// buildMPLS assembles Ethernet (0x8847) | MPLS shim | IPv4 | UDP |
// signature | pad. EXP carries the top three DSCP bits.
func (s *Spec) buildMPLS(buf []byte, seq uint32, emit time.Duration) {
	h := frameHash(s.ProfileID, seq)

	off := putEthernet(buf, s.dstMAC(), s.SrcMAC, etherTypeMPLS)
	off = putMPLS(buf, off, s.MPLSLabel, s.DSCP>>3, true, defaultTTL)
	ipOff := off
	off = putIPv4(buf, off, s.SrcIP, s.DstIP, ipProtoUDP, s.DSCP,
		len(buf)-ipOff, uint16(seq)) //nolint:gosec // G115: IP ident wraps with seq
	udpOff := off
	off = putUDP(buf, off, s.srcPort(h), s.dstPort(), len(buf)-udpOff)

	putSignature(buf[off:], s.ProfileID, seq, emit)

	csum := transportChecksum4(s.SrcIP, s.DstIP, ipProtoUDP, buf[udpOff:])
	buf[udpOff+6] = byte(csum >> 8)
	buf[udpOff+7] = byte(csum)
}

// buildQinQ assembles Ethernet | 802.1ad tag | 802.1Q tag | IPv4 | UDP |
// signature | pad. PCP on both tags carries the top three DSCP bits.
func (s *Spec) buildQinQ(buf []byte, seq uint32, emit time.Duration) {
	h := frameHash(s.ProfileID, seq)
	pcp := s.DSCP >> 3

	// The outer EtherType is the 802.1ad TPID; the inner tag's TPID is
	// 0x8100 and its TCI is followed by the real payload EtherType.
	dst := s.dstMAC()
	copy(buf[0:6], dst[:])
	copy(buf[6:12], s.SrcMAC[:])

	off := 12
	off = putVLANTag(buf, off, etherTypeQinQ, pcp, s.OuterVLAN)
	off = putVLANTag(buf, off, etherTypeVLAN, pcp, s.InnerVLAN)
	buf[off] = byte(etherTypeIPv4 >> 8)
	buf[off+1] = byte(etherTypeIPv4 & 0xFF)
	off += 2

	ipOff := off
	off = putIPv4(buf, off, s.SrcIP, s.DstIP, ipProtoUDP, s.DSCP,
		len(buf)-ipOff, uint16(seq)) //nolint:gosec // G115: IP ident wraps with seq
	udpOff := off
	off = putUDP(buf, off, s.srcPort(h), s.dstPort(), len(buf)-udpOff)

	putSignature(buf[off:], s.ProfileID, seq, emit)

	csum := transportChecksum4(s.SrcIP, s.DstIP, ipProtoUDP, buf[udpOff:])
	buf[udpOff+6] = byte(csum >> 8)
	buf[udpOff+7] = byte(csum)
}

// buildVXLAN assembles the full outer + VXLAN + inner stack. The outer
// endpoints are the profile's configured addresses (VTEP to VTEP); the
// inner frame uses fixed locally administered addressing.
func (s *Spec) buildVXLAN(buf []byte, seq uint32, emit time.Duration) {
	h := frameHash(s.ProfileID, seq)

	// Outer Ethernet | IPv4 | UDP toward the VXLAN port.
	off := putEthernet(buf, s.dstMAC(), s.SrcMAC, etherTypeIPv4)
	outerIPOff := off
	off = putIPv4(buf, off, s.SrcIP, s.DstIP, ipProtoUDP, s.DSCP,
		len(buf)-outerIPOff, uint16(seq)) //nolint:gosec // G115: IP ident wraps with seq
	outerUDPOff := off
	off = putUDP(buf, off, ephemeralPort(h), VXLANPort, len(buf)-outerUDPOff)

	off = putVXLAN(buf, off, s.VNI)

	// Inner Ethernet | IPv4 | UDP | signature | pad.
	off += putEthernet(buf[off:], vxlanInnerDstMAC, vxlanInnerSrcMAC, etherTypeIPv4)
	innerIPOff := off
	off = putIPv4(buf, off, vxlanInnerSrcIP, vxlanInnerDstIP, ipProtoUDP, s.DSCP,
		len(buf)-innerIPOff, uint16(seq)) //nolint:gosec // G115: IP ident wraps with seq
	innerUDPOff := off
	off = putUDP(buf, off, s.srcPort(h), s.dstPort(), len(buf)-innerUDPOff)

	putSignature(buf[off:], s.ProfileID, seq, emit)

	innerCsum := transportChecksum4(vxlanInnerSrcIP, vxlanInnerDstIP,
		ipProtoUDP, buf[innerUDPOff:])
	buf[innerUDPOff+6] = byte(innerCsum >> 8)
	buf[innerUDPOff+7] = byte(innerCsum)

	// RFC 7348 recommends a zero outer UDP checksum for IPv4 underlays;
	// compute it anyway since every other checksum in the frame is real.
	outerCsum := transportChecksum4(s.SrcIP, s.DstIP, ipProtoUDP, buf[outerUDPOff:])
	buf[outerUDPOff+6] = byte(outerCsum >> 8)
	buf[outerUDPOff+7] = byte(outerCsum)
}

// buildTCP4 assembles Ethernet | IPv4 | TCP | [payload] | signature | pad.
// The initial sequence number and (for floods) source port derive from
// the frame hash.
func (s *Spec) buildTCP4(buf []byte, seq uint32, emit time.Duration, flags uint8, payload []byte) {
	h := frameHash(s.ProfileID, seq)

	var ack uint32
	if flags&tcpFlagACK != 0 {
		ack = uint32(h >> 32) //nolint:gosec // G115: hash-derived ack number
	}

	off := putEthernet(buf, s.dstMAC(), s.SrcMAC, etherTypeIPv4)
	ipOff := off
	off = putIPv4(buf, off, s.SrcIP, s.DstIP, ipProtoTCP, s.DSCP,
		len(buf)-ipOff, uint16(seq)) //nolint:gosec // G115: IP ident wraps with seq
	tcpOff := off
	off = putTCP(buf, off, ephemeralPort(h), s.dstPort(),
		uint32(h), ack, flags) //nolint:gosec // G115: hash-derived ISN

	off += copy(buf[off:], payload)
	putSignature(buf[off:], s.ProfileID, seq, emit)

	csum := transportChecksum4(s.SrcIP, s.DstIP, ipProtoTCP, buf[tcpOff:])
	buf[tcpOff+16] = byte(csum >> 8)
	buf[tcpOff+17] = byte(csum)
}

// httpRequest returns the minimal HTTP/1.1 GET carried by http-flood
// frames.
func (s *Spec) httpRequest() []byte {
	return []byte("GET / HTTP/1.1\r\nHost: " + s.DstIP.String() +
		"\r\nUser-Agent: gotgen\r\nConnection: keep-alive\r\n\r\n")
}

// dnsQuerySkeleton is a valid DNS query for "example.com" type A
// (RFC 1035 Section 4.1): header with RD set, one question, no answers.
var dnsQuerySkeleton = []byte{
	0x47, 0x54, // ID "GT"
	0x01, 0x00, // Flags: RD=1
	0x00, 0x01, // QDCOUNT=1
	0x00, 0x00, // ANCOUNT
	0x00, 0x00, // NSCOUNT
	0x00, 0x00, // ARCOUNT
	0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
	0x03, 'c', 'o', 'm',
	0x00,       // root label
	0x00, 0xFF, // QTYPE=ANY (amplification shape)
	0x00, 0x01, // QCLASS=IN
}
