package frame

import (
	"encoding/binary"
	"net/netip"
)

// -------------------------------------------------------------------------
// Layer Constants
// -------------------------------------------------------------------------

const (
	// EthHeaderSize is the Ethernet II header size: dst(6) + src(6) + type(2).
	EthHeaderSize = 14

	// VLANTagSize is the size of one 802.1Q/802.1ad tag: TPID(2) + TCI(2).
	VLANTagSize = 4

	// IPv4HeaderSize is the fixed IPv4 header size (IHL=5, no options).
	IPv4HeaderSize = 20

	// IPv6HeaderSize is the fixed IPv6 header size (RFC 8200 Section 3).
	IPv6HeaderSize = 40

	// UDPHeaderSize is the UDP header size (RFC 768).
	UDPHeaderSize = 8

	// TCPHeaderSize is the TCP header size without options (data offset 5).
	TCPHeaderSize = 20

	// MPLSShimSize is the size of one MPLS label stack entry (RFC 3032).
	MPLSShimSize = 4

	// VXLANHeaderSize is the fixed VXLAN header size (RFC 7348 Section 5).
	VXLANHeaderSize = 8

	// MinFrameSize is the minimum Ethernet frame size excluding FCS.
	MinFrameSize = 64

	// MaxFrameSize is the largest supported jumbo frame, excluding FCS.
	MaxFrameSize = 9000

	etherTypeIPv4 uint16 = 0x0800
	etherTypeIPv6 uint16 = 0x86DD
	etherTypeMPLS uint16 = 0x8847 // RFC 3032: MPLS unicast
	etherTypeQinQ uint16 = 0x88A8 // IEEE 802.1ad service tag
	etherTypeVLAN uint16 = 0x8100 // IEEE 802.1Q customer tag

	ipProtoTCP uint8 = 6
	ipProtoUDP uint8 = 17

	// VXLANPort is the IANA-assigned VXLAN UDP destination port
	// (RFC 7348 Section 5).
	VXLANPort uint16 = 4789

	// vxlanFlagVNI is the VXLAN I flag: VNI field is valid.
	vxlanFlagVNI uint8 = 0x08

	// DefaultUDPDstPort is the destination port used when a profile does
	// not configure one.
	DefaultUDPDstPort uint16 = 9999

	// DNSPort is the destination port used by the dns-amp protocol.
	DNSPort uint16 = 53

	// defaultTTL is the TTL / hop limit for generated frames.
	defaultTTL uint8 = 64
)

// BroadcastMAC is the Ethernet broadcast address, used when the neighbor
// cache has no entry for the destination.
var BroadcastMAC = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// -------------------------------------------------------------------------
// Ethernet / VLAN
// -------------------------------------------------------------------------

// putEthernet writes an Ethernet II header and returns the next offset.
func putEthernet(buf []byte, dst, src [6]byte, etherType uint16) int {
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], etherType)

	return EthHeaderSize
}

// putVLANTag writes one 4-byte VLAN tag at off: TPID followed by TCI
// (PCP(3) | DEI(1) | VID(12)). Returns the next offset.
func putVLANTag(buf []byte, off int, tpid uint16, pcp uint8, vid uint16) int {
	binary.BigEndian.PutUint16(buf[off:off+2], tpid)

	tci := uint16(pcp)<<13 | vid&0x0FFF
	binary.BigEndian.PutUint16(buf[off+2:off+4], tci)

	return off + VLANTagSize
}

// -------------------------------------------------------------------------
// IPv4 / IPv6 — RFC 791 / RFC 8200
// -------------------------------------------------------------------------

// putIPv4 writes a fixed 20-byte IPv4 header at off with the checksum
// computed. totalLen covers the IPv4 header plus everything after it.
// dscp occupies the top six bits of the TOS byte. ident varies per frame
// so that capture tooling can tell retransmitted generator frames apart.
func putIPv4(buf []byte, off int, src, dst netip.Addr, proto, dscp uint8, totalLen int, ident uint16) int {
	// Byte 0: Version(4) | IHL(5).
	buf[off] = 0x45
	// Byte 1: DSCP(6) | ECN(2).
	buf[off+1] = dscp << 2
	// Bytes 2-3: Total Length.
	binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(totalLen)) //nolint:gosec // G115: bounded by MaxFrameSize
	// Bytes 4-5: Identification.
	binary.BigEndian.PutUint16(buf[off+4:off+6], ident)
	// Bytes 6-7: Flags(DF=1) | Fragment Offset.
	binary.BigEndian.PutUint16(buf[off+6:off+8], 0x4000)
	// Byte 8: TTL.
	buf[off+8] = defaultTTL
	// Byte 9: Protocol.
	buf[off+9] = proto
	// Bytes 10-11: Header Checksum (zero for computation).
	buf[off+10] = 0
	buf[off+11] = 0
	// Bytes 12-19: Source, Destination.
	src4 := src.As4()
	dst4 := dst.As4()
	copy(buf[off+12:off+16], src4[:])
	copy(buf[off+16:off+20], dst4[:])

	csum := ipv4HeaderChecksum(buf[off : off+IPv4HeaderSize])
	binary.BigEndian.PutUint16(buf[off+10:off+12], csum)

	return off + IPv4HeaderSize
}

// putIPv6 writes a fixed 40-byte IPv6 header at off. payloadLen covers
// everything after the IPv6 header. dscp occupies the top six bits of
// the Traffic Class field.
func putIPv6(buf []byte, off int, src, dst netip.Addr, nextHeader, dscp uint8, payloadLen int) int {
	// Bytes 0-3: Version(4) | Traffic Class(8) | Flow Label(20).
	tc := uint32(dscp) << 2
	binary.BigEndian.PutUint32(buf[off:off+4], 6<<28|tc<<20)
	// Bytes 4-5: Payload Length.
	binary.BigEndian.PutUint16(buf[off+4:off+6], uint16(payloadLen)) //nolint:gosec // G115: bounded by MaxFrameSize
	// Byte 6: Next Header.
	buf[off+6] = nextHeader
	// Byte 7: Hop Limit.
	buf[off+7] = defaultTTL
	// Bytes 8-39: Source, Destination.
	src16 := src.As16()
	dst16 := dst.As16()
	copy(buf[off+8:off+24], src16[:])
	copy(buf[off+24:off+40], dst16[:])

	return off + IPv6HeaderSize
}

// -------------------------------------------------------------------------
// UDP / TCP — RFC 768 / RFC 9293
// -------------------------------------------------------------------------

// putUDP writes a UDP header at off; the checksum is filled in by the
// caller after the payload is in place. udpLen covers header + payload.
func putUDP(buf []byte, off int, srcPort, dstPort uint16, udpLen int) int {
	binary.BigEndian.PutUint16(buf[off:off+2], srcPort)
	binary.BigEndian.PutUint16(buf[off+2:off+4], dstPort)
	binary.BigEndian.PutUint16(buf[off+4:off+6], uint16(udpLen)) //nolint:gosec // G115: bounded by MaxFrameSize
	binary.BigEndian.PutUint16(buf[off+6:off+8], 0)

	return off + UDPHeaderSize
}

// TCP flag bits (RFC 9293 Section 3.1).
const (
	tcpFlagSYN uint8 = 0x02
	tcpFlagACK uint8 = 0x10
	tcpFlagPSH uint8 = 0x08
)

// putTCP writes a 20-byte TCP header at off with the checksum zeroed;
// the caller computes it over the pseudo-header once the payload is in
// place.
func putTCP(buf []byte, off int, srcPort, dstPort uint16, seqNum, ackNum uint32, flags uint8) int {
	binary.BigEndian.PutUint16(buf[off:off+2], srcPort)
	binary.BigEndian.PutUint16(buf[off+2:off+4], dstPort)
	binary.BigEndian.PutUint32(buf[off+4:off+8], seqNum)
	binary.BigEndian.PutUint32(buf[off+8:off+12], ackNum)
	// Data Offset(4) = 5 words, reserved = 0.
	buf[off+12] = 5 << 4
	buf[off+13] = flags
	// Window.
	binary.BigEndian.PutUint16(buf[off+14:off+16], 65535)
	// Checksum (filled by caller), Urgent Pointer.
	binary.BigEndian.PutUint16(buf[off+16:off+18], 0)
	binary.BigEndian.PutUint16(buf[off+18:off+20], 0)

	return off + TCPHeaderSize
}

// -------------------------------------------------------------------------
// MPLS — RFC 3032
// -------------------------------------------------------------------------

// putMPLS writes one MPLS label stack entry at off:
// Label(20) | EXP(3) | S(1) | TTL(8).
func putMPLS(buf []byte, off int, label uint32, exp uint8, bottomOfStack bool, ttl uint8) int {
	var s uint32
	if bottomOfStack {
		s = 1
	}

	entry := label&0xFFFFF<<12 | uint32(exp&0x07)<<9 | s<<8 | uint32(ttl)
	binary.BigEndian.PutUint32(buf[off:off+4], entry)

	return off + MPLSShimSize
}

// -------------------------------------------------------------------------
// VXLAN — RFC 7348 Section 5
// -------------------------------------------------------------------------

// putVXLAN writes an 8-byte VXLAN header at off with the I flag set.
// The VNI occupies bytes 4-6; byte 7 is reserved.
func putVXLAN(buf []byte, off int, vni uint32) int {
	buf[off] = vxlanFlagVNI
	buf[off+1] = 0
	buf[off+2] = 0
	buf[off+3] = 0
	binary.BigEndian.PutUint32(buf[off+4:off+8], vni<<8)

	return off + VXLANHeaderSize
}

// -------------------------------------------------------------------------
// Deterministic per-frame variation
// -------------------------------------------------------------------------

// frameHash mixes the profile id and sequence number into a 64-bit value
// (splitmix64 finalizer). It drives randomized-looking per-frame fields
// without sacrificing build purity: the same (profile, seq) always yields
// the same frame.
func frameHash(profileID, seq uint32) uint64 {
	x := uint64(profileID)<<32 | uint64(seq)
	x += 0x9E3779B97F4A7C15
	x = (x ^ x>>30) * 0xBF58476D1CE4E5B9
	x = (x ^ x>>27) * 0x94D049BB133111EB

	return x ^ x>>31
}

// ephemeralPort maps a hash to the IANA dynamic port range 49152-65535.
func ephemeralPort(h uint64) uint16 {
	return 49152 + uint16(h%16384) //nolint:gosec // G115: value < 16384
}
