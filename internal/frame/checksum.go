package frame

import (
	"encoding/binary"
	"net/netip"
)

// -------------------------------------------------------------------------
// Internet Checksums — RFC 1071
// -------------------------------------------------------------------------

// checksumAccumulate sums 16-bit words of b into an unfolded 32-bit
// accumulator. An odd trailing byte is padded with zero on the right.
func checksumAccumulate(sum uint32, b []byte) uint32 {
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}

	if n%2 != 0 {
		sum += uint32(b[n-1]) << 8
	}

	return sum
}

// checksumFold folds a 32-bit accumulator to 16 bits and returns the
// one's complement.
func checksumFold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}

	return ^uint16(sum) //nolint:gosec // G115: intentional truncation after fold
}

// ipv4HeaderChecksum computes the IPv4 header checksum per RFC 1071.
// The checksum field MUST be zero before calling.
func ipv4HeaderChecksum(hdr []byte) uint16 {
	return checksumFold(checksumAccumulate(0, hdr))
}

// transportChecksum4 computes a UDP or TCP checksum over an IPv4
// pseudo-header (RFC 768 / RFC 9293 Section 3.1) plus the transport
// segment. proto is the IP protocol number (6 or 17); seg covers the
// transport header (checksum field zeroed) and payload.
func transportChecksum4(src, dst netip.Addr, proto uint8, seg []byte) uint16 {
	var pseudo [12]byte

	src4 := src.As4()
	dst4 := dst.As4()
	copy(pseudo[0:4], src4[:])
	copy(pseudo[4:8], dst4[:])
	pseudo[8] = 0
	pseudo[9] = proto
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(seg))) //nolint:gosec // G115: segment length bounded by frame size

	sum := checksumAccumulate(0, pseudo[:])
	sum = checksumAccumulate(sum, seg)

	csum := checksumFold(sum)
	// RFC 768: a computed zero checksum is transmitted as all ones.
	if proto == ipProtoUDP && csum == 0 {
		csum = 0xFFFF
	}

	return csum
}

// transportChecksum6 computes a UDP or TCP checksum over an IPv6
// pseudo-header (RFC 8200 Section 8.1) plus the transport segment.
// For UDP over IPv6 the checksum is mandatory.
func transportChecksum6(src, dst netip.Addr, proto uint8, seg []byte) uint16 {
	var pseudo [40]byte

	src16 := src.As16()
	dst16 := dst.As16()
	copy(pseudo[0:16], src16[:])
	copy(pseudo[16:32], dst16[:])
	binary.BigEndian.PutUint32(pseudo[32:36], uint32(len(seg))) //nolint:gosec // G115: segment length bounded by frame size
	pseudo[39] = proto

	sum := checksumAccumulate(0, pseudo[:])
	sum = checksumAccumulate(sum, seg)

	csum := checksumFold(sum)
	if proto == ipProtoUDP && csum == 0 {
		csum = 0xFFFF
	}

	return csum
}
