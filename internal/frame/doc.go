// Package frame encodes on-wire Ethernet frames for traffic profiles.
//
// The builder is a pure function: given a frame Spec, a sequence number,
// and a monotonic emit offset it produces a bit-identical byte buffer on
// every call. Randomized fields (flood source ports, TCP initial sequence
// numbers) are derived deterministically from the profile id and sequence
// number so that generated streams are reproducible.
//
// Supported encapsulations:
//
//	ipv4 / ipv6    Ethernet | IP | UDP | signed payload
//	mpls           Ethernet (0x8847) | MPLS shim | IPv4 | UDP | signed payload
//	vxlan          Ethernet | IPv4 | UDP (4789) | VXLAN | inner Ethernet |
//	               inner IPv4 | inner UDP | signed payload
//	qinq           Ethernet 802.1ad (0x88a8) | 802.1Q (0x8100) | IPv4 | UDP |
//	               signed payload
//	udp-flood      Ethernet | IPv4 | UDP | signed payload
//	dns-amp        Ethernet | IPv4 | UDP (53) | DNS query | signed payload
//	tcp-syn-flood  Ethernet | IPv4 | TCP SYN | signed padding
//	http-flood     Ethernet | IPv4 | TCP PSH+ACK | HTTP/1.1 GET | signed padding
//
// Every frame carries a 16 byte little-endian payload signature (magic,
// profile id, sequence, emit time) that lets a downstream analyzer identify
// and re-sequence the stream.
package frame
