// Package netio provides the raw L2 datapath: per-device packet sockets,
// the per-port scheduling transmitter, link-state monitoring, and host
// port enumeration.
//
// Every physical port gets exactly one FrameConn and one Transmitter.
// The Transmitter serializes all writes for its port through a single
// goroutine draining a due-time min-heap, so frames leave the device in
// scheduled order regardless of how many profiles feed it.
//
// Link state and neighbor information come from rtnetlink; the package
// never mutates kernel state beyond opening its own sockets.
package netio
