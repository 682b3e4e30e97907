package netio

import (
	"errors"
	"time"
)

// -------------------------------------------------------------------------
// FrameConn — raw L2 send/receive endpoint
// -------------------------------------------------------------------------

// FrameConn is a raw Ethernet endpoint bound to exactly one network
// device. Writes carry complete frames (Ethernet header included, FCS
// excluded); the kernel appends the FCS. A FrameConn is exclusively
// owned by one Transmitter and must not be shared.
type FrameConn interface {
	// WriteFrame sends one complete Ethernet frame out the bound device.
	// Returns the byte count acknowledged by the kernel. A saturated
	// device queue surfaces as ErrWouldBlock; the caller decides the
	// retry policy.
	WriteFrame(b []byte) (int, error)

	// ReadFrame receives one frame from the bound device, blocking up to
	// the configured read deadline. Used by the benchmark capture path,
	// not by transmitters.
	ReadFrame(b []byte) (int, error)

	// TXTimestamp returns the most recent transmit timestamp harvested
	// from the device, and whether it came from NIC hardware. When
	// hardware timestamping is unavailable the caller substitutes a
	// monotonic software reading.
	TXTimestamp() (time.Time, bool)

	// Close releases the socket.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrWouldBlock indicates the device send queue is full (EAGAIN).
	ErrWouldBlock = errors.New("device send queue full")

	// ErrConnClosed indicates an operation on a closed FrameConn.
	ErrConnClosed = errors.New("frame conn is closed")

	// ErrInterfaceNotFound indicates the named device does not exist.
	ErrInterfaceNotFound = errors.New("interface not found")

	// ErrReadTimeout indicates ReadFrame hit its deadline with no frame.
	ErrReadTimeout = errors.New("frame read timed out")
)
