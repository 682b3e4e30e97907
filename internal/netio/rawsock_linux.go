//go:build linux

package netio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// PacketSock — AF_PACKET raw socket bound to one device
// -------------------------------------------------------------------------

// PacketSock implements FrameConn with an AF_PACKET/SOCK_RAW socket bound
// to a single interface index. Binding to the device (not a protocol-wide
// promiscuous socket) guarantees frames leave the intended physical port
// even when several ports are active.
//
// The socket is non-blocking: a full device queue surfaces as
// ErrWouldBlock so the Transmitter can apply its bounded retry policy
// instead of stalling the scheduling loop.
type PacketSock struct {
	fd      int
	ifIndex int
	ifName  string

	readTimeout time.Duration

	// hwTimestamps records whether SO_TIMESTAMPING with hardware flags
	// was accepted at open time.
	hwTimestamps bool

	mu     sync.Mutex
	closed bool
	lastTS time.Time
	lastHW bool
}

// PacketSockConfig holds open parameters for a PacketSock.
type PacketSockConfig struct {
	// Interface is the device name to bind, e.g. "eth1".
	Interface string

	// HardwareTimestamps requests NIC TX timestamping via SO_TIMESTAMPING.
	// If the device or driver rejects it, the socket falls back silently
	// and TXTimestamp reports software time.
	HardwareTimestamps bool

	// ReadTimeout bounds ReadFrame. Zero selects 100 ms.
	ReadTimeout time.Duration

	// SendBuffer overrides SO_SNDBUF in bytes; zero keeps the kernel
	// default.
	SendBuffer int
}

const defaultReadTimeout = 100 * time.Millisecond

// htons converts a short to network byte order for sockaddr_ll/protocol
// fields, which AF_PACKET expects big-endian regardless of host order.
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

// OpenPacketSock opens and binds a raw packet socket on the named device.
func OpenPacketSock(cfg PacketSockConfig) (*PacketSock, error) {
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("open packet socket on %s: %w: %w",
			cfg.Interface, ErrInterfaceNotFound, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET,
		unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC,
		int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("open packet socket on %s: %w", cfg.Interface, err)
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind packet socket to %s (ifindex %d): %w",
			cfg.Interface, ifi.Index, err)
	}

	if cfg.SendBuffer > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBuffer); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set SO_SNDBUF on %s: %w", cfg.Interface, err)
		}
	}

	s := &PacketSock{
		fd:          fd,
		ifIndex:     ifi.Index,
		ifName:      cfg.Interface,
		readTimeout: cfg.ReadTimeout,
	}
	if s.readTimeout <= 0 {
		s.readTimeout = defaultReadTimeout
	}

	if cfg.HardwareTimestamps {
		// Best effort: drivers without PTP clocks reject the hardware
		// flags, and the software fallback is handled by the caller.
		flags := unix.SOF_TIMESTAMPING_TX_HARDWARE |
			unix.SOF_TIMESTAMPING_RAW_HARDWARE |
			unix.SOF_TIMESTAMPING_OPT_TSONLY
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, flags); err == nil {
			s.hwTimestamps = true
		}
	}

	return s, nil
}

// IfIndex returns the bound interface index.
func (s *PacketSock) IfIndex() int { return s.ifIndex }

// HardwareTimestamping reports whether the NIC accepted TX timestamping.
func (s *PacketSock) HardwareTimestamping() bool { return s.hwTimestamps }

// WriteFrame sends one complete Ethernet frame.
func (s *PacketSock) WriteFrame(b []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("write frame on %s: %w", s.ifName, ErrConnClosed)
	}
	s.mu.Unlock()

	n, err := unix.Write(s.fd, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOBUFS) {
			return 0, fmt.Errorf("write frame on %s: %w", s.ifName, ErrWouldBlock)
		}
		return 0, fmt.Errorf("write frame on %s: %w", s.ifName, err)
	}

	if s.hwTimestamps {
		s.harvestTXTimestamp()
	}

	return n, nil
}

// ReadFrame receives one frame, waiting up to the read timeout.
func (s *PacketSock) ReadFrame(b []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("read frame on %s: %w", s.ifName, ErrConnClosed)
	}
	s.mu.Unlock()

	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}} //nolint:gosec // G115: kernel FDs fit int32
	n, err := unix.Poll(pfd, int(s.readTimeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, fmt.Errorf("read frame on %s: %w", s.ifName, ErrReadTimeout)
		}
		return 0, fmt.Errorf("poll %s: %w", s.ifName, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("read frame on %s: %w", s.ifName, ErrReadTimeout)
	}

	rn, _, err := unix.Recvfrom(s.fd, b, unix.MSG_DONTWAIT)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, fmt.Errorf("read frame on %s: %w", s.ifName, ErrReadTimeout)
		}
		return 0, fmt.Errorf("read frame on %s: %w", s.ifName, err)
	}

	return rn, nil
}

// TXTimestamp returns the last harvested transmit timestamp.
func (s *PacketSock) TXTimestamp() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastTS, s.lastHW
}

// Close releases the socket. Idempotent.
func (s *PacketSock) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := unix.Close(s.fd); err != nil {
		return fmt.Errorf("close packet socket on %s: %w", s.ifName, err)
	}

	return nil
}

// -------------------------------------------------------------------------
// TX timestamp harvesting — SO_TIMESTAMPING error queue
// -------------------------------------------------------------------------

// harvestTXTimestamp drains at most one SCM_TIMESTAMPING message from the
// socket error queue. Non-blocking: when the NIC has not completed the
// timestamp yet the previous value stands and the next write retries.
func (s *PacketSock) harvestTXTimestamp() {
	oob := make([]byte, 128)

	_, oobn, _, _, err := unix.Recvmsg(s.fd, nil, oob,
		unix.MSG_ERRQUEUE|unix.MSG_DONTWAIT)
	if err != nil {
		return
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return
	}

	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET ||
			msgs[i].Header.Type != unix.SO_TIMESTAMPING {
			continue
		}

		ts, ok := parseTimestamping(msgs[i].Data)
		if !ok {
			continue
		}

		s.mu.Lock()
		s.lastTS = ts
		s.lastHW = true
		s.mu.Unlock()

		return
	}
}

// parseTimestamping extracts the raw hardware timestamp from an
// scm_timestamping payload: three timespecs, index 2 is the raw NIC
// clock (Documentation/networking/timestamping.rst). Timespec fields are
// native-endian 64-bit on amd64/arm64.
func parseTimestamping(data []byte) (time.Time, bool) {
	const timespecSize = 16
	if len(data) < 3*timespecSize {
		return time.Time{}, false
	}

	raw := data[2*timespecSize:]
	sec := int64(binary.NativeEndian.Uint64(raw[0:8]))   //nolint:gosec // G115: kernel timespec
	nsec := int64(binary.NativeEndian.Uint64(raw[8:16])) //nolint:gosec // G115: kernel timespec

	if sec == 0 && nsec == 0 {
		return time.Time{}, false
	}

	return time.Unix(sec, nsec), true
}
