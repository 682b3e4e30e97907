package netio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/gotgen/internal/frame"
)

// -------------------------------------------------------------------------
// Capture — benchmark receive counter
// -------------------------------------------------------------------------

// Capture counts generator frames arriving on a port and accumulates
// one-way latency samples from their payload signatures. The RFC2544
// driver opens one on the destination port for the duration of a sweep;
// nothing else reads from the datapath.
//
// Latency is computed against the same process-wide monotonic clock the
// builder stamps into signatures, so it is only meaningful when the
// external fixture loops frames back to this host.
type Capture struct {
	conn      FrameConn
	profileID uint32
	clock     func() time.Duration
	logger    *slog.Logger

	frames atomic.Uint64
	bytes  atomic.Uint64

	mu      sync.Mutex
	latMin  time.Duration
	latMax  time.Duration
	latSum  time.Duration
	samples uint64
}

// magicLE is the signature magic in wire (little-endian) byte order,
// used to locate the signature inside an arbitrary encapsulation.
var magicLE = func() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, frame.SignatureMagic)

	return b
}()

// NewCapture wraps a FrameConn for counting. clock must be the same
// monotonic base the frame builder uses.
func NewCapture(conn FrameConn, profileID uint32, clock func() time.Duration, logger *slog.Logger) *Capture {
	return &Capture{
		conn:      conn,
		profileID: profileID,
		clock:     clock,
		logger:    logger.With(slog.String("component", "capture")),
	}
}

// Run reads frames until ctx is cancelled. Read timeouts are the idle
// heartbeat that keeps cancellation responsive.
func (c *Capture) Run(ctx context.Context) error {
	buf := make([]byte, frame.MaxFrameSize+frame.EthHeaderSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := c.conn.ReadFrame(buf)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			if errors.Is(err, ErrConnClosed) || ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("capture read: %w", err)
		}

		c.account(buf[:n])
	}
}

// account attributes one received frame if its signature matches the
// watched profile.
func (c *Capture) account(b []byte) {
	idx := bytes.Index(b, magicLE)
	if idx < 0 || len(b)-idx < frame.SignatureSize {
		return
	}

	sig, err := frame.ParseSignature(b[idx:])
	if err != nil || sig.ProfileID != c.profileID {
		return
	}

	c.frames.Add(1)
	c.bytes.Add(uint64(len(b)))

	// One-way latency: both clocks are the same process monotonic base;
	// the subtraction is modulo 2^32 microseconds.
	nowMicros := uint32(c.clock().Microseconds()) //nolint:gosec // G115: intentional truncation modulo 2^32
	delta := time.Duration(nowMicros-sig.EmitMicros) * time.Microsecond

	c.mu.Lock()
	if c.samples == 0 || delta < c.latMin {
		c.latMin = delta
	}
	if delta > c.latMax {
		c.latMax = delta
	}
	c.latSum += delta
	c.samples++
	c.mu.Unlock()
}

// Counts returns the received frame and byte totals.
func (c *Capture) Counts() (frames, bytesTotal uint64) {
	return c.frames.Load(), c.bytes.Load()
}

// Latency returns min/mean/max over the accumulated samples; samples is
// zero when nothing arrived.
func (c *Capture) Latency() (minLat, meanLat, maxLat time.Duration, samples uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.samples == 0 {
		return 0, 0, 0, 0
	}

	return c.latMin, c.latSum / time.Duration(c.samples), c.latMax, c.samples //nolint:gosec // G115: sample count is positive
}

// Reset zeroes counters and latency accumulators between trial steps.
func (c *Capture) Reset() {
	c.frames.Store(0)
	c.bytes.Store(0)

	c.mu.Lock()
	c.latMin, c.latMax, c.latSum, c.samples = 0, 0, 0, 0
	c.mu.Unlock()
}

// Close releases the underlying socket.
func (c *Capture) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close capture: %w", err)
	}

	return nil
}
