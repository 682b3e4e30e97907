package netio

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// -------------------------------------------------------------------------
// Transmitter Errors
// -------------------------------------------------------------------------

var (
	// ErrPortUnavailable indicates the port link is down. The frame is
	// counted as dropped; the transmitter stays alive and recovers when
	// the link returns.
	ErrPortUnavailable = errors.New("port unavailable")

	// ErrOverflow indicates the scheduling queue is saturated.
	ErrOverflow = errors.New("transmit queue overflow")

	// ErrOversize indicates the frame exceeds the port MTU plus the
	// Ethernet and VLAN allowance.
	ErrOversize = errors.New("frame exceeds port MTU")

	// ErrTransmitterClosed indicates Send after Shutdown.
	ErrTransmitterClosed = errors.New("transmitter is closed")
)

// -------------------------------------------------------------------------
// TX Counters
// -------------------------------------------------------------------------

// TXCounters is a point-in-time snapshot of a port's transmit counters.
type TXCounters struct {
	// Frames and Bytes count successful kernel writes.
	Frames uint64 `json:"frames"`
	Bytes  uint64 `json:"bytes"`

	// Dropped counts frames lost to link-down flushes, retry exhaustion,
	// and oversize rejects.
	Dropped uint64 `json:"dropped"`

	// LastTX is the most recent transmit timestamp; HardwareTS reports
	// whether it came from the NIC clock.
	LastTX     time.Time `json:"last_tx,omitzero"`
	HardwareTS bool      `json:"hardware_ts,omitempty"`
}

// -------------------------------------------------------------------------
// Due-time heap
// -------------------------------------------------------------------------

// txEntry is one scheduled frame. seq breaks due-time ties in enqueue
// order so equal-due frames keep FIFO semantics.
type txEntry struct {
	frame []byte
	due   time.Time
	seq   uint64
}

type txHeap []txEntry

func (h txHeap) Len() int { return len(h) }

func (h txHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}

	return h[i].due.Before(h[j].due)
}

func (h txHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *txHeap) Push(x any) { *h = append(*h, x.(txEntry)) } //nolint:forcetypeassert // heap.Interface contract

func (h *txHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = txEntry{}
	*h = old[:n-1]

	return e
}

// -------------------------------------------------------------------------
// Transmitter — single writer per port
// -------------------------------------------------------------------------

const (
	// defaultQueueDepth bounds the scheduling heap.
	defaultQueueDepth = 8192

	// maxWriteRetries bounds the EAGAIN retry loop per frame.
	maxWriteRetries = 3

	// writeRetryBackoff is the per-attempt backoff on a full device queue.
	writeRetryBackoff = 200 * time.Microsecond

	// vlanAllowance is the extra L2 budget for double-tagged frames.
	vlanAllowance = 8
)

// TransmitterConfig holds construction parameters for a Transmitter.
type TransmitterConfig struct {
	// Port is the device name, used for logging only.
	Port string

	// MTU bounds accepted frame sizes; zero disables the check.
	MTU int

	// QueueDepth bounds the scheduling heap; zero selects the default.
	QueueDepth int
}

// Transmitter owns a port's FrameConn and serializes all writes through
// one scheduling goroutine draining a due-time min-heap. It never shares
// mutable state with callers: Send appends under the queue lock, the run
// loop pops under the same lock, counters are atomics.
type Transmitter struct {
	conn   FrameConn
	cfg    TransmitterConfig
	logger *slog.Logger

	mu      sync.Mutex
	queue   txHeap
	nextSeq uint64
	closed  bool

	// wake nudges the run loop when a new head arrives or state changes.
	wake chan struct{}

	// drained is closed by the run loop once the queue is empty after
	// shutdown begins.
	drained  chan struct{}
	shutdown atomic.Bool

	linkUp atomic.Bool

	frames  atomic.Uint64
	bytes   atomic.Uint64
	dropped atomic.Uint64
	lastTX  atomic.Int64
	lastHW  atomic.Bool
}

// NewTransmitter wraps a FrameConn. The link starts up; the interface
// monitor flips it via SetLinkState.
func NewTransmitter(conn FrameConn, cfg TransmitterConfig, logger *slog.Logger) *Transmitter {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}

	t := &Transmitter{
		conn:    conn,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "transmitter"), slog.String("port", cfg.Port)),
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	t.linkUp.Store(true)

	return t
}

// Send schedules one frame for transmission at or after due. Frames with
// earlier due-times are sent first; ties preserve enqueue order.
func (t *Transmitter) Send(frame []byte, due time.Time) error {
	if t.cfg.MTU > 0 && len(frame) > t.cfg.MTU+14+vlanAllowance {
		return fmt.Errorf("frame of %d bytes on %s (mtu %d): %w",
			len(frame), t.cfg.Port, t.cfg.MTU, ErrOversize)
	}

	if !t.linkUp.Load() {
		t.dropped.Add(1)
		return fmt.Errorf("send on %s: %w", t.cfg.Port, ErrPortUnavailable)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("send on %s: %w", t.cfg.Port, ErrTransmitterClosed)
	}
	if len(t.queue) >= t.cfg.QueueDepth {
		t.mu.Unlock()
		t.dropped.Add(1)
		return fmt.Errorf("send on %s: %d frames queued: %w",
			t.cfg.Port, t.cfg.QueueDepth, ErrOverflow)
	}

	heap.Push(&t.queue, txEntry{frame: frame, due: due, seq: t.nextSeq})
	t.nextSeq++
	t.mu.Unlock()

	t.nudge()

	return nil
}

// Counters returns a point-in-time snapshot. Lock-free.
func (t *Transmitter) Counters() TXCounters {
	return TXCounters{
		Frames:     t.frames.Load(),
		Bytes:      t.bytes.Load(),
		Dropped:    t.dropped.Load(),
		LastTX:     time.Unix(0, t.lastTX.Load()),
		HardwareTS: t.lastHW.Load(),
	}
}

// ResetCounters zeroes the TX counters on explicit operator request.
func (t *Transmitter) ResetCounters() {
	t.frames.Store(0)
	t.bytes.Store(0)
	t.dropped.Store(0)
}

// QueueDepth returns the current number of scheduled frames.
func (t *Transmitter) QueueDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.queue)
}

// LinkUp reports the current link state.
func (t *Transmitter) LinkUp() bool { return t.linkUp.Load() }

// SetLinkState is called by the interface monitor. A transition to down
// flushes the pending queue into the dropped counter; the transmitter
// keeps accepting (and dropping) sends until the link returns.
func (t *Transmitter) SetLinkState(up bool) {
	was := t.linkUp.Swap(up)
	if was == up {
		return
	}

	if !up {
		t.mu.Lock()
		flushed := len(t.queue)
		t.queue = t.queue[:0]
		t.mu.Unlock()

		if flushed > 0 {
			t.dropped.Add(uint64(flushed)) //nolint:gosec // G115: queue length is non-negative
		}

		t.logger.Warn("link down, queue flushed", slog.Int("flushed", flushed))

		return
	}

	t.logger.Info("link up")
	t.nudge()
}

// nudge wakes the run loop without blocking.
func (t *Transmitter) nudge() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduling loop until ctx is cancelled or Shutdown
// completes a drain. It owns all writes to the FrameConn.
func (t *Transmitter) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		entry, wait, ok := t.next()

		switch {
		case !ok && t.shutdown.Load():
			// Queue drained after shutdown: done.
			t.closeQueue()
			return nil

		case !ok:
			// Queue empty: sleep until nudged.
			select {
			case <-ctx.Done():
				t.closeQueue()
				return nil
			case <-t.wake:
			}
			continue

		case wait > 0:
			resetTimer(timer, wait)
			select {
			case <-ctx.Done():
				t.closeQueue()
				return nil
			case <-t.wake:
			case <-timer.C:
			}
			continue
		}

		t.write(entry.frame)
	}
}

// next pops the head entry if it is due. Returns (entry, 0, true) when a
// frame should be written now, (zero, wait, true) when the head is not
// yet due, and (zero, 0, false) when the queue is empty.
func (t *Transmitter) next() (txEntry, time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.queue) == 0 {
		return txEntry{}, 0, false
	}

	now := time.Now()
	head := t.queue[0]
	if wait := head.due.Sub(now); wait > 0 {
		return txEntry{}, wait, true
	}

	heap.Pop(&t.queue)

	return head, 0, true
}

// write performs the synchronous raw send with the bounded retry policy.
// Counters advance only after the kernel acknowledges the byte count.
func (t *Transmitter) write(frame []byte) {
	for attempt := 0; ; attempt++ {
		n, err := t.conn.WriteFrame(frame)
		if err == nil {
			t.frames.Add(1)
			t.bytes.Add(uint64(n)) //nolint:gosec // G115: kernel write count is non-negative

			if ts, hw := t.conn.TXTimestamp(); hw {
				t.lastTX.Store(ts.UnixNano())
				t.lastHW.Store(true)
			} else {
				t.lastTX.Store(time.Now().UnixNano())
				t.lastHW.Store(false)
			}

			return
		}

		if errors.Is(err, ErrWouldBlock) && attempt < maxWriteRetries {
			time.Sleep(writeRetryBackoff * time.Duration(attempt+1))
			continue
		}

		t.dropped.Add(1)

		if !errors.Is(err, ErrWouldBlock) {
			t.logger.Debug("frame write failed", slog.String("error", err.Error()))
		}

		return
	}
}

// Shutdown stops accepting new frames, lets Run drain the queue within
// grace, then closes the FrameConn once the run loop has stopped
// writing. Safe to call once.
func (t *Transmitter) Shutdown(grace time.Duration) error {
	t.shutdown.Store(true)

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.nudge()

	select {
	case <-t.drained:
	case <-time.After(grace):
		t.mu.Lock()
		remaining := len(t.queue)
		t.queue = t.queue[:0]
		t.mu.Unlock()

		if remaining > 0 {
			t.dropped.Add(uint64(remaining)) //nolint:gosec // G115: queue length is non-negative
			t.logger.Warn("shutdown grace expired", slog.Int("dropped", remaining))
		}

		t.nudge()

		// The run loop may still be inside a write; close must wait for
		// it to observe the flushed queue and exit.
		select {
		case <-t.drained:
		case <-time.After(grace):
			t.logger.Warn("run loop still busy after flush, closing")
		}
	}

	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("shutdown transmitter on %s: %w", t.cfg.Port, err)
	}

	return nil
}

// closeQueue marks the drain complete. Called once by the run loop.
func (t *Transmitter) closeQueue() {
	select {
	case <-t.drained:
	default:
		close(t.drained)
	}
}

// resetTimer safely rearms a timer that may have fired.
func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
