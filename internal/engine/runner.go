package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/dantte-lp/gotgen/internal/frame"
	"github.com/dantte-lp/gotgen/internal/netio"
)

// -------------------------------------------------------------------------
// Profile Runner
// -------------------------------------------------------------------------

const (
	// minDrainGrace floors the disable grace window.
	minDrainGrace = 100 * time.Millisecond

	// macRefreshEvery re-resolves the destination MAC from the neighbor
	// cache once per this many frames, picking up prober refreshes
	// without a per-frame map lookup.
	macRefreshEvery = 256
)

// Runner owns one enabled profile's pipeline: it drives the pacer, builds
// a frame per tick, shapes it, and hands the scheduled emissions to the
// source port's transmitter. One goroutine per runner; all pipeline state
// is confined to it.
type Runner struct {
	name string
	ent  *entry
	log  *slog.Logger

	pacer  *Pacer
	shaper *Shaper
	spec   *frame.Spec
	tx     *netio.Transmitter

	srcPort *Port
	dstPort *Port
	dstIP   string

	// updates carries hot descriptor swaps into the runner goroutine.
	updates chan *Profile

	cancel context.CancelFunc
	done   chan struct{}
}

// newRunner resolves ports and constructs the pipeline. Any error here
// is a resolution failure: the caller records the cause and parks the
// profile in the failed state.
func newRunner(reg *Registry, e *entry, logger *slog.Logger) (*Runner, error) {
	prof := e.profile

	src, err := reg.Port(prof.SrcPort)
	if err != nil {
		return nil, err
	}
	dst, err := reg.Port(prof.DstPort)
	if err != nil {
		return nil, err
	}
	if !src.Sendable() {
		return nil, fmt.Errorf("port %q has no raw endpoint: %w", prof.SrcPort, ErrPortNotFound)
	}

	r := &Runner{
		name:    prof.Name,
		ent:     e,
		log:     logger.With(slog.String("component", "runner"), slog.String("profile", prof.Name)),
		pacer:   NewPacer(prof.BandwidthMbps, prof.FrameSize, DefaultBurstDepth),
		shaper:  NewShaper(prof.Impairments, shaperSeed(prof.Name)),
		tx:      src.Transmitter(),
		srcPort: src,
		dstPort: dst,
		dstIP:   prof.DstIP.String(),
		updates: make(chan *Profile, 1),
		done:    make(chan struct{}),
	}

	r.spec = prof.FrameSpec(src.Info.MAC, srcAddr(src), src.Info.MTU, r.resolveDstMAC())
	if err := r.spec.Validate(); err != nil {
		return nil, err
	}

	return r, nil
}

// shaperSeed derives the per-profile PRNG seed at enable time.
func shaperSeed(name string) uint64 {
	return uint64(frame.ProfileID(name))<<32 | uint64(uint32(time.Now().UnixNano())) //nolint:gosec // G115: low bits only.
}

// srcAddr picks the port's address matching no particular family; the
// builder validates family fit against the profile destination.
func srcAddr(p *Port) netip.Addr {
	if p.Info.IPv4.IsValid() {
		return p.Info.IPv4.Addr()
	}
	if p.Info.IPv6.IsValid() {
		return p.Info.IPv6.Addr()
	}

	return netip.Addr{}
}

// resolveDstMAC prefers the source port's ARP view of the destination
// IP, then the destination port's own MAC, else zero so the builder
// falls back to broadcast.
func (r *Runner) resolveDstMAC() [6]byte {
	if mac := r.srcPort.ResolveMAC(r.dstIP); mac != ([6]byte{}) {
		return mac
	}
	if r.dstPort.Info.MAC != ([6]byte{}) {
		return r.dstPort.Info.MAC
	}

	return [6]byte{}
}

// start launches the pipeline goroutine.
func (r *Runner) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	go r.run(ctx)
}

// stop cancels the pipeline and waits up to grace for it to yield.
// Returns false if the grace window expired and the goroutine was
// abandoned to finish on its own.
func (r *Runner) stop(grace time.Duration) bool {
	r.cancel()

	select {
	case <-r.done:
		return true
	case <-time.After(grace):
		return false
	}
}

// drainGrace is the disable grace window: the shaper's worst-case
// residence, floored at 100 ms.
func (r *Runner) drainGrace() time.Duration {
	if d := r.shaper.MaxDelay(); d > minDrainGrace {
		return d
	}

	return minDrainGrace
}

// pushUpdate hands a hot descriptor change to the runner goroutine. The
// pacer rebases immediately (and wakes a paused pacer); the shaper and
// frame spec swap at the top of the next loop iteration.
func (r *Runner) pushUpdate(prof *Profile) {
	r.pacer.Update(prof.BandwidthMbps, prof.FrameSize)

	// Coalesce: only the latest pending update matters.
	select {
	case <-r.updates:
	default:
	}
	r.updates <- prof.Clone()
}

// run is the pipeline loop. It exits on context cancellation (disable)
// or on a fatal encode error.
func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	var seq uint32

	counters := &r.ent.counters

	for {
		select {
		case prof := <-r.updates:
			if err := r.applyUpdate(prof); err != nil {
				r.fail(err)
				return
			}
		default:
		}

		tick, err := r.pacer.Next(ctx)
		if err != nil {
			return
		}

		if seq%macRefreshEvery == 0 {
			r.spec.DstMAC = r.resolveDstMAC()
		}

		buf, err := frame.Build(r.spec, seq, netio.Uptime())
		if err != nil {
			r.fail(err)
			return
		}

		v := r.shaper.Shape(tick, len(buf))
		seq++

		switch {
		case v.LossDropped:
			counters.lossDrops.Add(1)
			continue
		case v.Overrun:
			counters.shaperOverruns.Add(1)
			continue
		}

		if v.Reordered {
			counters.reorderEvents.Add(1)
		}

		for i := range v.Count {
			if err := r.send(buf, v.Due[i]); err != nil {
				continue
			}

			counters.bytes.Add(uint64(len(buf)))
			counters.lastSend.Store(time.Now().UnixNano())

			if i == 0 {
				counters.frames.Add(1)
			} else {
				counters.dupEmits.Add(1)
			}
		}
	}
}

// send enqueues one emission. Port-unavailable and overflow are soft:
// the transmitter accounts the drop and the pipeline keeps running.
func (r *Runner) send(buf []byte, due time.Time) error {
	err := r.tx.Send(buf, due)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, netio.ErrPortUnavailable),
		errors.Is(err, netio.ErrOverflow):
		return err
	case errors.Is(err, netio.ErrTransmitterClosed):
		return err
	default:
		r.log.Warn("send failed", slog.Any("error", err))
		return err
	}
}

// applyUpdate swaps the shaper config and rebuilds the frame spec inside
// the runner goroutine. A spec that stops validating (frame size shrunk
// below the encapsulation minimum) is fatal to the run.
func (r *Runner) applyUpdate(prof *Profile) error {
	r.shaper.SetConfig(prof.Impairments)
	r.dstIP = prof.DstIP.String()

	spec := prof.FrameSpec(r.srcPort.Info.MAC, srcAddr(r.srcPort), r.srcPort.Info.MTU, r.resolveDstMAC())
	if err := spec.Validate(); err != nil {
		return err
	}
	r.spec = spec

	r.log.Info("hot update applied",
		slog.Float64("bandwidth_mbps", prof.BandwidthMbps),
		slog.Int("frame_size", prof.FrameSize))

	return nil
}

// fail records a fatal pipeline error and transitions the profile to
// failed. Cancellation already in flight wins: a drained stop must not
// be reported as a failure.
func (r *Runner) fail(err error) {
	res := ApplyEvent(r.ent.State(), EventFatal)
	if !res.Changed {
		return
	}

	r.ent.setState(res.NewState)
	r.ent.setCause(err.Error())
	r.log.Error("pipeline failed", slog.Any("error", err))
}
