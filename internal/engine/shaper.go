package engine

import (
	"math/rand/v2"
	"time"
)

// -------------------------------------------------------------------------
// Impairment Shaper
// -------------------------------------------------------------------------

const (
	// dupOffset separates a duplicate copy from its original.
	dupOffset = 50 * time.Microsecond

	// meanBurstRun is the mean run length, in frames, of the bad state of
	// the two-state burst loss model.
	meanBurstRun = 5

	// shaperQueueDepth bounds the virtual shaping-cap queue in frames.
	// Frames that would queue deeper are tail-dropped as overruns.
	shaperQueueDepth = 256
)

// Verdict is the shaper's decision for one builder output: zero, one or
// two scheduled emissions plus the counter deltas the caller applies.
type Verdict struct {
	// Due holds the scheduled emission instants; Count says how many are
	// valid (0 = dropped, 2 = duplicated).
	Due   [2]time.Time
	Count int

	// LossDropped is set for both independent and burst loss.
	LossDropped bool

	// Duplicated is set when a second copy was scheduled.
	Duplicated bool

	// Reordered is set when the frame drew the extra overtaking delay.
	Reordered bool

	// Overrun is set when the shaping-cap queue tail-dropped the frame.
	Overrun bool
}

// Shaper transforms (frame, tick-time) pairs into (frame, due-time) pairs
// exhibiting the configured impairments. Stages apply in a fixed order:
// loss, burst loss, duplication, reorder, latency+jitter, shaping cap.
//
// A shaper is owned by a single runner goroutine and is not safe for
// concurrent use. It never fails; saturation only reshapes (tail drop
// counted as an overrun).
type Shaper struct {
	cfg Impairments
	rng *rand.Rand

	// burstBad is the current state of the burst loss model.
	burstBad bool

	// capBusyUntil is the virtual finish time of the shaping-cap queue.
	capBusyUntil time.Time
}

// NewShaper creates a shaper with a dedicated PRNG. Seeding happens once
// at enable time so identical configurations replay statistically
// identical impairment traces.
func NewShaper(cfg Impairments, seed uint64) *Shaper {
	return &Shaper{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}
}

// SetConfig swaps the impairment block during a hot update. The PRNG and
// burst state carry over; the shaping-cap clock resets so a lowered cap
// does not inherit a stale backlog.
func (s *Shaper) SetConfig(cfg Impairments) {
	s.cfg = cfg
	s.capBusyUntil = time.Time{}
}

// Config returns the active impairment block.
func (s *Shaper) Config() Impairments {
	return s.cfg
}

// MaxDelay returns the worst-case residence time of a frame in the
// shaper, used to bound the drain grace on disable.
func (s *Shaper) MaxDelay() time.Duration {
	d := s.cfg.Latency() + s.cfg.Jitter()
	if s.cfg.ReorderPercent > 0 {
		d += s.cfg.Latency() + 2*s.cfg.Jitter()
	}

	return d
}

// Shape decides the fate of one frame produced at tick for the given
// wire size.
func (s *Shaper) Shape(tick time.Time, frameBytes int) Verdict {
	var v Verdict

	// Independent loss.
	if s.pct(s.cfg.LossPercent) {
		v.LossDropped = true
		return v
	}

	// Burst loss: enter bad with the configured probability, drop while
	// bad, leave after a geometric run (mean run meanBurstRun).
	if s.burstBad {
		if s.rng.Float64() < 1.0/meanBurstRun {
			s.burstBad = false
		}
		v.LossDropped = true
		return v
	}
	if s.pct(s.cfg.BurstLossPercent) {
		s.burstBad = true
		v.LossDropped = true
		return v
	}

	delay := s.cfg.Latency() + s.jitterDraw()

	// Reorder: this frame alone draws an extra delay so later frames
	// overtake it.
	if s.pct(s.cfg.ReorderPercent) {
		v.Reordered = true
		extra := s.cfg.Latency() +
			time.Duration(s.rng.Float64()*float64(2*s.cfg.Jitter()))
		delay += extra
	}

	if delay < 0 {
		delay = 0
	}

	due, ok := s.capRelease(tick.Add(delay), frameBytes)
	if !ok {
		v.Overrun = true
		return v
	}

	v.Due[0] = due
	v.Count = 1

	// Duplication: same sequence number, +50us behind the original. The
	// copy charges the shaping cap like any other frame.
	if s.pct(s.cfg.DuplicatePercent) {
		v.Duplicated = true
		dup := due.Add(dupOffset)
		if s.cfg.ShapingCapMbps > 0 {
			s.capBusyUntil = s.capBusyUntil.Add(s.capService(frameBytes))
		}
		v.Due[1] = dup
		v.Count = 2
	}

	return v
}

// pct draws a percentage gate in [0, 100].
func (s *Shaper) pct(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 100 {
		return true
	}

	return s.rng.Float64()*100 < p
}

// jitterDraw samples the symmetric triangular distribution on
// [-jitter, +jitter] as the sum of two uniforms.
func (s *Shaper) jitterDraw() time.Duration {
	j := float64(s.cfg.Jitter())
	if j <= 0 {
		return 0
	}

	u := s.rng.Float64() + s.rng.Float64() - 1

	return time.Duration(u * j)
}

// capService is the transmission time of one frame at the shaping cap.
func (s *Shaper) capService(frameBytes int) time.Duration {
	bits := float64(frameBytes) * 8
	sec := bits / (s.cfg.ShapingCapMbps * 1e6)

	return time.Duration(sec * float64(time.Second))
}

// capRelease runs the frame through the shaping-cap queue. Returns the
// release instant, or ok=false when the queue would exceed its depth and
// the frame is tail-dropped.
func (s *Shaper) capRelease(due time.Time, frameBytes int) (time.Time, bool) {
	if s.cfg.ShapingCapMbps <= 0 {
		return due, true
	}

	service := s.capService(frameBytes)

	if s.capBusyUntil.Before(due) {
		s.capBusyUntil = due
	}

	backlog := s.capBusyUntil.Sub(due)
	if backlog > time.Duration(shaperQueueDepth)*service {
		return time.Time{}, false
	}

	release := s.capBusyUntil
	s.capBusyUntil = release.Add(service)

	return release, true
}
