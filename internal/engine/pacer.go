package engine

import (
	"context"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Rate Pacer — continuous-time token bucket
// -------------------------------------------------------------------------

// DefaultBurstDepth is the token bucket depth in frames.
const DefaultBurstDepth = 64

// RatePPS converts an offered bandwidth and frame size to frames per
// second. Zero bandwidth maps to zero (paused).
func RatePPS(bandwidthMbps float64, frameSize int) float64 {
	if bandwidthMbps <= 0 || frameSize <= 0 {
		return 0
	}

	return bandwidthMbps * 1e6 / (8 * float64(frameSize))
}

// Pacer produces emission ticks at the average rate required to realize
// the configured bandwidth with the configured frame size.
//
// The bucket refills in continuous time. Next returns the instant the
// consumed token became available rather than the current wall clock, so
// a briefly stalled downstream does not lose offered load: the following
// frames carry earlier tick times and catch up (bounded by the burst
// depth).
type Pacer struct {
	mu         sync.Mutex
	ratePPS    float64
	burst      float64
	tokens     float64
	lastRefill time.Time
	lastTick   time.Time

	// wake nudges a parked Next when Update raises the rate.
	wake chan struct{}
}

// NewPacer creates a pacer for the given bandwidth and frame size.
// burst <= 0 selects DefaultBurstDepth. The bucket starts full so the
// first frames go out immediately.
func NewPacer(bandwidthMbps float64, frameSize, burst int) *Pacer {
	if burst <= 0 {
		burst = DefaultBurstDepth
	}

	now := time.Now()

	return &Pacer{
		ratePPS:    RatePPS(bandwidthMbps, frameSize),
		burst:      float64(burst),
		tokens:     float64(burst),
		lastRefill: now,
		lastTick:   now,
		wake:       make(chan struct{}, 1),
	}
}

// Update rebases the refill rate for a new bandwidth or frame size. The
// current token count is deliberately untouched: rate decreases do not
// burst and rate increases do not starve.
func (p *Pacer) Update(bandwidthMbps float64, frameSize int) {
	p.mu.Lock()
	p.refillLocked(time.Now())
	p.ratePPS = RatePPS(bandwidthMbps, frameSize)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Rate returns the current tick rate in frames per second.
func (p *Pacer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ratePPS
}

// Next blocks until a token is available and returns its availability
// instant. With zero bandwidth it parks until the rate changes or ctx is
// cancelled.
func (p *Pacer) Next(ctx context.Context) (time.Time, error) {
	for {
		tick, wait, ok := p.take()
		if ok {
			return tick, nil
		}

		if wait <= 0 {
			// Paused: wait for a rate change.
			select {
			case <-ctx.Done():
				return time.Time{}, ctx.Err()
			case <-p.wake:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, ctx.Err()
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// take attempts to consume one token. Returns the tick time on success;
// otherwise the wait until the next token (zero when paused).
func (p *Pacer) take() (time.Time, time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.refillLocked(now)

	if p.ratePPS <= 0 {
		return time.Time{}, 0, false
	}

	if p.tokens >= 1 {
		// The token we consume became available when the level crossed
		// its current count, (tokens-1)/rate ago. Clamped monotonic so
		// tick times never run backwards across an Update.
		tick := now.Add(-time.Duration((p.tokens - 1) / p.ratePPS * float64(time.Second)))
		if tick.Before(p.lastTick) {
			tick = p.lastTick
		}
		p.lastTick = tick
		p.tokens--

		return tick, 0, true
	}

	wait := time.Duration((1 - p.tokens) / p.ratePPS * float64(time.Second))
	if wait <= 0 {
		wait = time.Microsecond
	}

	return time.Time{}, wait, false
}

// refillLocked accrues tokens since the last refill, capped at the burst
// depth. Callers hold p.mu.
func (p *Pacer) refillLocked(now time.Time) {
	dt := now.Sub(p.lastRefill).Seconds()
	if dt <= 0 {
		return
	}

	p.lastRefill = now

	if p.ratePPS <= 0 {
		return
	}

	p.tokens += p.ratePPS * dt
	if p.tokens > p.burst {
		p.tokens = p.burst
	}
}
