package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Control Adapter
// -------------------------------------------------------------------------

// ErrTimeout indicates a control command exceeded its deadline.
var ErrTimeout = errors.New("command deadline exceeded")

// commandDeadline bounds every control command.
const commandDeadline = 5 * time.Second

// ProfileStore persists descriptors after successful mutations.
type ProfileStore interface {
	SaveProfiles([]*Profile) error
}

// NeighborScanner refreshes neighbor caches on demand; implemented by
// the discovery prober.
type NeighborScanner interface {
	Scan(ctx context.Context, ports []string) error
}

// Core is the one point where external requests cross into the engine.
// Every command validates its arguments, translates into a registry
// mutation and/or runner lifecycle event, and returns a structured
// result. Lifecycle commands serialize on one mutex so at most one
// mutation is in flight.
type Core struct {
	reg   *Registry
	store ProfileStore
	scan  NeighborScanner
	log   *slog.Logger

	// ctx parents all runner goroutines; cancelled on daemon shutdown.
	ctx context.Context

	mu sync.Mutex
}

// NewCore wires the adapter. store and scanner may be nil (no
// persistence / no prober); commands degrade accordingly.
func NewCore(ctx context.Context, reg *Registry, store ProfileStore, scan NeighborScanner, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}

	return &Core{
		reg:   reg,
		store: store,
		scan:  scan,
		log:   logger.With(slog.String("component", "core")),
		ctx:   ctx,
	}
}

// Registry exposes the backing registry for read-only snapshot paths.
func (c *Core) Registry() *Registry {
	return c.reg
}

// withDeadline applies the command deadline when the caller's context
// does not already carry a sooner one.
func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, commandDeadline)
}

// persist rewrites the profile store after a successful mutation.
// Persistence failures are operational, not a reason to roll the
// in-memory mutation back; they are logged and surfaced to the caller.
func (c *Core) persist() error {
	if c.store == nil {
		return nil
	}

	if err := c.store.SaveProfiles(c.reg.Descriptors()); err != nil {
		c.log.Error("persist failed", slog.Any("error", err))
		return fmt.Errorf("persist profiles: %w", err)
	}

	return nil
}

// ListPorts returns port snapshots.
func (c *Core) ListPorts() []PortView {
	return c.reg.PortViews()
}

// ListProfiles returns profile snapshots.
func (c *Core) ListProfiles() []ProfileView {
	return c.reg.ProfileViews()
}

// CreateProfile validates and registers a new descriptor. Returns clamp
// warnings. A persistence failure rolls the insert back so the store and
// registry never diverge on create.
func (c *Core) CreateProfile(ctx context.Context, prof *Profile) ([]string, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, ErrTimeout
	}

	warnings, err := c.reg.CreateProfile(prof)
	if err != nil {
		return nil, err
	}

	if err := c.persist(); err != nil {
		_ = c.reg.DeleteProfile(prof.Name)
		return nil, err
	}

	return warnings, nil
}

// UpdateProfile applies a full descriptor. Running profiles accept only
// bandwidth, frame size and impairment changes, pushed live into the
// runner.
func (c *Core) UpdateProfile(ctx context.Context, next *Profile) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ErrTimeout
	}

	prev, _, err := c.reg.GetProfile(next.Name)
	if err != nil {
		return err
	}

	stored, active, err := c.reg.UpdateProfile(next)
	if err != nil {
		return err
	}

	if active {
		if err := c.hotUpdate(stored); err != nil {
			_, _, _ = c.reg.UpdateProfile(prev)
			return err
		}
	}

	if err := c.persist(); err != nil {
		_, _, _ = c.reg.UpdateProfile(prev)
		return err
	}

	return nil
}

// hotUpdate drives the updating round-trip on a live runner.
func (c *Core) hotUpdate(prof *Profile) error {
	e, err := c.reg.lookup(prof.Name)
	if err != nil {
		return err
	}

	res := ApplyEvent(e.State(), EventUpdate)
	if !res.Changed || e.runner == nil {
		// Not running anymore (raced with a failure); the descriptor
		// update alone suffices.
		return nil
	}

	e.setState(res.NewState)
	e.runner.pushUpdate(prof)
	e.setState(ApplyEvent(e.State(), EventUpdated).NewState)

	return nil
}

// DeleteProfile disables the profile if needed, then removes it.
func (c *Core) DeleteProfile(ctx context.Context, name string) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.reg.lookup(name)
	if err != nil {
		return err
	}

	if !e.State().Removable() {
		if err := c.disableLocked(ctx, name); err != nil {
			return err
		}
	}

	if err := c.reg.DeleteProfile(name); err != nil {
		return err
	}

	return c.persist()
}

// EnableProfile starts the profile's pipeline.
func (c *Core) EnableProfile(ctx context.Context, name string) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ErrTimeout
	}

	return c.enableLocked(name)
}

func (c *Core) enableLocked(name string) error {
	e, err := c.reg.lookup(name)
	if err != nil {
		return err
	}

	res := ApplyEvent(e.State(), EventEnable)
	if !res.Changed {
		// Already starting/running; enable is idempotent.
		return nil
	}
	e.setState(res.NewState)

	for _, action := range res.Actions {
		if action == ActionResetCounters {
			e.counters.reset()
		}
	}

	r, err := newRunner(c.reg, e, c.log)
	if err != nil {
		failed := ApplyEvent(e.State(), EventStartFailed)
		e.setState(failed.NewState)
		e.setCause(err.Error())
		c.log.Error("enable failed", slog.String("profile", name), slog.Any("error", err))

		return err
	}

	e.runner = r
	r.start(c.ctx)
	e.setState(ApplyEvent(e.State(), EventStarted).NewState)
	e.setCause("")

	c.reg.setEnabled(name, true)
	c.log.Info("profile enabled", slog.String("profile", name))

	return c.persist()
}

// DisableProfile drains and stops the profile's pipeline.
func (c *Core) DisableProfile(ctx context.Context, name string) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.disableLocked(ctx, name)
}

func (c *Core) disableLocked(ctx context.Context, name string) error {
	e, err := c.reg.lookup(name)
	if err != nil {
		return err
	}

	res := ApplyEvent(e.State(), EventDisable)
	if !res.Changed {
		// idle or failed: just record the desired state.
		c.reg.setEnabled(name, false)
		return c.persist()
	}
	e.setState(res.NewState)

	if r := e.runner; r != nil {
		if !r.stop(r.drainGrace()) {
			c.log.Warn("drain grace expired, runner abandoned",
				slog.String("profile", name))
		}
		e.runner = nil
	}

	e.setState(ApplyEvent(e.State(), EventDrained).NewState)
	c.reg.setEnabled(name, false)
	c.log.Info("profile disabled", slog.String("profile", name))

	if err := ctx.Err(); err != nil {
		return ErrTimeout
	}

	return c.persist()
}

// StartAll enables every profile whose desired state is enabled. Errors
// are collected per profile; one failing profile does not stop the rest.
func (c *Core) StartAll(ctx context.Context) map[string]error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	failures := make(map[string]error)

	for _, prof := range c.reg.Descriptors() {
		if !prof.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			failures[prof.Name] = ErrTimeout
			continue
		}
		if err := c.enableLocked(prof.Name); err != nil {
			failures[prof.Name] = err
		}
	}

	return failures
}

// StopAll stops every active profile without touching its enabled mark,
// so a later StartAll restores the same set.
func (c *Core) StopAll(ctx context.Context) map[string]error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	failures := make(map[string]error)

	for _, name := range c.reg.ProfileNames() {
		if err := c.stopLocked(ctx, name); err != nil {
			failures[name] = err
		}
	}

	return failures
}

// stopLocked drains and stops one profile's pipeline. Unlike
// disableLocked it leaves the desired state and the store alone.
func (c *Core) stopLocked(ctx context.Context, name string) error {
	e, err := c.reg.lookup(name)
	if err != nil {
		return err
	}

	res := ApplyEvent(e.State(), EventDisable)
	if !res.Changed {
		return nil
	}
	e.setState(res.NewState)

	if r := e.runner; r != nil {
		if !r.stop(r.drainGrace()) {
			c.log.Warn("drain grace expired, runner abandoned",
				slog.String("profile", name))
		}
		e.runner = nil
	}

	e.setState(ApplyEvent(e.State(), EventDrained).NewState)
	c.log.Info("profile stopped", slog.String("profile", name))

	if err := ctx.Err(); err != nil {
		return ErrTimeout
	}

	return nil
}

// GetStats returns a consistent counter snapshot.
func (c *Core) GetStats() StatsSnapshot {
	return c.reg.SnapshotStats()
}

// ResetStats zeroes all port and profile counters.
func (c *Core) ResetStats() {
	c.reg.ResetStats()
}

// DiscoverNeighbors triggers an on-demand prober refresh for the named
// ports (all ports when empty) and returns the refreshed caches.
func (c *Core) DiscoverNeighbors(ctx context.Context, ports []string) (map[string]*NeighborCache, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	if c.scan != nil {
		if err := c.scan.Scan(ctx, ports); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, err
		}
	}

	want := make(map[string]bool, len(ports))
	for _, p := range ports {
		want[p] = true
	}

	out := make(map[string]*NeighborCache)
	for _, p := range c.reg.Ports() {
		if len(want) > 0 && !want[p.Info.Name] {
			continue
		}
		out[p.Info.Name] = p.Neighbors()
	}

	return out, nil
}

// Shutdown disables all running profiles and waits out their grace
// windows. Called once from the daemon's signal path.
func (c *Core) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range c.reg.ProfileNames() {
		if ctx.Err() != nil {
			return
		}

		e, err := c.reg.lookup(name)
		if err != nil || e.State().Removable() {
			continue
		}

		res := ApplyEvent(e.State(), EventDisable)
		if !res.Changed {
			continue
		}
		e.setState(res.NewState)

		if r := e.runner; r != nil {
			r.stop(r.drainGrace())
			e.runner = nil
		}
		e.setState(ApplyEvent(e.State(), EventDrained).NewState)
	}
}
