package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/gotgen/internal/netio"
)

// -------------------------------------------------------------------------
// Live Counters
// -------------------------------------------------------------------------

// liveCounters are the per-profile monotonic counters, written lock-free
// by the runner goroutine and read lock-free into snapshots.
type liveCounters struct {
	frames         atomic.Uint64
	bytes          atomic.Uint64
	lossDrops      atomic.Uint64
	dupEmits       atomic.Uint64
	reorderEvents  atomic.Uint64
	shaperOverruns atomic.Uint64
	lastSend       atomic.Int64
}

func (c *liveCounters) snapshot() ProfileCounters {
	snap := ProfileCounters{
		FramesSent:     c.frames.Load(),
		BytesSent:      c.bytes.Load(),
		LossDrops:      c.lossDrops.Load(),
		DupEmits:       c.dupEmits.Load(),
		ReorderEvents:  c.reorderEvents.Load(),
		ShaperOverruns: c.shaperOverruns.Load(),
	}

	if ns := c.lastSend.Load(); ns != 0 {
		snap.LastSend = time.Unix(0, ns)
	}

	return snap
}

func (c *liveCounters) reset() {
	c.frames.Store(0)
	c.bytes.Store(0)
	c.lossDrops.Store(0)
	c.dupEmits.Store(0)
	c.reorderEvents.Store(0)
	c.shaperOverruns.Store(0)
	c.lastSend.Store(0)
}

// -------------------------------------------------------------------------
// Profile Entry
// -------------------------------------------------------------------------

// entry is one registered profile plus its runtime state. The descriptor
// is guarded by the registry mutex; state, cause and counters are atomic
// so the runner and snapshot readers never take the lock.
type entry struct {
	profile *Profile

	state    atomic.Uint32
	cause    atomic.Pointer[string]
	counters liveCounters

	runner *Runner
}

func (e *entry) State() State {
	return State(e.state.Load())
}

func (e *entry) setState(s State) {
	e.state.Store(uint32(s))
}

func (e *entry) Cause() string {
	if p := e.cause.Load(); p != nil {
		return *p
	}

	return ""
}

func (e *entry) setCause(cause string) {
	e.cause.Store(&cause)
}

// ProfileView is the wire representation of a profile for list/get
// responses: descriptor plus runtime state and counters.
type ProfileView struct {
	Profile

	State    string          `json:"state"`
	Cause    string          `json:"cause,omitempty"`
	Counters ProfileCounters `json:"counters"`
}

// -------------------------------------------------------------------------
// Registry
// -------------------------------------------------------------------------

// Registry is the single source of truth for port and profile
// descriptors and for live counter snapshots. All mutations serialize on
// one mutex; reads return copies so callers never observe a partial
// update.
type Registry struct {
	mu       sync.Mutex
	ports    map[string]*Port
	profiles map[string]*entry
	log      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		ports:    make(map[string]*Port),
		profiles: make(map[string]*entry),
		log:      logger.With(slog.String("component", "registry")),
	}
}

// AddPort publishes an enumerated port. Later adds with the same name
// replace the inventory but keep the existing transmitter and cache.
func (r *Registry) AddPort(p *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.ports[p.Info.Name]; ok {
		prev.Info = p.Info
		return
	}

	r.ports[p.Info.Name] = p
	r.log.Debug("port registered",
		slog.String("port", p.Info.Name),
		slog.Int("mtu", p.Info.MTU),
		slog.Bool("sendable", p.Sendable()))
}

// Port resolves a port by name.
func (r *Registry) Port(name string) (*Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.ports[name]
	if !ok {
		return nil, fmt.Errorf("port %q: %w", name, ErrPortNotFound)
	}

	return p, nil
}

// Ports returns all ports sorted by name.
func (r *Registry) Ports() []*Port {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Port, 0, len(r.ports))
	for _, p := range r.ports {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.Name < out[j].Info.Name })

	return out
}

// PortViews returns wire views of all ports sorted by name.
func (r *Registry) PortViews() []PortView {
	ports := r.Ports()

	views := make([]PortView, 0, len(ports))
	for _, p := range ports {
		views = append(views, p.View())
	}

	return views
}

// CreateProfile validates and inserts a new descriptor in the idle
// state. Returns clamp warnings from normalization.
func (r *Registry) CreateProfile(p *Profile) ([]string, error) {
	warnings, err := p.Normalize()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[p.Name]; ok {
		return nil, fmt.Errorf("profile %q: %w", p.Name, ErrDuplicateProfile)
	}

	if _, ok := r.ports[p.SrcPort]; !ok {
		return nil, fmt.Errorf("profile %q: source port %q: %w", p.Name, p.SrcPort, ErrPortNotFound)
	}
	if _, ok := r.ports[p.DstPort]; !ok {
		return nil, fmt.Errorf("profile %q: destination port %q: %w", p.Name, p.DstPort, ErrPortNotFound)
	}

	e := &entry{profile: p.Clone()}
	e.setState(StateIdle)
	r.profiles[p.Name] = e

	r.log.Info("profile created",
		slog.String("profile", p.Name),
		slog.String("protocol", p.ProtocolName),
		slog.Float64("bandwidth_mbps", p.BandwidthMbps))

	return warnings, nil
}

// hotUpdatable reports whether two descriptors differ only in the fields
// a running profile may change: bandwidth, frame size, impairments.
func hotUpdatable(cur, next *Profile) bool {
	a, b := *cur, *next
	a.BandwidthMbps, b.BandwidthMbps = 0, 0
	a.FrameSize, b.FrameSize = 0, 0
	a.Impairments, b.Impairments = Impairments{}, Impairments{}
	a.Enabled, b.Enabled = false, false

	return a == b
}

// UpdateProfile replaces the descriptor. While the profile is active,
// changes outside bandwidth / frame size / impairments are rejected with
// ErrImmutableWhileRunning. Returns the stored clone and whether a hot
// update must be pushed to a live runner.
func (r *Registry) UpdateProfile(next *Profile) (*Profile, bool, error) {
	warnings, err := next.Normalize()
	if err != nil {
		return nil, false, err
	}
	for _, w := range warnings {
		r.log.Warn("profile update clamped", slog.String("detail", w))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.profiles[next.Name]
	if !ok {
		return nil, false, fmt.Errorf("profile %q: %w", next.Name, ErrProfileNotFound)
	}

	active := !e.State().Removable()
	if active && !hotUpdatable(e.profile, next) {
		return nil, false, fmt.Errorf("profile %q: %w", next.Name, ErrImmutableWhileRunning)
	}

	if _, ok := r.ports[next.SrcPort]; !ok {
		return nil, false, fmt.Errorf("profile %q: source port %q: %w", next.Name, next.SrcPort, ErrPortNotFound)
	}
	if _, ok := r.ports[next.DstPort]; !ok {
		return nil, false, fmt.Errorf("profile %q: destination port %q: %w", next.Name, next.DstPort, ErrPortNotFound)
	}

	next.Enabled = e.profile.Enabled
	e.profile = next.Clone()

	return e.profile.Clone(), active, nil
}

// DeleteProfile removes a descriptor. The profile must be in a removable
// state; the control adapter disables it first when needed.
func (r *Registry) DeleteProfile(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.profiles[name]
	if !ok {
		return fmt.Errorf("profile %q: %w", name, ErrProfileNotFound)
	}

	if !e.State().Removable() {
		return fmt.Errorf("profile %q in state %s: %w", name, e.State(), ErrImmutableWhileRunning)
	}

	delete(r.profiles, name)
	r.log.Info("profile deleted", slog.String("profile", name))

	return nil
}

// GetProfile returns a clone of the descriptor and its runtime state.
func (r *Registry) GetProfile(name string) (*Profile, State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.profiles[name]
	if !ok {
		return nil, StateIdle, fmt.Errorf("profile %q: %w", name, ErrProfileNotFound)
	}

	return e.profile.Clone(), e.State(), nil
}

// ProfileViews returns wire views of all profiles sorted by name.
func (r *Registry) ProfileViews() []ProfileView {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]ProfileView, 0, len(r.profiles))
	for _, e := range r.profiles {
		views = append(views, ProfileView{
			Profile:  *e.profile.Clone(),
			State:    e.State().String(),
			Cause:    e.Cause(),
			Counters: e.counters.snapshot(),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })

	return views
}

// ProfileNames returns all profile names sorted.
func (r *Registry) ProfileNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// lookup returns the live entry; same-package callers only.
func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q: %w", name, ErrProfileNotFound)
	}

	return e, nil
}

// setEnabled records the desired state on the descriptor for
// persistence.
func (r *Registry) setEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.profiles[name]; ok {
		e.profile.Enabled = enabled
	}
}

// -------------------------------------------------------------------------
// Stats Snapshots
// -------------------------------------------------------------------------

// StatsSnapshot is a consistent point-in-time copy of every counter,
// stamped once.
type StatsSnapshot struct {
	Timestamp time.Time                   `json:"timestamp"`
	Ports     map[string]netio.TXCounters `json:"ports"`
	Profiles  map[string]ProfileCounters  `json:"profiles"`
}

// SnapshotStats reads all port and profile counters lock-free under a
// single timestamp.
func (r *Registry) SnapshotStats() StatsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := StatsSnapshot{
		Timestamp: time.Now(),
		Ports:     make(map[string]netio.TXCounters, len(r.ports)),
		Profiles:  make(map[string]ProfileCounters, len(r.profiles)),
	}

	for name, p := range r.ports {
		snap.Ports[name] = p.Counters()
	}
	for name, e := range r.profiles {
		snap.Profiles[name] = e.counters.snapshot()
	}

	return snap
}

// ResetStats zeroes all port and profile counters.
func (r *Registry) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.ports {
		if tx := p.Transmitter(); tx != nil {
			tx.ResetCounters()
		}
	}
	for _, e := range r.profiles {
		e.counters.reset()
	}

	r.log.Info("counters reset")
}

// Descriptors returns clones of every profile descriptor for
// persistence, sorted by name.
func (r *Registry) Descriptors() []*Profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Profile, 0, len(r.profiles))
	for _, e := range r.profiles {
		out = append(out, e.profile.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
