// Package workloads hosts the optional auxiliary traffic generators:
// NetFlow/IPFIX export, an SNMP trap farm and BGP route injection. Each
// workload is a capability declared at startup; endpoints for absent
// capabilities do not exist.
package workloads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrNotAvailable indicates the named workload was not built into
	// this daemon's capability set.
	ErrNotAvailable = errors.New("workload not available")

	// ErrAlreadyRunning indicates a start on a running workload.
	ErrAlreadyRunning = errors.New("workload already running")

	// ErrNotRunning indicates a stop on a stopped workload.
	ErrNotRunning = errors.New("workload not running")
)

// -------------------------------------------------------------------------
// Workload Interface
// -------------------------------------------------------------------------

// Workload is one auxiliary generator. Run blocks until ctx is
// cancelled; the returned error is recorded as the workload's last
// error.
type Workload interface {
	Name() string
	Run(ctx context.Context) error
}

// Status is the externally visible state of one registered workload.
type Status struct {
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// -------------------------------------------------------------------------
// Manager
// -------------------------------------------------------------------------

// unit is one registered workload plus its lifecycle handles.
type unit struct {
	wl        Workload
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastErr   string
}

func (u *unit) running() bool {
	if u.done == nil {
		return false
	}
	select {
	case <-u.done:
		return false
	default:
		return true
	}
}

// Manager owns the registered workloads and serializes their
// start/stop lifecycle.
type Manager struct {
	log *slog.Logger

	mu    sync.Mutex
	units map[string]*unit
}

// NewManager creates an empty manager; capabilities are added with
// Register before the control surface starts.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		log:   logger.With(slog.String("component", "workloads")),
		units: make(map[string]*unit),
	}
}

// Register declares a workload capability. Call before serving.
func (m *Manager) Register(wl Workload) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.units[wl.Name()] = &unit{wl: wl}
	m.log.Info("workload registered", slog.String("workload", wl.Name()))
}

// Names returns the registered capability names, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.units))
	for name := range m.units {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Start launches the named workload. ctx parents the workload's run;
// cancelling it stops the workload.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.units[name]
	if !ok {
		return fmt.Errorf("workload %q: %w", name, ErrNotAvailable)
	}
	if u.running() {
		return fmt.Errorf("workload %q: %w", name, ErrAlreadyRunning)
	}

	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	u.done = make(chan struct{})
	u.startedAt = time.Now()
	u.lastErr = ""

	go func(u *unit) {
		defer close(u.done)

		if err := u.wl.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.mu.Lock()
			u.lastErr = err.Error()
			m.mu.Unlock()

			m.log.Error("workload exited",
				slog.String("workload", name), slog.Any("error", err))
		}
	}(u)

	m.log.Info("workload started", slog.String("workload", name))

	return nil
}

// Stop cancels the named workload and waits for its run to return.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()

	u, ok := m.units[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("workload %q: %w", name, ErrNotAvailable)
	}
	if !u.running() {
		m.mu.Unlock()
		return fmt.Errorf("workload %q: %w", name, ErrNotRunning)
	}

	cancel, done := u.cancel, u.done
	m.mu.Unlock()

	cancel()
	<-done

	m.log.Info("workload stopped", slog.String("workload", name))

	return nil
}

// StatusAll reports every registered workload.
func (m *Manager) StatusAll() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Status, len(m.units))
	for name, u := range m.units {
		st := Status{Running: u.running(), LastError: u.lastErr}
		if st.Running {
			st.StartedAt = u.startedAt
		}
		out[name] = st
	}

	return out
}

// StopAll cancels every running workload; used on daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	var waits []chan struct{}
	for _, u := range m.units {
		if u.running() {
			u.cancel()
			waits = append(waits, u.done)
		}
	}
	m.mu.Unlock()

	for _, done := range waits {
		<-done
	}
}
