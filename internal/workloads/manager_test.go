package workloads_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dantte-lp/gotgen/internal/workloads"
)

// fakeWorkload blocks until cancelled, optionally failing immediately.
type fakeWorkload struct {
	name    string
	failErr error
	started chan struct{}
}

func newFakeWorkload(name string) *fakeWorkload {
	return &fakeWorkload{name: name, started: make(chan struct{}, 8)}
}

func (f *fakeWorkload) Name() string { return f.name }

func (f *fakeWorkload) Run(ctx context.Context) error {
	f.started <- struct{}{}

	if f.failErr != nil {
		return f.failErr
	}

	<-ctx.Done()

	return ctx.Err()
}

func testManager(t *testing.T) (*workloads.Manager, *fakeWorkload) {
	t.Helper()

	m := workloads.NewManager(slog.New(slog.DiscardHandler))
	wl := newFakeWorkload("netflow")
	m.Register(wl)
	t.Cleanup(m.StopAll)

	return m, wl
}

func TestManagerStartStop(t *testing.T) {
	t.Parallel()

	m, wl := testManager(t)

	if err := m.Start(context.Background(), "netflow"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-wl.started:
	case <-time.After(time.Second):
		t.Fatal("workload never ran")
	}

	st := m.StatusAll()["netflow"]
	if !st.Running {
		t.Error("status not running after start")
	}
	if st.StartedAt.IsZero() {
		t.Error("StartedAt not stamped")
	}

	if err := m.Stop("netflow"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if st := m.StatusAll()["netflow"]; st.Running {
		t.Error("status still running after stop")
	}
}

func TestManagerStartUnknown(t *testing.T) {
	t.Parallel()

	m, _ := testManager(t)

	if err := m.Start(context.Background(), "snmp"); !errors.Is(err, workloads.ErrNotAvailable) {
		t.Errorf("Start(unknown) = %v, want ErrNotAvailable", err)
	}
	if err := m.Stop("snmp"); !errors.Is(err, workloads.ErrNotAvailable) {
		t.Errorf("Stop(unknown) = %v, want ErrNotAvailable", err)
	}
}

func TestManagerDoubleStart(t *testing.T) {
	t.Parallel()

	m, wl := testManager(t)

	if err := m.Start(context.Background(), "netflow"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-wl.started

	if err := m.Start(context.Background(), "netflow"); !errors.Is(err, workloads.ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestManagerStopIdle(t *testing.T) {
	t.Parallel()

	m, _ := testManager(t)

	if err := m.Stop("netflow"); !errors.Is(err, workloads.ErrNotRunning) {
		t.Errorf("Stop(idle) = %v, want ErrNotRunning", err)
	}
}

func TestManagerRecordsExitError(t *testing.T) {
	t.Parallel()

	m := workloads.NewManager(slog.New(slog.DiscardHandler))
	wl := newFakeWorkload("bgp")
	wl.failErr = errors.New("dial refused")
	m.Register(wl)

	if err := m.Start(context.Background(), "bgp"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		st := m.StatusAll()["bgp"]
		if !st.Running && st.LastError != "" {
			if st.LastError != "dial refused" {
				t.Errorf("LastError = %q", st.LastError)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("exit error never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The failed workload can be started again.
	wl.failErr = nil
	if err := m.Start(context.Background(), "bgp"); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	<-wl.started
	<-wl.started
	m.StopAll()
}

func TestManagerNamesSorted(t *testing.T) {
	t.Parallel()

	m := workloads.NewManager(slog.New(slog.DiscardHandler))
	m.Register(newFakeWorkload("snmp"))
	m.Register(newFakeWorkload("bgp"))
	m.Register(newFakeWorkload("netflow"))

	names := m.Names()
	want := []string{"bgp", "netflow", "snmp"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
