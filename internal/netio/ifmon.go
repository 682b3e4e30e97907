package netio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jsimonetti/rtnetlink/v2"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Interface Monitor — link state change detection
// -------------------------------------------------------------------------

// InterfaceEvent represents a network interface state change.
// Transmitters use these to flush their queues on link loss instead of
// discovering it one failed write at a time.
type InterfaceEvent struct {
	// IfName is the network interface name (e.g. "eth1").
	IfName string

	// IfIndex is the kernel interface index.
	IfIndex int

	// Up indicates whether the interface transitioned to Up (true) or
	// Down (false). Maps to IFF_UP | IFF_RUNNING.
	Up bool
}

// InterfaceMonitor watches for interface state changes and emits events
// when links go up or down.
type InterfaceMonitor interface {
	// Run starts monitoring. It blocks until ctx is cancelled; detected
	// events are sent to the channel returned by Events. Run must be
	// called at most once.
	Run(ctx context.Context) error

	// Events returns the read-only event channel. It is closed when Run
	// returns.
	Events() <-chan InterfaceEvent

	// Close releases monitor resources. Cancel the Run context first.
	Close() error
}

// -------------------------------------------------------------------------
// NetlinkMonitor — RTNLGRP_LINK subscriber
// -------------------------------------------------------------------------

// NetlinkMonitor implements InterfaceMonitor by subscribing to the
// rtnetlink RTNLGRP_LINK multicast group and translating RTM_NEWLINK
// messages into InterfaceEvents.
type NetlinkMonitor struct {
	conn   *rtnetlink.Conn
	events chan InterfaceEvent
	logger *slog.Logger

	// lastUp deduplicates events: the kernel re-announces link attributes
	// for changes we do not care about (MTU, qdisc).
	lastUp map[int]bool
}

// NewNetlinkMonitor opens a netlink socket joined to the link group.
func NewNetlinkMonitor(logger *slog.Logger) (*NetlinkMonitor, error) {
	conn, err := rtnetlink.Dial(&netlink.Config{
		Groups: unix.RTMGRP_LINK,
	})
	if err != nil {
		return nil, fmt.Errorf("dial rtnetlink link group: %w", err)
	}

	return &NetlinkMonitor{
		conn:   conn,
		events: make(chan InterfaceEvent, 16),
		logger: logger.With(slog.String("component", "ifmon")),
		lastUp: make(map[int]bool),
	}, nil
}

// Run receives link messages until ctx is cancelled. The netlink socket
// has no context support, so cancellation closes the socket out from
// under the blocked Receive.
func (m *NetlinkMonitor) Run(ctx context.Context) error {
	defer close(m.events)

	stop := context.AfterFunc(ctx, func() {
		_ = m.conn.Close()
	})
	defer stop()

	m.logger.Info("interface monitor started")

	for {
		msgs, _, err := m.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				m.logger.Info("interface monitor stopped")
				return nil
			}

			return fmt.Errorf("receive link messages: %w", err)
		}

		for _, msg := range msgs {
			link, ok := msg.(*rtnetlink.LinkMessage)
			if !ok || link.Attributes == nil {
				continue
			}

			m.emit(ctx, link)
		}
	}
}

// emit translates one RTM_NEWLINK into at most one event, dropping
// duplicates and attribute-only updates.
func (m *NetlinkMonitor) emit(ctx context.Context, link *rtnetlink.LinkMessage) {
	idx := int(link.Index)
	up := link.Flags&unix.IFF_UP != 0 && link.Flags&unix.IFF_RUNNING != 0

	if prev, seen := m.lastUp[idx]; seen && prev == up {
		return
	}
	m.lastUp[idx] = up

	ev := InterfaceEvent{
		IfName:  link.Attributes.Name,
		IfIndex: idx,
		Up:      up,
	}

	m.logger.Info("link state change",
		slog.String("interface", ev.IfName),
		slog.Bool("up", up),
	)

	select {
	case m.events <- ev:
	case <-ctx.Done():
	default:
		// Slow consumer: drop the event; the next flap re-announces.
	}
}

// Events returns the event channel.
func (m *NetlinkMonitor) Events() <-chan InterfaceEvent {
	return m.events
}

// Close releases the netlink socket.
func (m *NetlinkMonitor) Close() error {
	if err := m.conn.Close(); err != nil {
		return fmt.Errorf("close rtnetlink conn: %w", err)
	}

	return nil
}

// -------------------------------------------------------------------------
// StubInterfaceMonitor — no-op implementation
// -------------------------------------------------------------------------

// StubInterfaceMonitor never emits events. Used in tests and on hosts
// where the netlink socket cannot be opened (unprivileged runs).
type StubInterfaceMonitor struct {
	events chan InterfaceEvent
	logger *slog.Logger
}

// NewStubInterfaceMonitor creates a no-op interface monitor.
func NewStubInterfaceMonitor(logger *slog.Logger) *StubInterfaceMonitor {
	return &StubInterfaceMonitor{
		events: make(chan InterfaceEvent, 16),
		logger: logger.With(slog.String("component", "ifmon.stub")),
	}
}

// Run blocks until ctx is cancelled, then closes the event channel.
func (m *StubInterfaceMonitor) Run(ctx context.Context) error {
	m.logger.Info("stub interface monitor started (no-op)")
	<-ctx.Done()
	close(m.events)

	return nil
}

// Events returns the (always empty) event channel.
func (m *StubInterfaceMonitor) Events() <-chan InterfaceEvent {
	return m.events
}

// Close is a no-op for the stub monitor.
func (m *StubInterfaceMonitor) Close() error {
	return nil
}
