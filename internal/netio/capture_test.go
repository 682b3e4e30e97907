package netio_test

import (
	"context"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gotgen/internal/frame"
	"github.com/dantte-lp/gotgen/internal/netio"
)

func TestCaptureCountsMatchingFrames(t *testing.T) {
	t.Parallel()

	spec := &frame.Spec{
		ProfileID: frame.ProfileID("bench"),
		Protocol:  frame.ProtoIPv4,
		SrcMAC:    [6]byte{0x02, 0, 0, 0, 0, 1},
		DstMAC:    [6]byte{0x02, 0, 0, 0, 0, 2},
		SrcIP:     netip.MustParseAddr("10.0.0.1"),
		DstIP:     netip.MustParseAddr("10.0.0.2"),
		FrameSize: 128,
	}

	otherSpec := *spec
	otherSpec.ProfileID = frame.ProfileID("other")

	conn := newMockConn()
	clock := func() time.Duration { return 5 * time.Millisecond }

	cap := netio.NewCapture(conn, spec.ProfileID, clock, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cap.Run(ctx)
	}()

	// Two matching frames emitted at t=1ms, one foreign frame.
	for seq := range uint32(2) {
		b, err := frame.Build(spec, seq, time.Millisecond)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		conn.readCh <- b
	}
	foreign, err := frame.Build(&otherSpec, 0, time.Millisecond)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	conn.readCh <- foreign

	waitFor(t, time.Second, func() bool {
		frames, _ := cap.Counts()
		return frames == 2
	})

	frames, bytesTotal := cap.Counts()
	if frames != 2 {
		t.Errorf("frames = %d, want 2", frames)
	}
	if bytesTotal != 256 {
		t.Errorf("bytes = %d, want 256", bytesTotal)
	}

	// Latency: emitted at 1 ms, observed at 5 ms.
	minLat, meanLat, maxLat, samples := cap.Latency()
	if samples != 2 {
		t.Fatalf("latency samples = %d, want 2", samples)
	}
	if minLat != 4*time.Millisecond || maxLat != 4*time.Millisecond || meanLat != 4*time.Millisecond {
		t.Errorf("latency = %v/%v/%v, want 4ms across the board", minLat, meanLat, maxLat)
	}

	cap.Reset()
	if frames, _ := cap.Counts(); frames != 0 {
		t.Errorf("frames after reset = %d, want 0", frames)
	}

	cancel()
	<-done
}
