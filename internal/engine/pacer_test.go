package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/dantte-lp/gotgen/internal/engine"
)

func TestRatePPS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mbps      float64
		frameSize int
		want      float64
	}{
		{"100M at 1500", 100, 1500, 100e6 / 8 / 1500},
		{"1G at 64", 1000, 64, 1000e6 / 8 / 64},
		{"paused", 0, 1500, 0},
		{"negative", -5, 1500, 0},
	}

	for _, tt := range tests {
		if got := engine.RatePPS(tt.mbps, tt.frameSize); got != tt.want {
			t.Errorf("%s: RatePPS = %g, want %g", tt.name, got, tt.want)
		}
	}
}

func TestPacerBurstThenSteadyRate(t *testing.T) {
	t.Parallel()

	// 8 Mbps at 1000 bytes = 1000 fps, one token per millisecond.
	p := engine.NewPacer(8, 1000, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// The bucket starts full: the first burst's worth returns without
	// sleeping.
	start := time.Now()
	for range 4 {
		if _, err := p.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("initial burst took %v, want immediate", elapsed)
	}

	// Past the burst, ticks pace out at ~1 ms each.
	start = time.Now()
	for range 20 {
		if _, err := p.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 10*time.Millisecond {
		t.Errorf("20 paced ticks took %v, want >= 10ms", elapsed)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("20 paced ticks took %v, want ~20ms", elapsed)
	}
}

func TestPacerTickTimesMonotonic(t *testing.T) {
	t.Parallel()

	p := engine.NewPacer(80, 1000, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var prev time.Time
	for i := range 50 {
		tick, err := p.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if i > 0 && tick.Before(prev) {
			t.Fatalf("tick %d (%v) before previous (%v)", i, tick, prev)
		}
		prev = tick
	}
}

func TestPacerZeroBandwidthPauses(t *testing.T) {
	t.Parallel()

	p := engine.NewPacer(0, 1500, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := p.Next(ctx); err == nil {
		t.Fatal("Next on paused pacer returned a tick, want context error")
	}
}

func TestPacerUpdateWakesPaused(t *testing.T) {
	t.Parallel()

	p := engine.NewPacer(0, 1500, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan error, 1)
	go func() {
		_, err := p.Next(ctx)
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Update(100, 1500)

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("Next after unpause: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake after rate update")
	}
}

func TestPacerUpdateRebasesRate(t *testing.T) {
	t.Parallel()

	p := engine.NewPacer(8, 1000, 1)

	if got, want := p.Rate(), 1000.0; got != want {
		t.Fatalf("Rate = %g, want %g", got, want)
	}

	p.Update(16, 1000)

	if got, want := p.Rate(), 2000.0; got != want {
		t.Fatalf("Rate after update = %g, want %g", got, want)
	}

	p.Update(0, 1000)

	if got := p.Rate(); got != 0 {
		t.Fatalf("Rate after pause = %g, want 0", got)
	}
}
