package engine_test

import (
	"testing"
	"time"

	"github.com/dantte-lp/gotgen/internal/engine"
)

func shapeN(s *engine.Shaper, n int, frameBytes int) []engine.Verdict {
	base := time.Now()
	out := make([]engine.Verdict, 0, n)
	for i := range n {
		out = append(out, s.Shape(base.Add(time.Duration(i)*time.Millisecond), frameBytes))
	}

	return out
}

func TestShaperPassThrough(t *testing.T) {
	t.Parallel()

	s := engine.NewShaper(engine.Impairments{}, 1)
	base := time.Now()

	for i := range 100 {
		tick := base.Add(time.Duration(i) * time.Millisecond)
		v := s.Shape(tick, 1000)

		if v.Count != 1 || v.LossDropped || v.Duplicated || v.Reordered || v.Overrun {
			t.Fatalf("frame %d: verdict %+v, want clean pass", i, v)
		}
		if !v.Due[0].Equal(tick) {
			t.Fatalf("frame %d: due %v, want tick %v unchanged", i, v.Due[0], tick)
		}
	}
}

func TestShaperFullLoss(t *testing.T) {
	t.Parallel()

	s := engine.NewShaper(engine.Impairments{LossPercent: 100}, 1)

	for _, v := range shapeN(s, 50, 1000) {
		if !v.LossDropped || v.Count != 0 {
			t.Fatalf("verdict %+v, want every frame dropped", v)
		}
	}
}

func TestShaperFullDuplication(t *testing.T) {
	t.Parallel()

	s := engine.NewShaper(engine.Impairments{DuplicatePercent: 100}, 1)

	for _, v := range shapeN(s, 50, 1000) {
		if !v.Duplicated || v.Count != 2 {
			t.Fatalf("verdict %+v, want every frame duplicated", v)
		}
		if got := v.Due[1].Sub(v.Due[0]); got != 50*time.Microsecond {
			t.Fatalf("duplicate offset = %v, want 50us", got)
		}
	}
}

func TestShaperLatencyShiftsDue(t *testing.T) {
	t.Parallel()

	s := engine.NewShaper(engine.Impairments{LatencyMs: 100}, 1)
	tick := time.Now()

	v := s.Shape(tick, 1000)
	if v.Count != 1 {
		t.Fatalf("verdict %+v, want one emission", v)
	}
	if got := v.Due[0].Sub(tick); got != 100*time.Millisecond {
		t.Fatalf("delay = %v, want exactly 100ms with zero jitter", got)
	}
}

func TestShaperJitterBoundedAndNonNegative(t *testing.T) {
	t.Parallel()

	s := engine.NewShaper(engine.Impairments{LatencyMs: 5, JitterMs: 10}, 7)
	tick := time.Now()

	for i := range 500 {
		v := s.Shape(tick, 1000)
		if v.Count != 1 {
			continue
		}

		delay := v.Due[0].Sub(tick)
		if delay < 0 {
			t.Fatalf("frame %d: negative delay %v", i, delay)
		}
		if delay > 15*time.Millisecond {
			t.Fatalf("frame %d: delay %v beyond latency+jitter", i, delay)
		}
	}
}

func TestShaperReorderAddsExtraDelay(t *testing.T) {
	t.Parallel()

	s := engine.NewShaper(engine.Impairments{LatencyMs: 10, ReorderPercent: 100}, 1)
	tick := time.Now()

	v := s.Shape(tick, 1000)
	if !v.Reordered {
		t.Fatal("verdict not marked reordered at 100%")
	}

	// Base latency 10ms plus an extra draw from [latency, latency+2j];
	// with zero jitter the extra is exactly the latency again.
	if got := v.Due[0].Sub(tick); got != 20*time.Millisecond {
		t.Fatalf("reordered delay = %v, want 20ms", got)
	}
}

func TestShaperBurstLossRuns(t *testing.T) {
	t.Parallel()

	// High entry probability forces runs; verify drops cluster rather
	// than alternating independently.
	s := engine.NewShaper(engine.Impairments{BurstLossPercent: 20}, 42)

	verdicts := shapeN(s, 2000, 1000)

	dropped := 0
	longestRun := 0
	run := 0
	for _, v := range verdicts {
		if v.LossDropped {
			dropped++
			run++
			if run > longestRun {
				longestRun = run
			}
		} else {
			run = 0
		}
	}

	if dropped == 0 {
		t.Fatal("burst loss dropped nothing")
	}
	if longestRun < 2 {
		t.Errorf("longest drop run = %d, want clustered drops", longestRun)
	}
	if dropped == len(verdicts) {
		t.Error("burst loss dropped everything")
	}
}

func TestShaperShapingCapSerializes(t *testing.T) {
	t.Parallel()

	// 8 Mbps cap, 1000-byte frames: 1 ms service time. Offer 10 frames
	// at the same instant; releases must space out 1 ms apart.
	s := engine.NewShaper(engine.Impairments{ShapingCapMbps: 8}, 1)
	tick := time.Now()

	var prev time.Time
	for i := range 10 {
		v := s.Shape(tick, 1000)
		if v.Count != 1 {
			t.Fatalf("frame %d: verdict %+v, want pass", i, v)
		}
		if i > 0 {
			gap := v.Due[0].Sub(prev)
			if gap < 900*time.Microsecond || gap > 1100*time.Microsecond {
				t.Fatalf("frame %d: release gap %v, want ~1ms", i, gap)
			}
		}
		prev = v.Due[0]
	}
}

func TestShaperCapOverrunTailDrops(t *testing.T) {
	t.Parallel()

	s := engine.NewShaper(engine.Impairments{ShapingCapMbps: 8}, 1)
	tick := time.Now()

	overruns := 0
	for range 1000 {
		v := s.Shape(tick, 1000)
		if v.Overrun {
			overruns++
			if v.Count != 0 {
				t.Fatal("overrun verdict still scheduled an emission")
			}
		}
	}

	if overruns == 0 {
		t.Fatal("saturating the cap queue produced no overruns")
	}
}

func TestShaperReproducibleWithSameSeed(t *testing.T) {
	t.Parallel()

	cfg := engine.Impairments{LossPercent: 30, JitterMs: 5, DuplicatePercent: 10}

	a := engine.NewShaper(cfg, 99)
	b := engine.NewShaper(cfg, 99)

	base := time.Now()
	for i := range 500 {
		tick := base.Add(time.Duration(i) * time.Millisecond)
		va, vb := a.Shape(tick, 1000), b.Shape(tick, 1000)

		if va != vb {
			t.Fatalf("frame %d: verdicts diverge with identical seeds: %+v vs %+v", i, va, vb)
		}
	}
}

func TestShaperMaxDelay(t *testing.T) {
	t.Parallel()

	s := engine.NewShaper(engine.Impairments{LatencyMs: 200, JitterMs: 50}, 1)
	if got, want := s.MaxDelay(), 250*time.Millisecond; got != want {
		t.Errorf("MaxDelay = %v, want %v", got, want)
	}

	s.SetConfig(engine.Impairments{LatencyMs: 200, JitterMs: 50, ReorderPercent: 1})
	if got, want := s.MaxDelay(), 550*time.Millisecond; got != want {
		t.Errorf("MaxDelay with reorder = %v, want %v", got, want)
	}
}
