package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/gotgen/internal/frame"
	"github.com/dantte-lp/gotgen/internal/netio"
)

// -------------------------------------------------------------------------
// RFC2544 Driver
// -------------------------------------------------------------------------

// ErrBenchRunning indicates a start while a sweep is already in flight
// for the profile.
var ErrBenchRunning = errors.New("benchmark already running for profile")

// ErrBenchNotFound indicates a status query for a profile that never
// ran a sweep.
var ErrBenchNotFound = errors.New("no benchmark results for profile")

// StandardFrameSizes are the RFC 2544 section 9 frame sizes.
//
//nolint:gochecknoglobals // standards constant.
var StandardFrameSizes = []int{64, 128, 256, 512, 1024, 1280, 1518}

const (
	defaultTrialDuration   = 60 * time.Second
	defaultLatencyDuration = 120 * time.Second
	defaultLossThreshold   = 1e-5

	// searchResolutionMbps stops the throughput binary search.
	searchResolutionMbps = 1.0

	// trialSettle lets in-flight frames land before counting.
	trialSettle = 200 * time.Millisecond

	// maxBackToBack bounds the burst length search.
	maxBackToBack = 1 << 16
)

// BenchTest names one RFC 2544 test.
type BenchTest string

const (
	TestThroughput BenchTest = "throughput"
	TestLatency    BenchTest = "latency"
	TestFrameLoss  BenchTest = "frame_loss"
	TestBackToBack BenchTest = "back_to_back"
)

// BenchConfig parameterizes one sweep. Zero values select the RFC
// defaults.
type BenchConfig struct {
	Profile string      `json:"profile"`
	Tests   []BenchTest `json:"tests"`

	// TrialSeconds is the per-step trial duration (default 60).
	TrialSeconds int `json:"trial_seconds,omitempty"`

	// LatencySeconds is the latency stream duration (default 120).
	LatencySeconds int `json:"latency_seconds,omitempty"`

	// LossThreshold is the pass criterion (default 1e-5).
	LossThreshold float64 `json:"loss_threshold,omitempty"`

	// FrameSizes overrides the standard size ladder; empty selects the
	// RFC ladder, a single entry restricts to the profile's size.
	FrameSizes []int `json:"frame_sizes,omitempty"`

	// LowMbps and HighMbps bound the throughput search (defaults 1 and
	// the nominal source port speed).
	LowMbps  float64 `json:"low_mbps,omitempty"`
	HighMbps float64 `json:"high_mbps,omitempty"`
}

func (cfg *BenchConfig) trialDuration() time.Duration {
	if cfg.TrialSeconds > 0 {
		return time.Duration(cfg.TrialSeconds) * time.Second
	}

	return defaultTrialDuration
}

func (cfg *BenchConfig) latencyDuration() time.Duration {
	if cfg.LatencySeconds > 0 {
		return time.Duration(cfg.LatencySeconds) * time.Second
	}

	return defaultLatencyDuration
}

func (cfg *BenchConfig) lossThreshold() float64 {
	if cfg.LossThreshold > 0 {
		return cfg.LossThreshold
	}

	return defaultLossThreshold
}

// TrialResult is one offered-rate trial.
type TrialResult struct {
	FrameSize int     `json:"frame_size"`
	RateMbps  float64 `json:"rate_mbps"`
	Sent      uint64  `json:"sent"`
	Received  uint64  `json:"received"`
	LossRate  float64 `json:"loss_rate"`
	Pass      bool    `json:"pass"`
}

// ThroughputResult is the binary-search outcome for one frame size.
type ThroughputResult struct {
	FrameSize int           `json:"frame_size"`
	RateMbps  float64       `json:"rate_mbps"`
	Trials    []TrialResult `json:"trials"`
}

// LatencyResult is the echoed-stream latency summary.
type LatencyResult struct {
	RateMbps float64 `json:"rate_mbps"`
	MinUs    float64 `json:"min_us"`
	MeanUs   float64 `json:"mean_us"`
	MaxUs    float64 `json:"max_us"`
	Samples  uint64  `json:"samples"`
}

// LossStep is one step of the frame-loss sweep.
type LossStep struct {
	Percent  int     `json:"percent"`
	RateMbps float64 `json:"rate_mbps"`
	LossRate float64 `json:"loss_rate"`
}

// BackToBackResult is the longest zero-loss burst for one frame size.
type BackToBackResult struct {
	FrameSize    int `json:"frame_size"`
	LongestBurst int `json:"longest_burst"`
}

// BenchReport is the full sweep report, readable while running.
type BenchReport struct {
	Profile    string    `json:"profile"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Throughput []ThroughputResult `json:"throughput,omitempty"`
	Latency    *LatencyResult     `json:"latency,omitempty"`
	FrameLoss  []LossStep         `json:"frame_loss,omitempty"`
	BackToBack []BackToBackResult `json:"back_to_back,omitempty"`

	// Failures records steps that missed their target without failing
	// the sweep.
	Failures []string `json:"failures,omitempty"`
}

// ConnOpener opens a raw receive endpoint on the named interface for the
// capture side of a trial. Injectable for tests.
type ConnOpener func(ifname string) (netio.FrameConn, error)

// benchRun is one in-flight or completed sweep.
type benchRun struct {
	mu     sync.Mutex
	report BenchReport
	cancel context.CancelFunc
	done   chan struct{}
}

func (b *benchRun) snapshot() BenchReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	rep := b.report
	rep.Throughput = append([]ThroughputResult(nil), b.report.Throughput...)
	rep.FrameLoss = append([]LossStep(nil), b.report.FrameLoss...)
	rep.BackToBack = append([]BackToBackResult(nil), b.report.BackToBack...)
	rep.Failures = append([]string(nil), b.report.Failures...)
	if b.report.Latency != nil {
		lat := *b.report.Latency
		rep.Latency = &lat
	}

	return rep
}

// Bench owns all RFC 2544 sweeps. One sweep per profile at a time;
// sweeps use transient pacers and a capture socket on the destination
// port and never touch runner pipelines.
type Bench struct {
	reg  *Registry
	open ConnOpener
	log  *slog.Logger

	mu   sync.Mutex
	runs map[string]*benchRun
}

// NewBench wires the driver. open may be nil, in which case a raw
// AF_PACKET socket is opened per sweep.
func NewBench(reg *Registry, open ConnOpener, logger *slog.Logger) *Bench {
	if logger == nil {
		logger = slog.Default()
	}
	if open == nil {
		open = func(ifname string) (netio.FrameConn, error) {
			return netio.OpenPacketSock(netio.PacketSockConfig{Interface: ifname})
		}
	}

	return &Bench{
		reg:  reg,
		open: open,
		log:  logger.With(slog.String("component", "rfc2544")),
		runs: make(map[string]*benchRun),
	}
}

// Start launches a sweep for the profile. Fails when one is already in
// flight or the profile/ports cannot be resolved.
func (b *Bench) Start(ctx context.Context, cfg BenchConfig) error {
	prof, _, err := b.reg.GetProfile(cfg.Profile)
	if err != nil {
		return err
	}

	src, err := b.reg.Port(prof.SrcPort)
	if err != nil {
		return err
	}
	if !src.Sendable() {
		return fmt.Errorf("port %q has no raw endpoint: %w", prof.SrcPort, ErrPortNotFound)
	}
	dst, err := b.reg.Port(prof.DstPort)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if run, ok := b.runs[cfg.Profile]; ok {
		select {
		case <-run.done:
		default:
			return fmt.Errorf("profile %q: %w", cfg.Profile, ErrBenchRunning)
		}
	}

	// The sweep outlives the request that started it. Detach from the
	// caller's cancellation; Cancel is the only way to abort a run.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &benchRun{
		report: BenchReport{
			Profile:   cfg.Profile,
			State:     "running",
			StartedAt: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.runs[cfg.Profile] = run

	go b.sweep(runCtx, run, cfg, prof, src, dst)

	return nil
}

// Status returns a snapshot of the latest sweep for the profile.
func (b *Bench) Status(profile string) (BenchReport, error) {
	b.mu.Lock()
	run, ok := b.runs[profile]
	b.mu.Unlock()

	if !ok {
		return BenchReport{}, fmt.Errorf("profile %q: %w", profile, ErrBenchNotFound)
	}

	return run.snapshot(), nil
}

// Cancel aborts an in-flight sweep at the next step boundary.
func (b *Bench) Cancel(profile string) {
	b.mu.Lock()
	run, ok := b.runs[profile]
	b.mu.Unlock()

	if ok {
		run.cancel()
	}
}

// sweep executes the configured tests in RFC order.
func (b *Bench) sweep(ctx context.Context, run *benchRun, cfg BenchConfig, prof *Profile, src, dst *Port) {
	defer close(run.done)
	defer run.cancel()

	tests := cfg.Tests
	if len(tests) == 0 {
		tests = []BenchTest{TestThroughput, TestLatency, TestFrameLoss, TestBackToBack}
	}

	sizes := cfg.FrameSizes
	if len(sizes) == 0 {
		sizes = StandardFrameSizes
	}

	high := cfg.HighMbps
	if high <= 0 {
		high = float64(src.Info.SpeedMbps)
		if high <= 0 {
			high = 1000
		}
	}
	low := cfg.LowMbps
	if low <= 0 {
		low = 1
	}

	env := &benchEnv{
		bench: b,
		run:   run,
		cfg:   cfg,
		prof:  prof,
		src:   src,
		dst:   dst,
		low:   low,
		high:  high,
	}

	state := "done"

	for _, test := range tests {
		if ctx.Err() != nil {
			state = "cancelled"
			break
		}

		switch test {
		case TestThroughput:
			env.throughput(ctx, sizes)
		case TestLatency:
			env.latency(ctx)
		case TestFrameLoss:
			env.frameLoss(ctx)
		case TestBackToBack:
			env.backToBack(ctx, sizes)
		default:
			run.addFailure(fmt.Sprintf("unknown test %q skipped", test))
		}
	}

	if ctx.Err() != nil {
		state = "cancelled"
	}

	run.mu.Lock()
	run.report.State = state
	run.report.FinishedAt = time.Now()
	run.mu.Unlock()

	b.log.Info("sweep finished",
		slog.String("profile", cfg.Profile),
		slog.String("state", state))
}

func (b *benchRun) addFailure(msg string) {
	b.mu.Lock()
	b.report.Failures = append(b.report.Failures, msg)
	b.mu.Unlock()
}

// benchEnv carries the per-sweep plumbing between test phases.
type benchEnv struct {
	bench *Bench
	run   *benchRun
	cfg   BenchConfig
	prof  *Profile
	src   *Port
	dst   *Port
	low   float64
	high  float64

	// passRate remembers the throughput result for the latency phase,
	// keyed implicitly to the profile's own frame size.
	passRate float64
}

// specForSize derives a trial frame spec at the given size.
func (e *benchEnv) specForSize(size int) (*frame.Spec, error) {
	p := e.prof.Clone()
	p.FrameSize = size

	var dstMAC [6]byte
	if mac := e.src.ResolveMAC(p.DstIP.String()); mac != ([6]byte{}) {
		dstMAC = mac
	} else {
		dstMAC = e.dst.Info.MAC
	}

	spec := p.FrameSpec(e.src.Info.MAC, srcAddr(e.src), e.src.Info.MTU, dstMAC)
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return spec, nil
}

// trial offers rate Mbps at the given frame size for the trial duration
// and counts echoed frames on the destination port.
func (e *benchEnv) trial(ctx context.Context, spec *frame.Spec, size int, rate float64, duration time.Duration) (TrialResult, error) {
	res := TrialResult{FrameSize: size, RateMbps: rate}

	conn, err := e.bench.open(e.prof.DstPort)
	if err != nil {
		return res, fmt.Errorf("open capture on %q: %w", e.prof.DstPort, err)
	}

	capture := netio.NewCapture(conn, spec.ProfileID, netio.Uptime, e.bench.log)
	capCtx, capCancel := context.WithCancel(ctx)
	capDone := make(chan struct{})
	go func() {
		defer close(capDone)
		capture.Run(capCtx)
	}()

	pacer := NewPacer(rate, size, DefaultBurstDepth)
	tx := e.src.Transmitter()
	deadline := time.Now().Add(duration)

	var seq uint32
	for time.Now().Before(deadline) {
		tick, err := pacer.Next(ctx)
		if err != nil {
			break
		}

		buf, err := frame.Build(spec, seq, netio.Uptime())
		if err != nil {
			capCancel()
			<-capDone
			_ = conn.Close()

			return res, err
		}
		seq++

		if err := tx.Send(buf, tick); err == nil {
			res.Sent++
		}
	}

	time.Sleep(trialSettle)
	capCancel()
	<-capDone

	res.Received, _ = capture.Counts()
	_ = conn.Close()

	if res.Sent > 0 {
		res.LossRate = float64(res.Sent-min(res.Sent, res.Received)) / float64(res.Sent)
	}
	res.Pass = res.Sent > 0 && res.LossRate <= e.cfg.lossThreshold()

	return res, ctx.Err()
}

// throughput binary-searches the highest passing rate per frame size.
func (e *benchEnv) throughput(ctx context.Context, sizes []int) {
	for _, size := range sizes {
		if ctx.Err() != nil {
			return
		}

		spec, err := e.specForSize(size)
		if err != nil {
			e.run.addFailure(fmt.Sprintf("throughput size %d: %v", size, err))
			continue
		}

		result := ThroughputResult{FrameSize: size}
		lo, hi := e.low, e.high
		best := 0.0

		for hi-lo > searchResolutionMbps {
			if ctx.Err() != nil {
				return
			}

			mid := (lo + hi) / 2
			tr, err := e.trial(ctx, spec, size, mid, e.cfg.trialDuration())
			if err != nil && ctx.Err() == nil {
				e.run.addFailure(fmt.Sprintf("throughput size %d rate %.1f: %v", size, mid, err))
				break
			}
			result.Trials = append(result.Trials, tr)

			if tr.Pass {
				best = mid
				lo = mid
			} else {
				hi = mid
			}
		}

		result.RateMbps = best
		if size == e.prof.FrameSize || e.passRate == 0 {
			e.passRate = best
		}

		e.run.mu.Lock()
		e.run.report.Throughput = append(e.run.report.Throughput, result)
		e.run.mu.Unlock()
	}
}

// latency streams at the throughput-pass rate and reports echoed
// min/mean/max.
func (e *benchEnv) latency(ctx context.Context) {
	rate := e.passRate
	if rate <= 0 {
		rate = e.low
	}

	size := e.prof.FrameSize
	spec, err := e.specForSize(size)
	if err != nil {
		e.run.addFailure(fmt.Sprintf("latency: %v", err))
		return
	}

	conn, err := e.bench.open(e.prof.DstPort)
	if err != nil {
		e.run.addFailure(fmt.Sprintf("latency capture: %v", err))
		return
	}
	defer conn.Close()

	capture := netio.NewCapture(conn, spec.ProfileID, netio.Uptime, e.bench.log)
	capCtx, capCancel := context.WithCancel(ctx)
	capDone := make(chan struct{})
	go func() {
		defer close(capDone)
		capture.Run(capCtx)
	}()
	defer func() {
		capCancel()
		<-capDone
	}()

	pacer := NewPacer(rate, size, DefaultBurstDepth)
	tx := e.src.Transmitter()
	deadline := time.Now().Add(e.cfg.latencyDuration())

	var seq uint32
	for time.Now().Before(deadline) {
		tick, err := pacer.Next(ctx)
		if err != nil {
			break
		}

		buf, err := frame.Build(spec, seq, netio.Uptime())
		if err != nil {
			e.run.addFailure(fmt.Sprintf("latency build: %v", err))
			return
		}
		seq++
		_ = tx.Send(buf, tick)
	}

	time.Sleep(trialSettle)

	minLat, meanLat, maxLat, samples := capture.Latency()

	e.run.mu.Lock()
	e.run.report.Latency = &LatencyResult{
		RateMbps: rate,
		MinUs:    float64(minLat.Microseconds()),
		MeanUs:   float64(meanLat.Microseconds()),
		MaxUs:    float64(maxLat.Microseconds()),
		Samples:  samples,
	}
	e.run.mu.Unlock()
}

// frameLoss sweeps 100%..10% of nominal rate in 10-point steps.
func (e *benchEnv) frameLoss(ctx context.Context) {
	size := e.prof.FrameSize
	spec, err := e.specForSize(size)
	if err != nil {
		e.run.addFailure(fmt.Sprintf("frame loss: %v", err))
		return
	}

	for pct := 100; pct >= 10; pct -= 10 {
		if ctx.Err() != nil {
			return
		}

		rate := e.high * float64(pct) / 100
		tr, err := e.trial(ctx, spec, size, rate, e.cfg.trialDuration())
		if err != nil && ctx.Err() == nil {
			e.run.addFailure(fmt.Sprintf("frame loss %d%%: %v", pct, err))
			continue
		}

		e.run.mu.Lock()
		e.run.report.FrameLoss = append(e.run.report.FrameLoss, LossStep{
			Percent:  pct,
			RateMbps: rate,
			LossRate: tr.LossRate,
		})
		e.run.mu.Unlock()
	}
}

// backToBack finds the longest zero-loss burst at full rate by doubling
// the burst length until loss appears.
func (e *benchEnv) backToBack(ctx context.Context, sizes []int) {
	for _, size := range sizes {
		if ctx.Err() != nil {
			return
		}

		spec, err := e.specForSize(size)
		if err != nil {
			e.run.addFailure(fmt.Sprintf("back-to-back size %d: %v", size, err))
			continue
		}

		longest := 0
		for burst := 64; burst <= maxBackToBack; burst *= 2 {
			if ctx.Err() != nil {
				return
			}

			lossless, err := e.burstTrial(ctx, spec, size, burst)
			if err != nil {
				e.run.addFailure(fmt.Sprintf("back-to-back size %d burst %d: %v", size, burst, err))
				break
			}
			if !lossless {
				break
			}
			longest = burst
		}

		e.run.mu.Lock()
		e.run.report.BackToBack = append(e.run.report.BackToBack, BackToBackResult{
			FrameSize:    size,
			LongestBurst: longest,
		})
		e.run.mu.Unlock()
	}
}

// burstTrial fires one back-to-back burst and reports whether every
// frame was echoed.
func (e *benchEnv) burstTrial(ctx context.Context, spec *frame.Spec, size, burst int) (bool, error) {
	conn, err := e.bench.open(e.prof.DstPort)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	capture := netio.NewCapture(conn, spec.ProfileID, netio.Uptime, e.bench.log)
	capCtx, capCancel := context.WithCancel(ctx)
	capDone := make(chan struct{})
	go func() {
		defer close(capDone)
		capture.Run(capCtx)
	}()
	defer func() {
		capCancel()
		<-capDone
	}()

	tx := e.src.Transmitter()
	now := time.Now()

	var sent uint64
	for i := range burst {
		buf, err := frame.Build(spec, uint32(i), netio.Uptime()) //nolint:gosec // G115: burst <= 1<<16.
		if err != nil {
			return false, err
		}
		if err := tx.Send(buf, now); err == nil {
			sent++
		}
	}

	time.Sleep(trialSettle)

	received, _ := capture.Counts()

	return sent > 0 && received >= sent, nil
}
