// Package capture measures a running flywheel over bounded windows and
// scores each window for the search.
//
// A Window is fed by the flywheel's workers through Observe and driven
// by the optimizer through StartWindow, AwaitSteadyState, RestartWindow
// and StopWindow. Counters are atomic so workers never block on the
// control loop; the latency histogram is guarded by a mutex because
// hdrhistogram is not safe for concurrent writes.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/flywheel/internal/logging"
)

const (
	histogramMin     = 1             // 1µs
	histogramMax     = 3_600_000_000 // 1h in µs
	histogramSigFigs = 3
)

// Options configures a Window.
type Options struct {
	// Scorer turns a closed window into its score.
	Scorer Scorer

	// TargetRate reports the rate the target was asked to run at.
	TargetRate func() float64

	// Tolerance is the relative spread allowed between interval rates
	// for the target to count as settled.
	Tolerance float64

	// StableIntervals is how many consecutive interval rates must agree.
	// Values below 2 skip the steady-state check.
	StableIntervals int

	// PollInterval is the length of one interval.
	PollInterval time.Duration

	// MaxSettle caps the wait beyond the minimum settling time. Zero
	// skips the steady-state check.
	MaxSettle time.Duration

	Logger *slog.Logger
}

// DefaultOptions returns the documented capture defaults.
func DefaultOptions() Options {
	return Options{
		Scorer:          DefaultThroughputScorer(),
		Tolerance:       0.1,
		StableIntervals: 3,
		PollInterval:    500 * time.Millisecond,
		MaxSettle:       30 * time.Second,
	}
}

// WindowResult is the frozen measurement of one closed window.
type WindowResult struct {
	Duration    time.Duration `json:"duration"`
	Ops         int64         `json:"ops"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	SuccessRate float64       `json:"successRate"`
	ErrorRate   float64       `json:"errorRate"`
	Throughput  float64       `json:"throughput"`
	TargetRate  float64       `json:"targetRate"`
	Latency     LatencyStats  `json:"latency"`
}

// LatencyStats summarizes a window's latency histogram.
type LatencyStats struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P90   time.Duration `json:"p90"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Count int64         `json:"count"`
}

// Window is a restartable measurement window.
type Window struct {
	opts   Options
	logger *slog.Logger

	open      atomic.Bool
	ops       atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	interval  atomic.Int64 // ops since the last steady-state poll

	mu      sync.Mutex
	hist    *hdrhistogram.Histogram
	started time.Time
	last    WindowResult
	closed  bool
}

// New creates a closed window.
func New(opts Options) *Window {
	if opts.Scorer == nil {
		opts.Scorer = DefaultThroughputScorer()
	}
	if opts.TargetRate == nil {
		opts.TargetRate = func() float64 { return 0 }
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Window{
		opts:   opts,
		logger: logger,
		hist:   hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs),
	}
}

// Observe records one completed operation. Outcomes arriving while the
// window is closed are dropped.
func (w *Window) Observe(latency time.Duration, err error) {
	if !w.open.Load() {
		return
	}

	micros := latency.Microseconds()
	if micros < histogramMin {
		micros = histogramMin
	}
	if micros > histogramMax {
		micros = histogramMax
	}

	// Histogram and counters change together so a frozen result always
	// has Latency.Count == Ops.
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open.Load() {
		return
	}
	_ = w.hist.RecordValue(micros)
	w.ops.Add(1)
	w.interval.Add(1)
	if err != nil {
		w.failures.Add(1)
	} else {
		w.successes.Add(1)
	}
}

// StartWindow opens a fresh window.
func (w *Window) StartWindow() {
	w.reset()
	w.open.Store(true)
}

// RestartWindow discards everything measured so far and keeps the
// window open.
func (w *Window) RestartWindow() {
	w.reset()
	w.open.Store(true)
}

// StopWindow closes the window and freezes its result.
func (w *Window) StopWindow() {
	if !w.open.Swap(false) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ops := w.ops.Load()
	successes := w.successes.Load()
	failures := w.failures.Load()
	elapsed := time.Since(w.started)

	r := WindowResult{
		Duration:   elapsed,
		Ops:        ops,
		Successes:  successes,
		Failures:   failures,
		TargetRate: w.opts.TargetRate(),
		Latency:    latencyStats(w.hist),
	}
	if ops > 0 {
		r.SuccessRate = float64(successes) / float64(ops)
		r.ErrorRate = float64(failures) / float64(ops)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.Throughput = float64(successes) / secs
	}

	w.last = r
	w.closed = true
}

// Last returns the score of the most recently closed window, or 0 if no
// window has been closed yet.
func (w *Window) Last() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		return 0
	}
	return w.opts.Scorer.Score(w.last)
}

// Result returns the most recently closed window's measurement.
func (w *Window) Result() (WindowResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.closed
}

// AwaitSteadyState blocks for at least minSettling, then until the
// completion rate has been stable for StableIntervals consecutive
// intervals or MaxSettle more has passed. Running out of MaxSettle is
// not an error; the measurement just starts from an unsettled target.
func (w *Window) AwaitSteadyState(ctx context.Context, minSettling time.Duration) error {
	if err := sleep(ctx, minSettling); err != nil {
		return err
	}
	if w.opts.StableIntervals < 2 || w.opts.MaxSettle <= 0 {
		return nil
	}

	ring := newRateRing(w.opts.StableIntervals)
	deadline := time.NewTimer(w.opts.MaxSettle)
	defer deadline.Stop()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.interval.Store(0)
	lastTick := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			w.logger.Warn("steady state not reached",
				"max_settle", w.opts.MaxSettle,
				"tolerance", w.opts.Tolerance,
				"target_rate", w.opts.TargetRate())
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(lastTick).Seconds()
			lastTick = now
			if elapsed <= 0 {
				continue
			}
			ring.push(float64(w.interval.Swap(0)) / elapsed)
			if ring.full() && ring.stable(w.opts.Tolerance) {
				w.logger.Debug("steady state reached", "target_rate", w.opts.TargetRate())
				return nil
			}
		}
	}
}

func (w *Window) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.hist.Reset()
	w.ops.Store(0)
	w.successes.Store(0)
	w.failures.Store(0)
	w.interval.Store(0)
	w.started = time.Now()
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:   time.Duration(h.Min()) * time.Microsecond,
		Max:   time.Duration(h.Max()) * time.Microsecond,
		Mean:  time.Duration(h.Mean()) * time.Microsecond,
		P50:   time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:   time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:   time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:   time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count: h.TotalCount(),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
