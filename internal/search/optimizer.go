package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wesleyorama2/flywheel/internal/logging"
)

// Target is the live workload being tuned.
type Target interface {
	// Alias names the target in errors and logs.
	Alias() string

	// RunningWorkers reports how many workers are currently executing.
	RunningWorkers() int
}

// Capture measures the target over a window. Last returns the score of
// the most recently closed window; higher is better and 0 means the
// target was saturated or failing.
type Capture interface {
	StartWindow()
	AwaitSteadyState(ctx context.Context, minSettling time.Duration) error
	RestartWindow()
	StopWindow()
	Last() float64
}

// FrameObserver is notified after every recorded frame.
type FrameObserver interface {
	OnFrame(frame SimFrame, cfg SearchConfig)
}

// Phase is the optimizer's position in the search.
type Phase string

const (
	PhaseClimbing   Phase = "climbing"
	PhaseRefining   Phase = "refining"
	PhaseTerminated Phase = "terminated"
)

// StopReason explains why Run returned without an error.
type StopReason string

const (
	// StopConverged means the boundary was bracketed at the current step size.
	StopConverged StopReason = "converged"

	// StopCeiling means the search climbed to the configured ceiling.
	StopCeiling StopReason = "ceiling"

	// StopMaxSteps means the iteration ceiling was hit.
	StopMaxSteps StopReason = "max-steps"

	// StopMaxDuration means the wall-clock ceiling was hit.
	StopMaxDuration StopReason = "max-duration"
)

// Result is what Run reports once the search stops.
type Result struct {
	Best       SimFrame      `json:"-"`
	Frames     []SimFrame    `json:"-"`
	StopReason StopReason    `json:"stopReason"`
	Steps      int           `json:"steps"`
	Elapsed    time.Duration `json:"elapsed"`
	Config     SearchConfig  `json:"config"`
}

// Optimizer searches for the highest value the target sustains.
//
// It runs a single control loop: every evaluation blocks for the settling
// and sampling windows before the next candidate is chosen, so the
// journal and the config are never touched concurrently. The only
// shared state is the target itself, which is written through the
// model's effectors and observed through the capture window.
type Optimizer struct {
	search   *SingleDimensionSearch
	config   *SearchConfig
	journal  *SimFrameJournal
	capture  Capture
	target   Target
	observer FrameObserver
	logger   *slog.Logger

	phase  Phase
	reason StopReason

	// sleep blocks for the sampling window; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOptimizer creates an optimizer over a one-dimensional model.
func NewOptimizer(model *ParamModel, cfg *SearchConfig, capture Capture, target Target) (*Optimizer, error) {
	single, err := NewSingleDimensionSearch(model)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("search config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search config: %w", err)
	}
	if capture == nil {
		return nil, fmt.Errorf("capture window is required")
	}
	if target == nil {
		return nil, fmt.Errorf("target is required")
	}

	return &Optimizer{
		search:  single,
		config:  cfg,
		journal: NewSimFrameJournal(),
		capture: capture,
		target:  target,
		logger:  logging.Discard(),
		phase:   PhaseClimbing,
		sleep:   sleepContext,
	}, nil
}

// WithObserver sets the frame observer.
func (o *Optimizer) WithObserver(observer FrameObserver) *Optimizer {
	o.observer = observer
	return o
}

// SetLogger sets the logger used for step decisions.
func (o *Optimizer) SetLogger(l *slog.Logger) {
	if l == nil {
		l = logging.Discard()
	}
	o.logger = l
}

// Journal exposes the search history. It stays readable after Run fails.
func (o *Optimizer) Journal() *SimFrameJournal {
	return o.journal
}

// Config returns the current tuning state.
func (o *Optimizer) Config() SearchConfig {
	return *o.config
}

// Phase returns the current search phase.
func (o *Optimizer) Phase() Phase {
	return o.phase
}

// Evaluate measures one point and records it.
//
// The point is applied, the window waits for the target to settle, the
// point is applied again in case it drifted while settling, and the
// window is restarted so settling noise is discarded. After SampleTime
// the window is closed and its score recorded. If the target has no
// running workers left the search is aborted with a TargetStoppedError.
func (o *Optimizer) Evaluate(ctx context.Context, point []float64) (float64, error) {
	model := o.search.Model()

	params, err := model.Apply(point)
	if err != nil {
		return 0, err
	}

	o.capture.StartWindow()
	if err := o.capture.AwaitSteadyState(ctx, o.config.MinSettling); err != nil {
		o.capture.StopWindow()
		return 0, fmt.Errorf("waiting for steady state at %s: %w", params, err)
	}

	if _, err := model.Apply(point); err != nil {
		o.capture.StopWindow()
		return 0, err
	}
	o.capture.RestartWindow()

	if err := o.sleep(ctx, o.config.SampleTime); err != nil {
		o.capture.StopWindow()
		return 0, fmt.Errorf("sampling %s: %w", params, err)
	}

	o.capture.StopWindow()
	value := o.capture.Last()
	frame := o.journal.Record(params, value)

	o.logger.Info("frame recorded",
		"index", frame.Index,
		"params", params.String(),
		"value", value,
		"sample_time", o.config.SampleTime,
		"min_settling", o.config.MinSettling)

	if o.observer != nil {
		o.observer.OnFrame(frame, *o.config)
	}

	if o.target.RunningWorkers() == 0 {
		o.phase = PhaseTerminated
		return value, &TargetStoppedError{Target: o.target.Alias(), Frame: frame.Index}
	}

	return value, nil
}

// Step picks the next candidate from the journal and evaluates it.
//
// It returns false once the search has converged or reached the ceiling;
// StopReason then tells which. Step must not be called before the first
// Evaluate.
func (o *Optimizer) Step(ctx context.Context) (bool, error) {
	last, err := o.journal.Last()
	if err != nil {
		return false, err
	}
	best, err := o.journal.BestRun()
	if err != nil {
		return false, err
	}

	step := o.config.StepValue
	var next float64
	var bound SimFrame
	var settlingFactor float64
	climbing := false

	switch {
	case best.Index == last.Index:
		// The latest frame is the best one: keep climbing, faster.
		climbing = true
		o.phase = PhaseClimbing
		next = last.X() + step
		o.config.growStep()

	case best.Index == last.Index-1:
		// One regression: the boundary lies between best and last.
		if last.X()-best.X() <= step {
			return o.stop(StopConverged, best, last), nil
		}
		o.phase = PhaseRefining
		next = best.X() + step
		bound = last
		settlingFactor = 4

	default:
		bad, ok := o.nearestRegressionAbove(best)
		if !ok {
			o.phase = PhaseTerminated
			return false, fmt.Errorf("%w: no frame below value %v above %v (best frame %d, last frame %d)",
				ErrInconsistentSamples, best.Value, best.X(), best.Index, last.Index)
		}
		if bad.X()-best.X() <= step {
			return o.stop(StopConverged, best, bad), nil
		}
		o.phase = PhaseRefining
		next = best.X() + step
		bound = bad
		settlingFactor = 2
	}

	next = o.search.Clamp(next, o.config.SampleCeiling)
	if climbing && next <= last.X() {
		return o.stop(StopCeiling, best, last), nil
	}
	// Rounding can put best+step on the bad point itself; measuring it
	// again would only repeat a known regression.
	if !climbing && next >= bound.X() {
		return o.stop(StopConverged, best, bound), nil
	}
	if !climbing {
		o.config.narrow(settlingFactor)
	}

	o.logger.Debug("next candidate",
		"phase", o.phase,
		"best", best.X(),
		"last", last.X(),
		"next", next,
		"step", o.config.StepValue)

	if _, err := o.Evaluate(ctx, o.search.Point(next)); err != nil {
		return false, err
	}
	return true, nil
}

// StopReason returns why the last Step stopped the search.
func (o *Optimizer) StopReason() StopReason {
	return o.reason
}

// Run drives the search to completion: evaluate the initial guess, then
// step until the policy stops or a ceiling is hit.
//
// MaxSteps and MaxDuration bound runs where the value function never
// produces a regression. Hitting either ends the run normally. Fatal
// errors (liveness, inconsistent journal, cancellation) are returned
// as-is and the partial journal stays available through Journal.
func (o *Optimizer) Run(ctx context.Context) (*Result, error) {
	if o.journal.Len() > 0 {
		return nil, fmt.Errorf("optimizer has already run")
	}

	start := time.Now()
	runCtx := ctx
	if o.config.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.config.MaxDuration)
		defer cancel()
	}

	o.logger.Info("search started",
		"target", o.target.Alias(),
		"base", o.search.Initial(),
		"step", o.config.StepValue,
		"ceiling", o.config.SampleCeiling)

	if _, err := o.Evaluate(runCtx, o.search.Point(o.search.Initial())); err != nil {
		if o.deadlineHit(ctx, runCtx, err) {
			return o.result(StopMaxDuration, 0, start)
		}
		return nil, err
	}

	steps := 0
	for {
		if o.config.MaxSteps > 0 && steps >= o.config.MaxSteps {
			return o.result(StopMaxSteps, steps, start)
		}

		more, err := o.Step(runCtx)
		if err != nil {
			if o.deadlineHit(ctx, runCtx, err) {
				return o.result(StopMaxDuration, steps, start)
			}
			return nil, err
		}
		steps++
		if !more {
			return o.result(o.reason, steps, start)
		}
	}
}

// nearestRegressionAbove finds the frame worse than best whose point is
// the closest one above best's point.
func (o *Optimizer) nearestRegressionAbove(best SimFrame) (SimFrame, bool) {
	var found SimFrame
	ok := false
	for _, f := range o.journal.frames {
		if f.Value >= best.Value || f.X() <= best.X() {
			continue
		}
		if !ok || f.X() < found.X() {
			found = f
			ok = true
		}
	}
	return found, ok
}

func (o *Optimizer) stop(reason StopReason, best, bound SimFrame) bool {
	o.phase = PhaseTerminated
	o.reason = reason
	o.logger.Info("search stopped",
		"reason", reason,
		"best", best.X(),
		"best_value", best.Value,
		"bound", bound.X(),
		"step", o.config.StepValue)
	return false
}

// deadlineHit reports whether err came from the run's own wall-clock
// ceiling rather than from the caller cancelling.
func (o *Optimizer) deadlineHit(parent, run context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil && run.Err() != nil
}

func (o *Optimizer) result(reason StopReason, steps int, start time.Time) (*Result, error) {
	best, err := o.journal.BestRun()
	if err != nil {
		return nil, fmt.Errorf("search stopped (%s) before any frame was recorded: %w", reason, err)
	}
	o.phase = PhaseTerminated
	o.reason = reason
	return &Result{
		Best:       best,
		Frames:     o.journal.Frames(),
		StopReason: reason,
		Steps:      steps,
		Elapsed:    time.Since(start),
		Config:     *o.config,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
