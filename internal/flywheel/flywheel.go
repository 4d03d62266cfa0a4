// Package flywheel drives an operation at a controllable rate from a
// fixed pool of workers. It is the live target the search tunes: the
// search sets the rate through SetRate and checks RunningWorkers to
// find out whether the target is still alive.
package flywheel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/flywheel/internal/logging"
	"github.com/wesleyorama2/flywheel/internal/rate"
)

// Recorder receives the outcome of every completed operation.
type Recorder interface {
	Observe(latency time.Duration, err error)
}

// ErrTooManyErrors is returned by a worker that gave up after
// MaxConsecutiveErrors failures in a row.
var ErrTooManyErrors = errors.New("too many consecutive errors")

// Options configures a Flywheel.
type Options struct {
	// Alias names the target in logs and errors.
	Alias string

	// Threads is the number of workers. Defaults to 1.
	Threads int

	// InitialRate is the admission rate before the first SetRate.
	// Zero starts paused.
	InitialRate float64

	// MaxConsecutiveErrors stops a worker after this many failures in a
	// row. Zero never stops.
	MaxConsecutiveErrors int

	Logger *slog.Logger
}

// Flywheel runs Threads workers, each admitting operations through a
// shared LeakyBucket.
type Flywheel struct {
	alias     string
	threads   int
	maxErrors int
	limiter   *rate.LeakyBucket
	op        Op
	recorder  Recorder
	logger    *slog.Logger

	running atomic.Int32
	ops     atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a stopped flywheel around op. A nil recorder discards
// outcomes.
func New(op Op, recorder Recorder, opts Options) (*Flywheel, error) {
	if op == nil {
		return nil, fmt.Errorf("flywheel op is required")
	}
	threads := opts.Threads
	if threads == 0 {
		threads = 1
	}
	if threads < 0 {
		return nil, fmt.Errorf("threads must be >= 1, got %d", opts.Threads)
	}
	if opts.MaxConsecutiveErrors < 0 {
		return nil, fmt.Errorf("max consecutive errors must be >= 0, got %d", opts.MaxConsecutiveErrors)
	}
	alias := opts.Alias
	if alias == "" {
		alias = "flywheel"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if recorder == nil {
		recorder = discardRecorder{}
	}

	return &Flywheel{
		alias:     alias,
		threads:   threads,
		maxErrors: opts.MaxConsecutiveErrors,
		limiter:   rate.NewLeakyBucket(opts.InitialRate),
		op:        op,
		recorder:  recorder,
		logger:    logger.With("target", alias),
	}, nil
}

// Start launches the workers. They run until ctx ends or Stop is called.
func (f *Flywheel) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return fmt.Errorf("flywheel %s already started", f.alias)
	}
	f.started = true

	ctx, f.cancel = context.WithCancel(ctx)
	f.group = &errgroup.Group{}

	// Count every worker as running before any goroutine is scheduled so
	// a liveness check right after Start cannot see zero.
	f.running.Add(int32(f.threads))
	for i := 0; i < f.threads; i++ {
		id := i
		f.group.Go(func() error {
			return f.work(ctx, id)
		})
	}

	f.logger.Info("flywheel started", "threads", f.threads, "rate", f.limiter.Rate())
	return nil
}

// Stop asks every worker to finish its current operation and exit.
func (f *Flywheel) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

// Wait blocks until all workers have exited and returns the first
// worker error, if any.
func (f *Flywheel) Wait() error {
	f.mu.Lock()
	g := f.group
	f.mu.Unlock()

	if g == nil {
		return nil
	}
	err := g.Wait()
	f.logger.Info("flywheel stopped", "ops", f.ops.Load())
	return err
}

// SetRate changes the admission rate in operations per second. Workers
// already waiting are rescheduled under the new rate.
func (f *Flywheel) SetRate(r float64) {
	f.limiter.SetRate(r)
	f.logger.Debug("rate changed", "rate", r)
}

// Rate returns the current admission rate.
func (f *Flywheel) Rate() float64 {
	return f.limiter.Rate()
}

// RunningWorkers reports how many workers have not exited.
func (f *Flywheel) RunningWorkers() int {
	return int(f.running.Load())
}

// Alias returns the target's name.
func (f *Flywheel) Alias() string {
	return f.alias
}

// Ops returns the number of operations completed since Start.
func (f *Flywheel) Ops() int64 {
	return f.ops.Load()
}

// LimiterStats exposes the admission limiter's counters.
func (f *Flywheel) LimiterStats() rate.Stats {
	return f.limiter.Stats()
}

func (f *Flywheel) work(ctx context.Context, id int) (err error) {
	defer f.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d panicked: %v", id, r)
			f.logger.Error("worker panicked", "worker", id, "panic", r)
		}
	}()

	consecutive := 0
	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil
		}

		start := time.Now()
		opErr := f.op.Do(ctx)
		if ctx.Err() != nil {
			// Interrupted by shutdown; the outcome says nothing about the target.
			return nil
		}

		f.ops.Add(1)
		f.recorder.Observe(time.Since(start), opErr)

		if opErr == nil {
			consecutive = 0
			continue
		}
		consecutive++
		if f.maxErrors > 0 && consecutive >= f.maxErrors {
			f.logger.Warn("worker giving up", "worker", id, "consecutive_errors", consecutive, "last_error", opErr)
			return fmt.Errorf("worker %d: %w: last error: %v", id, ErrTooManyErrors, opErr)
		}
	}
}

type discardRecorder struct{}

func (discardRecorder) Observe(time.Duration, error) {}
