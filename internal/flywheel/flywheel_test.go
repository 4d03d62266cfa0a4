package flywheel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	mu       sync.Mutex
	ok       int
	failures int
}

func (r *countingRecorder) Observe(_ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures++
		return
	}
	r.ok++
}

func (r *countingRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ok, r.failures
}

func TestNew_Validation(t *testing.T) {
	noop := OpFunc(func(context.Context) error { return nil })

	_, err := New(nil, nil, Options{})
	assert.Error(t, err)

	_, err = New(noop, nil, Options{Threads: -1})
	assert.Error(t, err)

	_, err = New(noop, nil, Options{MaxConsecutiveErrors: -1})
	assert.Error(t, err)

	f, err := New(noop, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "flywheel", f.Alias())
	assert.Equal(t, 0, f.RunningWorkers())
}

func TestFlywheel_RunsAtRate(t *testing.T) {
	rec := &countingRecorder{}
	f, err := New(OpFunc(func(context.Context) error { return nil }), rec, Options{
		Alias:       "svc",
		Threads:     4,
		InitialRate: 200,
	})
	require.NoError(t, err)

	require.NoError(t, f.Start(context.Background()))
	assert.Equal(t, 4, f.RunningWorkers())
	assert.Error(t, f.Start(context.Background()), "second Start")

	time.Sleep(300 * time.Millisecond)
	f.Stop()
	require.NoError(t, f.Wait())

	ok, failures := rec.counts()
	assert.Zero(t, failures)
	// 200/s for 0.3s is ~60 ops.
	assert.InDelta(t, 60, ok, 25)
	assert.Equal(t, int64(ok), f.Ops())
	assert.Equal(t, 0, f.RunningWorkers())
}

func TestFlywheel_SetRate(t *testing.T) {
	rec := &countingRecorder{}
	f, err := New(OpFunc(func(context.Context) error { return nil }), rec, Options{Threads: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.Start(ctx))

	time.Sleep(50 * time.Millisecond)
	ok, _ := rec.counts()
	assert.Zero(t, ok, "paused at zero rate")

	f.SetRate(500)
	assert.Equal(t, 500.0, f.Rate())
	require.Eventually(t, func() bool {
		ok, _ := rec.counts()
		return ok > 10
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, f.Wait())
	assert.Equal(t, 0, f.RunningWorkers())
}

func TestFlywheel_MaxConsecutiveErrorsStopsWorkers(t *testing.T) {
	boom := errors.New("boom")
	rec := &countingRecorder{}
	f, err := New(OpFunc(func(context.Context) error { return boom }), rec, Options{
		Threads:              3,
		InitialRate:          1000,
		MaxConsecutiveErrors: 5,
	})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	require.Eventually(t, func() bool { return f.RunningWorkers() == 0 }, 2*time.Second, 5*time.Millisecond)

	err = f.Wait()
	assert.ErrorIs(t, err, ErrTooManyErrors)
	_, failures := rec.counts()
	assert.Equal(t, 15, failures)
}

func TestFlywheel_ErrorsResetOnSuccess(t *testing.T) {
	var n atomic.Int64
	op := OpFunc(func(context.Context) error {
		if n.Add(1)%2 == 0 {
			return errors.New("flaky")
		}
		return nil
	})
	f, err := New(op, nil, Options{InitialRate: 1000, MaxConsecutiveErrors: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, f.Start(ctx))
	require.NoError(t, f.Wait())
	assert.Greater(t, f.Ops(), int64(10))
}

func TestFlywheel_PanicLeavesTally(t *testing.T) {
	f, err := New(OpFunc(func(context.Context) error { panic("bad op") }), nil, Options{
		Threads:     2,
		InitialRate: 100,
	})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	err = f.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 0, f.RunningWorkers())
}

func TestFlywheel_ShutdownOutcomesNotRecorded(t *testing.T) {
	rec := &countingRecorder{}
	op := OpFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	f, err := New(op, rec, Options{Threads: 2, InitialRate: 1000})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))

	time.Sleep(20 * time.Millisecond)
	f.Stop()
	require.NoError(t, f.Wait())

	_, failures := rec.counts()
	assert.Zero(t, failures)
}

func TestFlywheel_WaitBeforeStart(t *testing.T) {
	f, err := New(OpFunc(func(context.Context) error { return nil }), nil, Options{})
	require.NoError(t, err)
	assert.NoError(t, f.Wait())
	f.Stop()
}
