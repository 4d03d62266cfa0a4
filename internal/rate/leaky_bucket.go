// Package rate paces flywheel workers at a target admission rate.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket schedules admissions at a fixed rate.
//
// Instead of counting available tokens it answers "when may the next
// operation start". A caller that is behind schedule is admitted
// immediately; one that is ahead is told how long to wait. The rate can
// be changed at any time without releasing a burst, which is what the
// search needs when it moves from one candidate to the next.
//
// A rate of zero or below pauses admission: Next reports no slot and
// Wait blocks until the rate becomes positive again.
//
// LeakyBucket is safe for concurrent use.
type LeakyBucket struct {
	mu          sync.Mutex
	rate        float64
	lastDrip    time.Time
	accumulated float64
	changed     chan struct{} // closed and replaced on every SetRate

	admitted  atomic.Int64
	waitNanos atomic.Int64
}

// NewLeakyBucket creates a bucket admitting rate operations per second.
// The first admission is immediate.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return &LeakyBucket{
		rate:        rate,
		lastDrip:    time.Now(),
		accumulated: 1,
		changed:     make(chan struct{}),
	}
}

// Next reserves the next admission slot and returns when it starts.
// The returned time may be in the past, meaning "go now". ok is false
// while the bucket is paused, in which case nothing is reserved.
func (lb *LeakyBucket) Next() (at time.Time, ok bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.nextLocked(time.Now())
}

func (lb *LeakyBucket) nextLocked(now time.Time) (time.Time, bool) {
	if lb.rate <= 0 {
		return time.Time{}, false
	}

	elapsed := now.Sub(lb.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	lb.accumulated += elapsed * lb.rate
	if lb.accumulated > 1 {
		lb.accumulated = 1
	}

	if lb.accumulated >= 1 {
		lb.accumulated--
		lb.lastDrip = now
		lb.admitted.Add(1)
		return now, true
	}

	// Slots already handed out to other waiters push this one further
	// back, so concurrent callers are spaced at 1/rate rather than all
	// landing on the same slot.
	from := now
	if lb.lastDrip.After(now) {
		from = lb.lastDrip
	}
	next := from.Add(time.Duration((1 - lb.accumulated) / lb.rate * float64(time.Second)))
	lb.accumulated = 0
	lb.lastDrip = next

	lb.admitted.Add(1)
	lb.waitNanos.Add(int64(next.Sub(now)))
	return next, true
}

// Wait blocks until the caller may start one operation.
//
// A rate change while waiting reschedules the caller under the new rate.
// It returns ctx.Err() if the context ends first.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	for {
		lb.mu.Lock()
		next, ok := lb.nextLocked(time.Now())
		changed := lb.changed
		lb.mu.Unlock()

		if ok {
			d := time.Until(next)
			if d <= 0 {
				return ctx.Err()
			}
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
				return nil
			case <-changed:
				timer.Stop()
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// SetRate changes the admission rate. Accumulated credit is dropped so a
// rate change never releases a burst.
func (lb *LeakyBucket) SetRate(rate float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.rate = rate
	lb.accumulated = 0
	lb.lastDrip = time.Now()
	close(lb.changed)
	lb.changed = make(chan struct{})
}

// Rate returns the current admission rate in operations per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Stats returns a snapshot of the bucket's counters.
func (lb *LeakyBucket) Stats() Stats {
	lb.mu.Lock()
	rate := lb.rate
	accumulated := lb.accumulated
	lb.mu.Unlock()

	return Stats{
		Rate:        rate,
		Accumulated: accumulated,
		Paused:      rate <= 0,
		Admitted:    lb.admitted.Load(),
		TotalWait:   time.Duration(lb.waitNanos.Load()),
	}
}

// Stats describes a LeakyBucket at one point in time.
type Stats struct {
	Rate        float64       `json:"rate"`
	Accumulated float64       `json:"accumulated"`
	Paused      bool          `json:"paused"`
	Admitted    int64         `json:"admitted"`
	TotalWait   time.Duration `json:"totalWait"`
}
