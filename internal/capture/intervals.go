package capture

import "math"

// rateRing keeps the most recent interval rates in a fixed ring buffer.
type rateRing struct {
	rates []float64
	head  int
	count int
}

func newRateRing(size int) *rateRing {
	if size < 1 {
		size = 1
	}
	return &rateRing{rates: make([]float64, size)}
}

func (r *rateRing) push(v float64) {
	r.rates[r.head] = v
	r.head = (r.head + 1) % len(r.rates)
	if r.count < len(r.rates) {
		r.count++
	}
}

func (r *rateRing) full() bool {
	return r.count == len(r.rates)
}

// stable reports whether every retained rate lies within tolerance
// (relative) of their mean. An all-zero ring is stable.
func (r *rateRing) stable(tolerance float64) bool {
	if r.count == 0 {
		return false
	}
	sum := 0.0
	for i := 0; i < r.count; i++ {
		sum += r.rates[i]
	}
	mean := sum / float64(r.count)
	if mean == 0 {
		return true
	}
	for i := 0; i < r.count; i++ {
		if math.Abs(r.rates[i]-mean) > tolerance*mean {
			return false
		}
	}
	return true
}
