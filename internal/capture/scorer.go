package capture

// Scorer turns a closed window into the scalar the search maximizes.
// Higher is better; 0 means the target was saturated or failing.
type Scorer interface {
	Score(r WindowResult) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(r WindowResult) float64

// Score calls f(r).
func (f ScorerFunc) Score(r WindowResult) float64 { return f(r) }

// ThroughputScorer scores a window by its successful operations per
// second. A window whose error rate exceeds MaxErrorRate, or whose
// throughput falls short of MinAttainment × TargetRate, scores 0.
type ThroughputScorer struct {
	MaxErrorRate  float64 `json:"maxErrorRate"`
	MinAttainment float64 `json:"minAttainment"`
}

// DefaultThroughputScorer tolerates 1% errors and requires 90% of the
// offered rate to be achieved.
func DefaultThroughputScorer() ThroughputScorer {
	return ThroughputScorer{MaxErrorRate: 0.01, MinAttainment: 0.9}
}

// Score implements Scorer.
func (s ThroughputScorer) Score(r WindowResult) float64 {
	if r.Ops == 0 {
		return 0
	}
	if r.ErrorRate > s.MaxErrorRate {
		return 0
	}
	if s.MinAttainment > 0 && r.TargetRate > 0 && r.Throughput < s.MinAttainment*r.TargetRate {
		return 0
	}
	return r.Throughput
}

// SuccessRateScorer scores a window by the offered rate weighted by the
// fraction of operations that succeeded. Windows below MinSuccessRate
// score 0.
type SuccessRateScorer struct {
	MinSuccessRate float64 `json:"minSuccessRate"`
}

// Score implements Scorer.
func (s SuccessRateScorer) Score(r WindowResult) float64 {
	if r.Ops == 0 || r.SuccessRate < s.MinSuccessRate {
		return 0
	}
	return r.SuccessRate * r.TargetRate
}
