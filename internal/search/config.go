package search

import (
	"fmt"
	"math"
	"time"
)

// SearchConfig holds the tuning state of one search run.
//
// StepValue, SampleTime and MinSettling are grown by the step policy as
// the search progresses; the remaining fields are fixed for the run.
// Construct a fresh SearchConfig for every run.
type SearchConfig struct {
	// BaseValue is the first value evaluated.
	BaseValue float64 `json:"baseValue"`

	// SampleCeiling is the highest value the search will evaluate.
	SampleCeiling float64 `json:"sampleCeiling"`

	// StepValue is the current distance between candidates.
	StepValue float64 `json:"stepValue"`

	// ValueIncrement multiplies StepValue after every successful climb.
	// Values below 1 shrink the step while climbing, which is what lets
	// the refining branches subdivide a bracket.
	ValueIncrement float64 `json:"valueIncrement"`

	// SampleTime is how long each measurement window lasts.
	SampleTime time.Duration `json:"sampleTime"`

	// SampleIncrement multiplies SampleTime when refining near the boundary.
	SampleIncrement float64 `json:"sampleIncrement"`

	// MinSettling is the minimum warm-up before a window is measured.
	MinSettling time.Duration `json:"minSettling"`

	// MaxSteps bounds the number of step decisions in one run (0 = unbounded).
	MaxSteps int `json:"maxSteps"`

	// MaxDuration bounds the wall-clock length of one run (0 = unbounded).
	MaxDuration time.Duration `json:"maxDuration"`
}

// DefaultSearchConfig returns the documented defaults.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		BaseValue:       100,
		SampleCeiling:   1000000,
		StepValue:       100,
		ValueIncrement:  2.0,
		SampleTime:      10 * time.Second,
		SampleIncrement: 1.2,
		MinSettling:     2 * time.Second,
		MaxSteps:        100,
		MaxDuration:     time.Hour,
	}
}

// Validate checks the fixed fields for values the step policy cannot work with.
func (c *SearchConfig) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"base value", c.BaseValue},
		{"sample ceiling", c.SampleCeiling},
		{"step value", c.StepValue},
		{"value increment", c.ValueIncrement},
		{"sample increment", c.SampleIncrement},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%s must be a finite number, got %v", f.name, f.value)
		}
	}

	switch {
	case c.StepValue <= 0:
		return fmt.Errorf("step value must be > 0, got %v", c.StepValue)
	case c.ValueIncrement <= 0:
		return fmt.Errorf("value increment must be > 0, got %v", c.ValueIncrement)
	case c.SampleIncrement < 1:
		return fmt.Errorf("sample increment must be >= 1, got %v", c.SampleIncrement)
	case c.SampleTime <= 0:
		return fmt.Errorf("sample time must be > 0, got %v", c.SampleTime)
	case c.MinSettling < 0:
		return fmt.Errorf("min settling must be >= 0, got %v", c.MinSettling)
	case c.SampleCeiling < c.BaseValue:
		return fmt.Errorf("sample ceiling %v is below base value %v", c.SampleCeiling, c.BaseValue)
	case c.MaxSteps < 0:
		return fmt.Errorf("max steps must be >= 0, got %d", c.MaxSteps)
	case c.MaxDuration < 0:
		return fmt.Errorf("max duration must be >= 0, got %v", c.MaxDuration)
	}
	return nil
}

func (c *SearchConfig) growStep() {
	c.StepValue *= c.ValueIncrement
}

// narrow lengthens both windows once the search is close to the boundary.
func (c *SearchConfig) narrow(settlingFactor float64) {
	c.SampleTime = scaleDuration(c.SampleTime, c.SampleIncrement)
	c.MinSettling = scaleDuration(c.MinSettling, settlingFactor)
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
