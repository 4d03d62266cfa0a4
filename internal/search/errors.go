package search

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDimension is returned when a dimension's initial guess
	// lies outside its bounds.
	ErrInvalidDimension = errors.New("invalid search dimension")

	// ErrEmptyJournal is returned by journal lookups before anything was recorded.
	ErrEmptyJournal = errors.New("journal is empty")

	// ErrPointLength is returned when a point vector does not match the model.
	ErrPointLength = errors.New("point length does not match dimension count")

	// ErrTargetStopped is returned when the target has no running workers left.
	ErrTargetStopped = errors.New("target has no running workers")

	// ErrInconsistentSamples means the journal history cannot be explained
	// by the step policy. It indicates a bug, never a measurement problem.
	ErrInconsistentSamples = errors.New("inconsistent samples")
)

// ConfigError reports a dimension rejected at construction time.
type ConfigError struct {
	Dimension string
	Lower     float64
	Initial   float64
	Upper     float64
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dimension '%s': initial value %v must lie within [%v, %v]",
		e.Dimension, e.Initial, e.Lower, e.Upper)
}

// Unwrap lets errors.Is match ErrInvalidDimension.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidDimension
}

// TargetStoppedError is the fatal liveness failure raised by Evaluate.
type TargetStoppedError struct {
	Target string
	Frame  int
}

func (e *TargetStoppedError) Error() string {
	return fmt.Sprintf("target '%s' stopped running after frame %d: a stopped target cannot produce a trustworthy measurement",
		e.Target, e.Frame)
}

func (e *TargetStoppedError) Unwrap() error {
	return ErrTargetStopped
}
