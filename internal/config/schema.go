// Package config loads and validates flywheel run configuration.
//
// A run is described by a YAML or JSON file and by flat key=value search
// parameters. Files are checked against an embedded JSON Schema first
// and then by Validate, which reports every problem at once.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FileConfig is the root of a configuration file.
//
// Example YAML:
//
//	name: checkout-api
//	target:
//	  url: http://localhost:8080/health
//	  timeout: 2s
//	  expect:
//	    status: 200
//	    path: $.status
//	    value: ok
//	workload:
//	  threads: 64
//	capture:
//	  max_error_rate: 0.01
//	  min_attainment: 0.9
//	search:
//	  base_value: 100
//	  step_value: 100
//	  sample_time_ms: 5000
type FileConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty"`

	// Target is the HTTP endpoint to drive. Omitted for synthetic runs.
	Target *TargetConfig `json:"target,omitempty"`

	Workload WorkloadConfig `json:"workload,omitempty"`

	Capture CaptureConfig `json:"capture,omitempty"`

	// Search holds flat search parameters (see SearchConfigFromParams).
	Search map[string]any `json:"search,omitempty"`
}

// TargetConfig describes the HTTP request each operation sends.
type TargetConfig struct {
	URL                string            `json:"url"`
	Method             string            `json:"method,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	Body               string            `json:"body,omitempty"`
	Timeout            Duration          `json:"timeout,omitempty"`
	InsecureSkipVerify bool              `json:"insecure_skip_verify,omitempty"`
	Expect             ExpectConfig      `json:"expect,omitempty"`
}

// ExpectConfig describes a successful response.
type ExpectConfig struct {
	Status int    `json:"status,omitempty"`
	Path   string `json:"path,omitempty"`
	Value  string `json:"value,omitempty"`
}

// WorkloadConfig sizes the worker pool.
type WorkloadConfig struct {
	// Threads is the number of flywheel workers (default 16).
	Threads int `json:"threads,omitempty"`

	// MaxConsecutiveErrors stops a worker after this many failures in a
	// row (0 disables).
	MaxConsecutiveErrors int `json:"max_consecutive_errors,omitempty"`

	// Synthetic replaces the HTTP target with an in-process service.
	Synthetic *SyntheticConfig `json:"synthetic,omitempty"`
}

// SyntheticConfig describes an in-process service of bounded capacity.
type SyntheticConfig struct {
	// Capacity in operations per second.
	Capacity float64 `json:"capacity"`

	// Latency is the service time of one operation (default 10ms).
	Latency Duration `json:"latency,omitempty"`

	// Timeout is how long an operation may queue for a slot (default 5×Latency).
	Timeout Duration `json:"timeout,omitempty"`
}

// CaptureConfig tunes how windows are measured and scored.
type CaptureConfig struct {
	// Scorer is "throughput" (default) or "success-rate".
	Scorer string `json:"scorer,omitempty"`

	MaxErrorRate   *float64 `json:"max_error_rate,omitempty"`
	MinAttainment  *float64 `json:"min_attainment,omitempty"`
	MinSuccessRate *float64 `json:"min_success_rate,omitempty"`

	Tolerance       float64  `json:"tolerance,omitempty"`
	StableIntervals int      `json:"stable_intervals,omitempty"`
	PollInterval    Duration `json:"poll_interval,omitempty"`
	MaxSettle       Duration `json:"max_settle,omitempty"`
}

// Scorer names.
const (
	ScorerThroughput  = "throughput"
	ScorerSuccessRate = "success-rate"
)

// Duration is a time.Duration read from "30s"-style strings. A bare
// number is taken as seconds.
type Duration time.Duration

// ParseDuration parses "30s", "1h30m" or a bare number of seconds. The
// empty string is zero.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// GetDuration returns the duration or a default if unset.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch val := v.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(val * float64(time.Second))
	case string:
		dur, err := ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(dur)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
