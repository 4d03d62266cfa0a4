package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field names that failed, in order.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		fields[i] = err.Field
	}
	return fields
}

// Validate checks the parts of the configuration the schema cannot
// express: exactly one target kind, a usable URL, and parseable search
// parameters.
func (c *FileConfig) Validate() error {
	errs := &ValidationErrors{}

	hasHTTP := c.Target != nil
	hasSynthetic := c.Workload.Synthetic != nil
	switch {
	case hasHTTP && hasSynthetic:
		errs.Add("target", "target and workload.synthetic are mutually exclusive")
	case !hasHTTP && !hasSynthetic:
		errs.Add("target", "either target or workload.synthetic is required")
	}

	if hasHTTP {
		validateTarget(c.Target, errs)
	}
	if hasSynthetic && c.Workload.Synthetic.Capacity <= 0 {
		errs.Add("workload.synthetic.capacity", "capacity must be greater than 0")
	}
	if c.Workload.Threads < 0 {
		errs.Add("workload.threads", "threads must be at least 1")
	}
	if c.Workload.MaxConsecutiveErrors < 0 {
		errs.Add("workload.max_consecutive_errors", "cannot be negative")
	}

	validateCapture(&c.Capture, errs)

	if _, err := SearchConfigFromParams(ParamsFromMap(c.Search), nil); err != nil {
		appendErr(errs, err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	if t.URL == "" {
		errs.Add("target.url", "url is required")
		return
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		errs.Add("target.url", fmt.Sprintf("invalid url: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("target.url", "url scheme must be http or https")
	}
	if u.Host == "" {
		errs.Add("target.url", "url must include a host")
	}
}

func validateCapture(c *CaptureConfig, errs *ValidationErrors) {
	switch c.Scorer {
	case "", ScorerThroughput, ScorerSuccessRate:
	default:
		errs.Add("capture.scorer", fmt.Sprintf("unknown scorer: %s", c.Scorer))
	}

	checkFraction := func(field string, v *float64) {
		if v != nil && (*v < 0 || *v > 1) {
			errs.Add(field, "must be between 0 and 1")
		}
	}
	checkFraction("capture.max_error_rate", c.MaxErrorRate)
	checkFraction("capture.min_attainment", c.MinAttainment)
	checkFraction("capture.min_success_rate", c.MinSuccessRate)

	if c.Tolerance < 0 {
		errs.Add("capture.tolerance", "cannot be negative")
	}
	if c.StableIntervals < 0 {
		errs.Add("capture.stable_intervals", "cannot be negative")
	}
	if c.PollInterval < 0 {
		errs.Add("capture.poll_interval", "cannot be negative")
	}
	if c.MaxSettle < 0 {
		errs.Add("capture.max_settle", "cannot be negative")
	}
}

func appendErr(errs *ValidationErrors, err error) {
	switch e := err.(type) {
	case *ValidationErrors:
		errs.Errors = append(errs.Errors, e.Errors...)
	case *ValidationError:
		errs.Errors = append(errs.Errors, e)
	default:
		errs.Add("", err.Error())
	}
}
