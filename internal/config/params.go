package config

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/flywheel/internal/logging"
	"github.com/wesleyorama2/flywheel/internal/search"
)

// Search parameter keys.
const (
	ParamBaseValue     = "base_value"
	ParamStepValue     = "step_value"
	ParamValueIncr     = "value_incr"
	ParamSampleTimeMs  = "sample_time_ms"
	ParamSampleIncr    = "sample_incr"
	ParamMinSettlingMs = "min_settling_ms"
	ParamSampleMax     = "sample_max"
	ParamMaxSteps      = "max_steps"
	ParamMaxDuration   = "max_duration"
)

// deprecatedParams maps old rate_* keys onto their replacements.
var deprecatedParams = map[string]string{
	"rate_base": ParamBaseValue,
	"rate_step": ParamStepValue,
	"rate_incr": ParamValueIncr,
}

// Params is a flat set of key=value search parameters.
type Params map[string]string

// ParseParams parses "key=value" pairs. Later pairs override earlier ones.
func ParseParams(pairs []string) (Params, error) {
	params := make(Params, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, &ValidationError{Field: "param", Message: fmt.Sprintf("expected key=value, got %q", pair)}
		}
		params[key] = strings.TrimSpace(value)
	}
	return params, nil
}

// ParamsFromMap converts a decoded "search" section into Params.
func ParamsFromMap(m map[string]any) Params {
	params := make(Params, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case float64:
			params[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case string:
			params[k] = val
		default:
			params[k] = fmt.Sprint(val)
		}
	}
	return params
}

// Merge returns p overlaid with override.
func (p Params) Merge(override Params) Params {
	out := make(Params, len(p)+len(override))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SearchConfigFromParams builds a SearchConfig from flat parameters on
// top of search.DefaultSearchConfig. Deprecated rate_* keys are accepted
// with a warning; when both spellings are present the new one wins.
// Unknown keys and unparsable values are reported together.
func SearchConfigFromParams(params Params, logger *slog.Logger) (search.SearchConfig, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	cfg := search.DefaultSearchConfig()
	errs := &ValidationErrors{}

	resolved := make(Params, len(params))
	for _, key := range params.Keys() {
		value := params[key]
		if replacement, ok := deprecatedParams[key]; ok {
			logger.Warn("deprecated search parameter", "param", key, "use", replacement)
			if _, set := params[replacement]; set {
				continue
			}
			key = replacement
		}
		resolved[key] = value
	}

	for _, key := range resolved.Keys() {
		value := resolved[key]
		field := "search." + key
		var err error

		switch key {
		case ParamBaseValue:
			cfg.BaseValue, err = parseFloat(value)
		case ParamStepValue:
			cfg.StepValue, err = parseFloat(value)
		case ParamValueIncr:
			cfg.ValueIncrement, err = parseFloat(value)
		case ParamSampleTimeMs:
			cfg.SampleTime, err = parseMillis(value)
		case ParamSampleIncr:
			cfg.SampleIncrement, err = parseFloat(value)
		case ParamMinSettlingMs:
			cfg.MinSettling, err = parseMillis(value)
		case ParamSampleMax:
			cfg.SampleCeiling, err = parseFloat(value)
		case ParamMaxSteps:
			cfg.MaxSteps, err = strconv.Atoi(value)
		case ParamMaxDuration:
			cfg.MaxDuration, err = ParseDuration(value)
		default:
			errs.Add(field, "unknown search parameter")
			continue
		}
		if err != nil {
			errs.Add(field, fmt.Sprintf("invalid value %q: %v", value, err))
		}
	}

	if errs.HasErrors() {
		return cfg, errs
	}
	if err := cfg.Validate(); err != nil {
		return cfg, &ValidationError{Field: "search", Message: err.Error()}
	}
	return cfg, nil
}

// parseFloat accepts finite numbers only; strconv also takes NaN and Inf.
func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}

func parseMillis(s string) (time.Duration, error) {
	ms, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
