// Package search implements the adaptive throughput search: a parameter
// model that pushes operating points into a live target, an append-only
// journal of measured frames, and the optimizer that walks the journal to
// find the highest sustainable value.
package search

import (
	"fmt"
	"strconv"
	"strings"
)

// Effector pushes a single dimension value into the live target.
type Effector func(value float64)

// ParamDimension is one named, bounded search variable.
type ParamDimension struct {
	Name     string
	Lower    float64
	Initial  float64
	Upper    float64
	Effector Effector
}

// NewParamDimension validates the bounds and returns the dimension.
// A dimension whose initial guess is outside [lower, upper] is rejected
// rather than clamped.
func NewParamDimension(name string, lower, initial, upper float64, effector Effector) (ParamDimension, error) {
	if lower > initial || initial > upper {
		return ParamDimension{}, &ConfigError{
			Dimension: name,
			Lower:     lower,
			Initial:   initial,
			Upper:     upper,
		}
	}
	return ParamDimension{
		Name:     name,
		Lower:    lower,
		Initial:  initial,
		Upper:    upper,
		Effector: effector,
	}, nil
}

// ParamModel is an ordered set of dimensions. The insertion order is the
// position of each dimension in every point vector.
type ParamModel struct {
	dims []ParamDimension
}

// NewParamModel creates an empty model.
func NewParamModel() *ParamModel {
	return &ParamModel{}
}

// Add appends a dimension. It returns the model so calls can be chained
// by callers that check the error once.
func (m *ParamModel) Add(name string, lower, initial, upper float64, effector Effector) (*ParamModel, error) {
	dim, err := NewParamDimension(name, lower, initial, upper, effector)
	if err != nil {
		return m, err
	}
	m.dims = append(m.dims, dim)
	return m, nil
}

// Len returns the number of dimensions.
func (m *ParamModel) Len() int {
	return len(m.dims)
}

// Dimension returns the i-th dimension.
func (m *ParamModel) Dimension(i int) ParamDimension {
	return m.dims[i]
}

// Apply invokes each dimension's effector with its point value, in
// dimension order, and snapshots the point.
func (m *ParamModel) Apply(point []float64) (*FrameParams, error) {
	if len(point) != len(m.dims) {
		return nil, fmt.Errorf("%w: got %d values for %d dimensions", ErrPointLength, len(point), len(m.dims))
	}

	for i, dim := range m.dims {
		if dim.Effector != nil {
			dim.Effector(point[i])
		}
	}

	values := make([]float64, len(point))
	copy(values, point)
	return &FrameParams{model: m, values: values}, nil
}

// Bounds returns the lower and upper bound of every dimension.
func (m *ParamModel) Bounds() (lower, upper []float64) {
	lower = make([]float64, len(m.dims))
	upper = make([]float64, len(m.dims))
	for i, dim := range m.dims {
		lower[i] = dim.Lower
		upper[i] = dim.Upper
	}
	return lower, upper
}

// InitialGuess returns the starting point of the search.
func (m *ParamModel) InitialGuess() []float64 {
	guess := make([]float64, len(m.dims))
	for i, dim := range m.dims {
		guess[i] = dim.Initial
	}
	return guess
}

// FrameParams is the immutable snapshot of one applied point.
type FrameParams struct {
	model  *ParamModel
	values []float64
}

// Value returns the i-th coordinate.
func (p *FrameParams) Value(i int) float64 {
	return p.values[i]
}

// Values returns a copy of the point.
func (p *FrameParams) Values() []float64 {
	out := make([]float64, len(p.values))
	copy(out, p.values)
	return out
}

// AsResult maps each dimension name to its value for reporting.
func (p *FrameParams) AsResult() map[string]string {
	result := make(map[string]string, len(p.values))
	for i, v := range p.values {
		result[p.model.dims[i].Name] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return result
}

// String renders "name=value [lower..upper]" for every dimension.
func (p *FrameParams) String() string {
	parts := make([]string, 0, len(p.values))
	for i, v := range p.values {
		dim := p.model.dims[i]
		parts = append(parts, fmt.Sprintf("%s=%s [%s..%s]",
			dim.Name,
			strconv.FormatFloat(v, 'f', -1, 64),
			strconv.FormatFloat(dim.Lower, 'f', -1, 64),
			strconv.FormatFloat(dim.Upper, 'f', -1, 64)))
	}
	return strings.Join(parts, ", ")
}
