package search

import "fmt"

// SingleDimensionSearch adapts a one-dimensional ParamModel to the scalar
// step policy. The policy only ever reads and writes the first coordinate,
// so the model is required to have exactly one dimension.
type SingleDimensionSearch struct {
	model *ParamModel
}

// NewSingleDimensionSearch wraps model, which must have exactly one dimension.
func NewSingleDimensionSearch(model *ParamModel) (*SingleDimensionSearch, error) {
	if model == nil || model.Len() != 1 {
		n := 0
		if model != nil {
			n = model.Len()
		}
		return nil, fmt.Errorf("single dimension search needs exactly 1 dimension, model has %d", n)
	}
	return &SingleDimensionSearch{model: model}, nil
}

// Model returns the wrapped model.
func (s *SingleDimensionSearch) Model() *ParamModel {
	return s.model
}

// Point converts a scalar into a point vector.
func (s *SingleDimensionSearch) Point(x float64) []float64 {
	return []float64{x}
}

// Initial returns the scalar starting value.
func (s *SingleDimensionSearch) Initial() float64 {
	return s.model.Dimension(0).Initial
}

// Clamp limits x to the dimension bounds and to ceiling.
func (s *SingleDimensionSearch) Clamp(x, ceiling float64) float64 {
	dim := s.model.Dimension(0)
	upper := dim.Upper
	if ceiling < upper {
		upper = ceiling
	}
	if x > upper {
		x = upper
	}
	if x < dim.Lower {
		x = dim.Lower
	}
	return x
}
