// Package preprocessing provides the feature scalers used ahead of model
// fitting: MinMaxScaler for mapping raw pixel intensities into [0, 1] and
// StandardScaler for zero-mean unit-variance standardization.
package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/digitrec/core/model"
	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// MinMaxScaler rescales each feature to [0, 1] based on the minimum and
// maximum observed during Fit. Features that are constant in the training
// data map to 0.
type MinMaxScaler struct {
	state *model.StateManager

	// Min is the per-feature minimum observed during Fit.
	Min []float64

	// Scale is the per-feature reciprocal of (max - min).
	Scale []float64

	// NFeatures is the number of features seen during Fit.
	NFeatures int
}

// NewMinMaxScaler creates a new MinMaxScaler.
func NewMinMaxScaler() *MinMaxScaler {
	return &MinMaxScaler{state: model.NewStateManager()}
}

// IsFitted returns whether Fit has been called.
func (s *MinMaxScaler) IsFitted() bool {
	return s.state.IsFitted()
}

// Fit learns the per-feature minimum and range from X.
func (s *MinMaxScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("MinMaxScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.NFeatures = c
	s.Min = make([]float64, c)
	s.Scale = make([]float64, c)

	for j := 0; j < c; j++ {
		minV, maxV := X.At(0, j), X.At(0, j)
		for i := 1; i < r; i++ {
			v := X.At(i, j)
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
		s.Min[j] = minV
		if maxV-minV < 1e-12 {
			s.Scale[j] = 0 // constant feature maps to 0
		} else {
			s.Scale[j] = 1 / (maxV - minV)
		}
	}

	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// Transform rescales X with the learned minimum and range.
func (s *MinMaxScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if !s.state.IsFitted() {
		return nil, errors.NewNotFittedError("MinMaxScaler", "Transform")
	}

	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("MinMaxScaler.Transform", s.NFeatures, c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, (X.At(i, j)-s.Min[j])*s.Scale[j])
		}
	}
	return result, nil
}

// FitTransform runs Fit and Transform in one call.
func (s *MinMaxScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// StandardScaler standardizes features to mean 0 and standard deviation 1.
type StandardScaler struct {
	state *model.StateManager

	// Mean is the per-feature mean observed during Fit.
	Mean []float64

	// Scale is the per-feature standard deviation.
	Scale []float64

	// NFeatures is the number of features seen during Fit.
	NFeatures int

	// WithMean controls whether the mean is subtracted (default: true).
	WithMean bool

	// WithStd controls whether values are divided by the standard
	// deviation (default: true).
	WithStd bool
}

// NewStandardScaler creates a StandardScaler with the given centering and
// scaling behavior.
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		state:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault creates a StandardScaler that both centers and
// scales.
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// IsFitted returns whether Fit has been called.
func (s *StandardScaler) IsFitted() bool {
	return s.state.IsFitted()
}

// Fit computes the per-feature mean and standard deviation of X.
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.NFeatures = c
	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	if s.WithMean {
		for j := 0; j < c; j++ {
			sum := 0.0
			for i := 0; i < r; i++ {
				sum += X.At(i, j)
			}
			s.Mean[j] = sum / float64(r)
		}
	}

	if s.WithStd {
		for j := 0; j < c; j++ {
			sumSquares := 0.0
			for i := 0; i < r; i++ {
				diff := X.At(i, j) - s.Mean[j]
				sumSquares += diff * diff
			}
			variance := sumSquares / float64(r)
			s.Scale[j] = math.Sqrt(variance)

			// Guard against division by zero on constant features.
			if math.Abs(s.Scale[j]) < 1e-8 {
				s.Scale[j] = 1.0
			}
		}
	} else {
		for j := 0; j < c; j++ {
			s.Scale[j] = 1.0
		}
	}

	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// Transform standardizes X with the learned statistics.
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if !s.state.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "Transform")
	}

	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("StandardScaler.Transform", s.NFeatures, c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			result.Set(i, j, (X.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return result, nil
}

// FitTransform runs Fit and Transform in one call.
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}
