package model

import "gonum.org/v1/gonum/mat"

// Fitter is the interface for models that can be trained.
type Fitter interface {
	// Fit trains the model on X (n_samples x n_features) and y (n_samples x 1).
	Fit(X, y mat.Matrix) error
}

// Predictor is the interface for models that can make predictions.
type Predictor interface {
	// Predict returns predictions for X as an n_samples x 1 matrix.
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Estimator is the minimal surface shared by all fitted models.
type Estimator interface {
	Fitter
	Predictor
	IsFitted() bool
}

// Classifier is the interface implemented by all four classifier families.
type Classifier interface {
	Estimator

	// PredictProba returns per-class probability estimates, one row per
	// sample, columns ordered by Classes().
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the sorted unique class labels seen during fitting.
	Classes() []int
}

// Transformer is the interface for stateful data transformations.
type Transformer interface {
	// Fit learns the transformation parameters from X.
	Fit(X mat.Matrix) error

	// Transform applies the learned transformation to X.
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform runs Fit and Transform in one call.
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}
