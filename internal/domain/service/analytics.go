package service

import (
	"context"
)

// Predictor is a fitted model applied to one feature row.
type Predictor interface {
	Predict(x []float64) float64
	// Coefficients returns the fitted parameters, intercept first.
	Coefficients() []float64
}

// Trainable fits a regression of y on the rows of X.
type Trainable interface {
	Fit(ctx context.Context, X [][]float64, y []float64) (Predictor, error)
}

// Scorable scores a value against a trailing history.
// ok is false when the history is too short to hold an expectation.
type Scorable interface {
	Score(history []float64, x float64) (score, expected float64, ok bool)
}

// Partition is the outcome of a clustering pass.
type Partition struct {
	Labels    []int
	Centroids [][]float64
	Inertia   float64
}

// Clusterable partitions points into k groups.
type Clusterable interface {
	Partition(ctx context.Context, points [][]float64, k int) (Partition, error)
}
