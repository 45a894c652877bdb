package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"AgroPulse/internal/domain/service"
)

// minColumnStd marks a feature column as constant, relative to its magnitude.
// Constant columns carry no information once centered and are excluded from the solve.
const minColumnStd = 1e-9

var errSingularDesign = errors.New("regression design matrix is singular")

// RidgeRegression fits y ~ X with an L2 penalty on standardized features.
// The intercept is not penalized.
type RidgeRegression struct {
	Lambda float64
}

var _ service.Trainable = (*RidgeRegression)(nil)

func NewRidgeRegression(lambda float64) *RidgeRegression {
	return &RidgeRegression{Lambda: lambda}
}

// LinearModel is a fitted linear predictor in original feature units.
type LinearModel struct {
	intercept float64
	weights   []float64
}

var _ service.Predictor = (*LinearModel)(nil)

func (m *LinearModel) Predict(x []float64) float64 {
	y := m.intercept
	for j, w := range m.weights {
		if j < len(x) {
			y += w * x[j]
		}
	}
	return y
}

func (m *LinearModel) Coefficients() []float64 {
	out := make([]float64, 0, len(m.weights)+1)
	out = append(out, m.intercept)
	return append(out, m.weights...)
}

// NewLinearModel rebuilds a model from Coefficients output.
func NewLinearModel(coefficients []float64) *LinearModel {
	if len(coefficients) == 0 {
		return &LinearModel{}
	}
	return &LinearModel{
		intercept: coefficients[0],
		weights:   append([]float64(nil), coefficients[1:]...),
	}
}

func (r *RidgeRegression) Fit(ctx context.Context, X [][]float64, y []float64) (service.Predictor, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("ridge fit: %d rows, %d targets", n, len(y))
	}
	p := len(X[0])
	if p == 0 {
		return nil, fmt.Errorf("ridge fit: no feature columns")
	}
	for i := range X {
		if len(X[i]) != p {
			return nil, fmt.Errorf("ridge fit: row %d has %d columns, want %d", i, len(X[i]), p)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	means := make([]float64, p)
	scales := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := 0; i < n; i++ {
			col[i] = X[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		means[j] = mean
		if std > minColumnStd*math.Max(1, math.Abs(mean)) && !math.IsNaN(std) {
			scales[j] = std
		}
	}
	yMean := stat.Mean(y, nil)

	Z := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			if scales[j] > 0 {
				Z.Set(i, j, (X[i][j]-means[j])/scales[j])
			}
		}
		yc.SetVec(i, y[i]-yMean)
	}

	// (ZᵀZ + λI) β = Zᵀy
	var gram mat.SymDense
	gram.SymOuterK(1, Z.T())
	for j := 0; j < p; j++ {
		d := gram.At(j, j) + r.Lambda
		if scales[j] == 0 {
			// keep excluded columns out of the system without breaking definiteness
			d = 1
		}
		gram.SetSym(j, j, d)
	}
	var rhs mat.VecDense
	rhs.MulVec(Z.T(), yc)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, errSingularDesign
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}

	m := &LinearModel{intercept: yMean, weights: make([]float64, p)}
	for j := 0; j < p; j++ {
		if scales[j] == 0 {
			continue
		}
		w := beta.AtVec(j) / scales[j]
		m.weights[j] = w
		m.intercept -= w * means[j]
	}
	return m, nil
}

// MeanAbsoluteError of predictions against actuals.
func MeanAbsoluteError(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	sum := 0.0
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual))
}

// RSquared is 1 - SSres/SStot. A constant target yields 1 when it is
// predicted exactly and 0 otherwise.
func RSquared(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	mean := stat.Mean(actual, nil)
	var ssRes, ssTot float64
	for i := range actual {
		d := actual[i] - predicted[i]
		ssRes += d * d
		t := actual[i] - mean
		ssTot += t * t
	}
	if ssTot == 0 {
		if ssRes < 1e-18 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
