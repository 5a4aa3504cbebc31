package estimator

import (
	"errors"
	"fmt"
	"math"
)

// errSingular indicates the normal equations could not be solved; callers
// fall back to their deterministic estimate.
var errSingular = errors.New("singular design matrix")

// linearModel is an ordinary least squares fit with intercept.
type linearModel struct {
	intercept float64
	coeffs    []float64
}

// fitLinear solves the normal equations (X'X)b = X'y by Gaussian elimination
// with partial pivoting. X rows are feature vectors without the intercept
// column; the intercept is added here.
func fitLinear(x [][]float64, y []float64) (*linearModel, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("bad training shape: %d rows, %d labels", len(x), len(y))
	}

	dims := len(x[0]) + 1 // leading intercept column
	xtx := make([][]float64, dims)
	for i := range xtx {
		xtx[i] = make([]float64, dims)
	}
	xty := make([]float64, dims)

	row := make([]float64, dims)
	for r, feats := range x {
		if len(feats) != dims-1 {
			return nil, fmt.Errorf("row %d has %d features, want %d", r, len(feats), dims-1)
		}
		row[0] = 1
		copy(row[1:], feats)
		for i := 0; i < dims; i++ {
			for j := 0; j < dims; j++ {
				xtx[i][j] += row[i] * row[j]
			}
			xty[i] += row[i] * y[r]
		}
	}

	beta, err := solveLinearSystem(xtx, xty)
	if err != nil {
		return nil, err
	}
	return &linearModel{intercept: beta[0], coeffs: beta[1:]}, nil
}

func (m *linearModel) predict(features []float64) float64 {
	out := m.intercept
	for i, f := range features {
		out += m.coeffs[i] * f
	}
	return out
}

func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	// Augment in place on copies.
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n+1)
		copy(m[i], a[i])
		m[i][n] = b[i]
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, errSingular
		}
		m[col], m[pivot] = m[pivot], m[col]

		for r := col + 1; r < n; r++ {
			factor := m[r][col] / m[col][col]
			for c := col; c <= n; c++ {
				m[r][c] -= factor * m[col][c]
			}
		}
	}

	out := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := m[r][n]
		for c := r + 1; c < n; c++ {
			sum -= m[r][c] * out[c]
		}
		out[r] = sum / m[r][r]
	}
	return out, nil
}

// logisticModel is a binary logistic regression fit by batch gradient
// descent on standardized features.
type logisticModel struct {
	intercept float64
	coeffs    []float64
	means     []float64
	scales    []float64
}

const (
	logisticIters = 300
	logisticRate  = 0.1
	logisticL2    = 0.01
)

// fitLogistic trains a regularized logistic classifier. Labels must be 0 or 1.
func fitLogistic(x [][]float64, y []float64) (*logisticModel, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("bad training shape: %d rows, %d labels", len(x), len(y))
	}

	dims := len(x[0])
	means, scales := columnStats(x)

	scaled := make([][]float64, len(x))
	for r, feats := range x {
		if len(feats) != dims {
			return nil, fmt.Errorf("row %d has %d features, want %d", r, len(feats), dims)
		}
		row := make([]float64, dims)
		for c, f := range feats {
			row[c] = (f - means[c]) / scales[c]
		}
		scaled[r] = row
	}

	m := &logisticModel{
		coeffs: make([]float64, dims),
		means:  means,
		scales: scales,
	}

	n := float64(len(scaled))
	for iter := 0; iter < logisticIters; iter++ {
		gradB := 0.0
		grad := make([]float64, dims)
		for r, row := range scaled {
			p := sigmoid(m.intercept + dot(m.coeffs, row))
			err := p - y[r]
			gradB += err
			for c, f := range row {
				grad[c] += err * f
			}
		}
		m.intercept -= logisticRate * gradB / n
		for c := range m.coeffs {
			m.coeffs[c] -= logisticRate * (grad[c]/n + logisticL2*m.coeffs[c])
		}
	}

	if math.IsNaN(m.intercept) {
		return nil, fmt.Errorf("logistic fit diverged")
	}
	return m, nil
}

// predictProba returns P(label == 1) for a raw (unscaled) feature vector.
func (m *logisticModel) predictProba(features []float64) float64 {
	z := m.intercept
	for c, f := range features {
		z += m.coeffs[c] * (f - m.means[c]) / m.scales[c]
	}
	return sigmoid(z)
}

func columnStats(x [][]float64) (means, scales []float64) {
	dims := len(x[0])
	means = make([]float64, dims)
	scales = make([]float64, dims)
	n := float64(len(x))

	for _, row := range x {
		for c, f := range row {
			means[c] += f
		}
	}
	for c := range means {
		means[c] /= n
	}
	for _, row := range x {
		for c, f := range row {
			d := f - means[c]
			scales[c] += d * d
		}
	}
	for c := range scales {
		scales[c] = math.Sqrt(scales[c] / n)
		if scales[c] < 1e-12 {
			scales[c] = 1 // constant column, leave centered values at zero
		}
	}
	return means, scales
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func dot(a, b []float64) float64 {
	out := 0.0
	for i := range a {
		out += a[i] * b[i]
	}
	return out
}
