// Package metrics scores how well a moving volume matches a static one.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"regoverlay/internal/models"
)

// Metrics holds similarity measures between the static and moving volumes.
// Both volumes are rescaled to [0,1] before comparison.
type Metrics struct {
	// MI is a Gaussian approximation of the mutual information. Higher
	// values indicate a stronger statistical dependency.
	MI float64

	// EntropyDiff is the absolute difference of the Shannon entropies.
	EntropyDiff float64

	// RMSE is the root mean square intensity difference.
	RMSE float64

	// SSIM is the global structural similarity index in [-1, 1].
	SSIM float64

	// Correlation is the Pearson correlation coefficient.
	Correlation float64
}

// Compute compares two volumes of the same shape
func Compute(static, moving *models.Volume) (Metrics, error) {
	if static.Shape() != moving.Shape() {
		return Metrics{}, fmt.Errorf("shape mismatch: %v vs %v", static.Shape(), moving.Shape())
	}
	if len(static.Data) == 0 {
		return Metrics{}, fmt.Errorf("empty volumes")
	}

	a := unitScale(static.Data)
	b := unitScale(moving.Data)

	m := Metrics{
		MI:          mutualInformation(a, b),
		EntropyDiff: math.Abs(entropy(a) - entropy(b)),
		RMSE:        rmse(a, b),
		SSIM:        ssim(a, b),
	}
	if stat.Variance(a, nil) > 0 && stat.Variance(b, nil) > 0 {
		m.Correlation = stat.Correlation(a, b, nil)
	}
	return m, nil
}

// unitScale rescales data to [0,1]; constant data maps to zero
func unitScale(data []float64) []float64 {
	out := make([]float64, len(data))
	lo, hi := floats.Min(data), floats.Max(data)
	if hi <= lo {
		return out
	}
	for i, v := range data {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// mutualInformation uses MI = 0.5 * log(var(X) var(Y) / (var(X) var(Y) - cov(X,Y)^2)),
// which is exact for jointly Gaussian variables
func mutualInformation(x, y []float64) float64 {
	varX := stat.PopVariance(x, nil)
	varY := stat.PopVariance(y, nil)
	if varX == 0 || varY == 0 {
		return 0
	}

	meanX, meanY := stat.Mean(x, nil), stat.Mean(y, nil)
	covar := 0.0
	for i := range x {
		covar += (x[i] - meanX) * (y[i] - meanY)
	}
	covar /= float64(len(x))

	determinant := varX*varY - covar*covar
	if determinant <= 0 {
		// perfectly dependent
		return math.Inf(1)
	}
	return 0.5 * math.Log(varX*varY/determinant)
}

func rmse(x, y []float64) float64 {
	return floats.Distance(x, y, 2) / math.Sqrt(float64(len(x)))
}

// ssim computes the structural similarity over the whole volume
func ssim(x, y []float64) float64 {
	const (
		L  = 1.0
		k1 = 0.01
		k2 = 0.03
	)
	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)
	if len(x) < 2 {
		sigmaX, sigmaY, sigmaXY = 0, 0, 0
	}

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	return num / den
}

// entropy computes the Shannon entropy of data in [0,1] over 256 bins
func entropy(data []float64) float64 {
	const numBins = 256

	hist := make([]float64, numBins)
	for _, v := range data {
		bin := int(v * numBins)
		if bin >= numBins {
			bin = numBins - 1
		} else if bin < 0 {
			bin = 0
		}
		hist[bin]++
	}

	n := float64(len(data))
	h := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / n
			h -= p * math.Log2(p)
		}
	}
	return h
}
