// Package stats contains robust statistical primitives used by the
// detection pipeline: median/MAD based statistics, correlation, trend
// estimation and smoothing. This is a pure domain layer with zero
// external dependencies.
package stats

import (
	"math"
	"sort"
)

// ModifiedZCutoff is the |z| threshold above which a point is treated
// as an outlier on the median/MAD basis (Iglewicz-Hoaglin).
const ModifiedZCutoff = 3.5

// madConsistency scales MAD to the standard deviation of a normal
// distribution (1/1.4826 = 0.6745).
const madConsistency = 0.6745

// iqrFromMADFactor approximates IQR from MAD for a normal distribution.
const iqrFromMADFactor = 1.349

// Clamp01 clamps v into [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleVariance returns the unbiased sample variance, or 0 when fewer
// than two values are present.
func SampleVariance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values)-1)
}

// MinMax returns the minimum and maximum of values. Both are 0 for an
// empty slice.
func MinMax(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Median returns the median of values, or 0 for an empty slice.
// The input slice is not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the median absolute deviation around the median.
func MAD(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	med := Median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	return Median(deviations)
}

// IQRFromMAD approximates the interquartile range from the MAD
// assuming near-normal data (IQR ≈ 1.349 × MAD).
func IQRFromMAD(mad float64) float64 {
	return iqrFromMADFactor * mad
}

// RobustSigma converts a MAD into a consistent estimate of the
// standard deviation.
func RobustSigma(mad float64) float64 {
	if mad <= 0 {
		return 0
	}
	return mad / madConsistency
}

// ModifiedZ computes the modified z-score of v against the given
// median and MAD. Returns 0 when MAD is zero (constant series).
func ModifiedZ(v, median, mad float64) float64 {
	if mad == 0 {
		return 0
	}
	return madConsistency * (v - median) / mad
}

// FilterOutliers removes values whose modified z-score exceeds the
// cutoff. It returns the clean values, the indices of the values kept
// (into the original slice) and the number of removed points.
func FilterOutliers(values []float64) (clean []float64, kept []int, removed int) {
	if len(values) == 0 {
		return nil, nil, 0
	}
	med := Median(values)
	mad := MAD(values)

	clean = make([]float64, 0, len(values))
	kept = make([]int, 0, len(values))
	for i, v := range values {
		if math.Abs(ModifiedZ(v, med, mad)) > ModifiedZCutoff {
			removed++
			continue
		}
		clean = append(clean, v)
		kept = append(kept, i)
	}
	return clean, kept, removed
}

// Pearson returns the Pearson correlation coefficient between x and y.
// Returns 0 when fewer than two pairs exist or either series is
// constant. Only the first min(len(x), len(y)) pairs are used.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < 2 {
		return 0
	}

	mx := Mean(x[:n])
	my := Mean(y[:n])

	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		dy := y[i] - my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}

// Slope returns the least-squares slope of values over their indices
// (one unit per point). Returns 0 for fewer than two points.
func Slope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	// x = 0..n-1, so mean(x) = (n-1)/2.
	mx := float64(n-1) / 2
	my := Mean(values)

	var num, den float64
	for i, v := range values {
		dx := float64(i) - mx
		num += dx * (v - my)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// EWMA returns the exponentially weighted moving average series of
// values with smoothing factor alpha in (0, 1]. The returned slice has
// the same length as the input.
func EWMA(values []float64, alpha float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}
