package contour

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// VoicedValues returns the non-NaN values of v.
func VoicedValues(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

// CountVoiced returns the number of non-NaN values in v.
func CountVoiced(v []float64) int {
	n := 0
	for _, x := range v {
		if !math.IsNaN(x) {
			n++
		}
	}
	return n
}

// CenterVoiced subtracts the mean of the voiced values in place, leaving NaNs untouched.
// It returns the mean that was removed, or NaN when nothing is voiced.
func CenterVoiced(v []float64) float64 {
	voiced := VoicedValues(v)
	if len(voiced) == 0 {
		return math.NaN()
	}
	mean := stat.Mean(voiced, nil)
	for i := range v {
		if !math.IsNaN(v[i]) {
			v[i] -= mean
		}
	}
	return mean
}

// Joint returns the pairs (a[i], b[i]) where both values are defined.
func Joint(a, b []float64) (x, y []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		x = append(x, a[i])
		y = append(y, b[i])
	}
	return x, y
}

// MinCorrelationSamples is the fewest paired samples a correlation is defined on.
const MinCorrelationSamples = 3

// Pearson returns the correlation of x and y and whether it is defined.
// It is undefined for fewer than MinCorrelationSamples points or when
// either series is constant.
func Pearson(x, y []float64) (float64, bool) {
	if len(x) < MinCorrelationSamples || len(x) != len(y) {
		return 0, false
	}
	if constant(x) || constant(y) {
		return 0, false
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0, false
	}
	return clamp(r, -1, 1), true
}

// Cosine returns the cosine similarity of the mean-centred, unit-normalized
// series x and y and whether it is defined.
func Cosine(x, y []float64) (float64, bool) {
	if len(x) < MinCorrelationSamples || len(x) != len(y) {
		return 0, false
	}
	cx := centred(x)
	cy := centred(y)
	nx, ny := floats.Norm(cx, 2), floats.Norm(cy, 2)
	if nx == 0 || ny == 0 {
		return 0, false
	}
	return clamp(floats.Dot(cx, cy)/(nx*ny), -1, 1), true
}

func centred(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	floats.AddConst(-stat.Mean(v, nil), out)
	return out
}

func constant(v []float64) bool {
	for _, x := range v[1:] {
		if math.Abs(x-v[0]) > 1e-12 {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Median returns the median of the voiced values, or NaN when none are voiced.
func Median(v []float64) float64 {
	voiced := VoicedValues(v)
	if len(voiced) == 0 {
		return math.NaN()
	}
	sort.Float64s(voiced)
	return stat.Quantile(0.5, stat.Empirical, voiced, nil)
}
