// Package stats holds the small distributional helpers shared by the
// runtime drift monitor and the offline shadow-log auditor.
package stats

import (
	"math"
	"sort"
)

const epsilon = 1e-4

// PSI computes the population stability index between an expected and an
// actual sample over equal-width bins spanning the combined range:
//
//	PSI = sum((a_i - e_i) * ln(a_i / e_i))
//
// Bin proportions are floored at a small epsilon so empty bins do not
// blow up the logarithm. By convention <0.1 is stable, >0.25 is a shift.
func PSI(expected, actual []float64, bins int) float64 {
	if len(expected) == 0 || len(actual) == 0 || bins <= 0 {
		return 0
	}

	lo, hi := expected[0], expected[0]
	for _, v := range expected {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	for _, v := range actual {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi == lo {
		return 0
	}

	e := proportions(expected, lo, hi, bins)
	a := proportions(actual, lo, hi, bins)

	psi := 0.0
	for i := 0; i < bins; i++ {
		ei := math.Max(e[i], epsilon)
		ai := math.Max(a[i], epsilon)
		psi += (ai - ei) * math.Log(ai/ei)
	}
	return psi
}

func proportions(values []float64, lo, hi float64, bins int) []float64 {
	counts := make([]float64, bins)
	width := (hi - lo) / float64(bins)
	for _, v := range values {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}
	total := float64(len(values))
	for i := range counts {
		counts[i] /= total
	}
	return counts
}

// ShannonEntropy computes the entropy in bits of the histogram of values
// over equal-width bins: H = -sum(p * log2(p)).
func ShannonEntropy(values []float64, bins int) float64 {
	if len(values) == 0 || bins <= 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	if hi == lo {
		return 0
	}
	p := proportions(values, lo, hi, bins)
	h := 0.0
	for _, pi := range p {
		if pi > 0 {
			h -= pi * math.Log2(pi)
		}
	}
	return h
}

// Percentile returns the p-th percentile (0–100) using nearest-rank on a
// copy of the input; the input is left unsorted.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// Variance returns the population variance.
func Variance(values []float64) float64 {
	n := float64(len(values))
	if n == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= n
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / n
}
