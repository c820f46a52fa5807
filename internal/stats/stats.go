// Package stats holds the small numeric toolbox shared by the pipeline
// stages: summary statistics, histogram binning, rounding, and the
// two-sample Kolmogorov-Smirnov test used for imputation-quality checks.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Round2 rounds to two decimals, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Summary describes one numeric sample.
type Summary struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
}

// Describe computes count/mean/std/min/max. An empty sample yields NaN
// moments.
func Describe(values []float64) Summary {
	s := Summary{Count: len(values)}
	if len(values) == 0 {
		s.Mean, s.Std, s.Min, s.Max = math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return s
	}

	s.Mean = stat.Mean(values, nil)
	s.Std = stat.StdDev(values, nil)
	s.Min, s.Max = values[0], values[0]
	for _, v := range values[1:] {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	return s
}

// Histogram bins values into count equal-width bins over [min, max].
// Returns bin edges (len = bins+1) and per-bin counts.
func Histogram(values []float64, bins int) ([]float64, []int) {
	if len(values) == 0 || bins < 1 {
		return nil, nil
	}

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if min == max {
		// Degenerate sample: one bin holding everything.
		return []float64{min, max}, []int{len(values)}
	}

	edges := make([]float64, bins+1)
	width := (max - min) / float64(bins)
	for i := range edges {
		edges[i] = min + float64(i)*width
	}
	edges[bins] = max

	counts := make([]int, bins)
	for _, v := range values {
		idx := int((v - min) / width)
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	return edges, counts
}

// KSResult is the outcome of a two-sample Kolmogorov-Smirnov test.
type KSResult struct {
	Statistic float64
	PValue    float64
	N1        int
	N2        int
}

// KolmogorovSmirnov runs the two-sample KS test. The statistic is the
// supremum distance between the two empirical CDFs; the p-value uses the
// asymptotic Kolmogorov distribution with the standard small-sample
// correction. Either sample empty yields a NaN result.
func KolmogorovSmirnov(sample1, sample2 []float64) KSResult {
	n1, n2 := len(sample1), len(sample2)
	if n1 == 0 || n2 == 0 {
		return KSResult{Statistic: math.NaN(), PValue: math.NaN(), N1: n1, N2: n2}
	}

	a := append([]float64(nil), sample1...)
	b := append([]float64(nil), sample2...)
	sort.Float64s(a)
	sort.Float64s(b)

	var d float64
	i, j := 0, 0
	fn1, fn2 := float64(n1), float64(n2)
	for i < n1 || j < n2 {
		// The supremum sits at a jump of either CDF, so walk the distinct
		// values and consume every tied observation before measuring.
		var x float64
		if i < n1 && (j >= n2 || a[i] <= b[j]) {
			x = a[i]
		} else {
			x = b[j]
		}
		for i < n1 && a[i] == x {
			i++
		}
		for j < n2 && b[j] == x {
			j++
		}
		if diff := math.Abs(float64(i)/fn1 - float64(j)/fn2); diff > d {
			d = diff
		}
	}

	en := math.Sqrt(fn1 * fn2 / (fn1 + fn2))
	lambda := (en + 0.12 + 0.11/en) * d

	return KSResult{
		Statistic: d,
		PValue:    ksProbability(lambda),
		N1:        n1,
		N2:        n2,
	}
}

// ksProbability evaluates Q_KS(lambda) = 2 * sum_{j>=1} (-1)^(j-1) e^(-2 j^2 lambda^2).
func ksProbability(lambda float64) float64 {
	if lambda < 1e-9 {
		return 1
	}

	sum := 0.0
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j*j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}

	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
