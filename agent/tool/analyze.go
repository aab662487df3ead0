package tool

import (
	"fmt"
	"math"
	"sort"
)

const flatTolerance = 0.01

func valueRange(v []float64) (lo, hi float64) {
	if len(v) == 0 {
		return 0, 0
	}
	lo, hi = v[0], v[0]
	for _, f := range v[1:] {
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	return lo, hi
}

// trend compares the first and last value of a series.
func trend(y []float64) string {
	switch {
	case len(y) == 0:
		return "empty"
	case len(y) == 1:
		return "single_point"
	}
	diff := y[len(y)-1] - y[0]
	switch {
	case math.Abs(diff) < flatTolerance:
		return "constant"
	case diff > 0:
		return "increasing"
	default:
		return "decreasing"
	}
}

func analyzeSeries(x, y []float64, xName, yName string) map[string]any {
	lo, hi := valueRange(y)
	xlo, xhi := valueRange(x)
	t := trend(y)
	return map[string]any{
		"total_points": len(y),
		"y_range":      []float64{lo, hi},
		"x_range":      []float64{xlo, xhi},
		"trend":        t,
		"description": fmt.Sprintf(
			"Line chart showing %s values ranging from %s to %s plotted against %s (%s to %s). Trend: %s across %d points.",
			yName, formatNumber(lo), formatNumber(hi), xName, formatNumber(xlo), formatNumber(xhi), t, len(y)),
	}
}

type valueCount struct {
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// valueCounts returns counts sorted by descending frequency, ties by value.
func valueCounts(v []float64) []valueCount {
	counts := map[float64]int{}
	for _, f := range v {
		counts[f]++
	}
	out := make([]valueCount, 0, len(counts))
	for val, n := range counts {
		out = append(out, valueCount{Value: val, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func analyzeDistribution(v []float64, name string, bins int) map[string]any {
	lo, hi := valueRange(v)
	counts := valueCounts(v)
	top := counts
	if len(top) > 10 {
		top = top[:10]
	}
	return map[string]any{
		"total_points": len(v),
		"num_unique":   len(counts),
		"value_counts": top,
		"range":        []float64{lo, hi},
		"bins":         bins,
		"description": fmt.Sprintf(
			"Histogram of %s with %d observations and %d distinct values ranging from %s to %s.",
			name, len(v), len(counts), formatNumber(lo), formatNumber(hi)),
	}
}

// correlation is the Pearson coefficient of two equal-length series. It is NaN
// when either series is constant.
func correlation(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return math.NaN()
	}
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= float64(n)
	mb /= float64(n)

	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(va*vb)
}

func analyzeComparison(actual, predicted []float64, actualName string) map[string]any {
	alo, ahi := valueRange(actual)
	plo, phi := valueRange(predicted)
	var mae float64
	for i := range actual {
		mae += math.Abs(actual[i] - predicted[i])
	}
	if len(actual) > 0 {
		mae /= float64(len(actual))
	}

	out := map[string]any{
		"total_points":   len(actual),
		"y1_range":       []float64{alo, ahi},
		"y2_range":       []float64{plo, phi},
		"mean_abs_error": mae,
		"description": fmt.Sprintf(
			"Comparison of %s (%s to %s) against predicted RUL (%s to %s) over %d units, mean absolute error %s.",
			actualName, formatNumber(alo), formatNumber(ahi), formatNumber(plo), formatNumber(phi), len(actual), formatNumber(math.Round(mae*100)/100)),
	}
	if r := correlation(actual, predicted); !math.IsNaN(r) {
		out["correlation"] = r
	}
	return out
}
