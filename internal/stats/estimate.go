package stats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/optimize"
)

// RunsUnknown is returned by EstimateNeededRuns when no projection could
// be made.
const RunsUnknown = math.MaxInt

// EstimateNeededRuns projects how many runs per block are needed until
// the p value for the two samples leaves the uncertainty range. It fits
// an exponential decay a*exp(-b*n)+c to the p values of growing sample
// prefixes and scans the fitted curve forward in steps of binSize.
//
// This is a best-effort heuristic, not correctness critical: on fit
// failure it returns RunsUnknown, and its predictions are only used to
// decide whether starting another round is worthwhile.
func EstimateNeededRuns(c *Classifier, a, b []float64, binSize, minRuns, maxRuns int) int {
	if slices.Equal(a, b) {
		return minRuns
	}
	minLen := min(len(a), len(b))
	if minLen <= 5 {
		return maxRuns
	}
	if binSize <= 0 {
		binSize = 1
	}

	// p value of every prefix, starting at two samples.
	ps := make([]float64, 0, minLen-2)
	xs := make([]float64, 0, minLen-2)
	for i := 2; i < minLen; i++ {
		p := c.Test(a[:i], b[:i])
		if math.IsNaN(p) {
			return RunsUnknown
		}
		ps = append(ps, p)
		xs = append(xs, float64(i-2))
	}

	decay := func(x float64, p []float64) float64 {
		return p[0]*math.Exp(-p[1]*x) + p[2]
	}
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			sse := 0.0
			for i, x := range xs {
				d := decay(x, p) - ps[i]
				sse += d * d
			}
			return sse
		},
	}
	result, err := optimize.Minimize(problem, []float64{ps[0], 0.1, ps[len(ps)-1]}, nil, &optimize.NelderMead{})
	if err != nil || result == nil || !isFinite(result.X) {
		return RunsUnknown
	}

	for i := minLen; i <= maxRuns; i += binSize {
		p := decay(float64(i-2), result.X)
		if p > c.hi || p < c.lo {
			return i
		}
	}
	return maxRuns
}

func isFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
