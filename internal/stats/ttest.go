package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TTest is the independent two-sample student's t test with pooled
// variance.
type TTest struct{}

// Name implements Tester.
func (TTest) Name() string { return "t" }

// Test returns the two-sided p value of the null hypothesis that both
// samples have the same mean. Samples without any variance degenerate
// to a plain mean comparison.
func (TTest) Test(a, b []float64) float64 {
	n1, n2 := float64(len(a)), float64(len(b))
	if n1 < 2 || n2 < 2 {
		return math.NaN()
	}
	mean1, var1 := stat.MeanVariance(a, nil)
	mean2, var2 := stat.MeanVariance(b, nil)
	df := n1 + n2 - 2
	pooled := ((n1-1)*var1 + (n2-1)*var2) / df
	denom := math.Sqrt(pooled * (1/n1 + 1/n2))
	if denom == 0 {
		if mean1 == mean2 {
			return 1
		}
		return 0
	}
	t := (mean1 - mean2) / denom
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.CDF(-math.Abs(t))
}
