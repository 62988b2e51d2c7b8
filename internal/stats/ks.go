package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// KolmogorovSmirnov is the two-sample Kolmogorov-Smirnov test.
type KolmogorovSmirnov struct{}

// Name implements Tester.
func (KolmogorovSmirnov) Name() string { return "kolmogorov smirnov" }

// Test returns the asymptotic two-sided p value of the null hypothesis
// that both samples stem from the same distribution.
func (KolmogorovSmirnov) Test(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.NaN()
	}
	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)
	d := stat.KolmogorovSmirnov(x, nil, y, nil)

	n1, n2 := float64(len(x)), float64(len(y))
	en := math.Sqrt(n1 * n2 / (n1 + n2))
	// Asymptotic approximation with the small-sample correction from
	// Numerical Recipes.
	lambda := (en + 0.12 + 0.11/en) * d
	return kolmogorovQ(lambda)
}

// kolmogorovQ evaluates the survival function of the Kolmogorov
// distribution, Q(lambda) = 2 sum_{j>=1} (-1)^{j-1} exp(-2 j^2 lambda^2).
func kolmogorovQ(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}
	const (
		eps1 = 1e-3
		eps2 = 1e-8
	)
	a2 := -2 * lambda * lambda
	sum, termBF := 0.0, 0.0
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * 2 * math.Exp(a2*float64(j)*float64(j))
		sum += term
		if math.Abs(term) <= eps1*termBF || math.Abs(term) <= eps2*sum {
			return math.Max(0, math.Min(1, sum))
		}
		sign = -sign
		termBF = math.Abs(term)
	}
	// Series failed to converge; lambda is tiny, the samples are
	// practically indistinguishable.
	return 1
}
