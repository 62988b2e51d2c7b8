package stats

import (
	"math"
	"slices"
	"sort"
)

// AndersonDarling is the Anderson-Darling k-sample test (Scholz &
// Stephens, 1987) applied to two samples.
type AndersonDarling struct{}

// Name implements Tester.
func (AndersonDarling) Name() string { return "anderson" }

// Test returns an approximate p value derived from the standardized
// k-sample Anderson-Darling statistic. The approximation interpolates
// the published critical value table, so p values far outside
// [0.001, 0.25] are extrapolated and should be read as "clearly beyond
// the table"; they are clamped to [0, 1].
func (AndersonDarling) Test(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.NaN()
	}
	if slices.Equal(a, b) {
		// The table extrapolation is unreliable for the extremely
		// negative statistics identical samples produce.
		return 1
	}
	tm, ok := standardizedADStatistic([][]float64{a, b})
	if !ok {
		return math.NaN()
	}
	return adPValue(tm, 2)
}

// standardizedADStatistic computes (A2kN - (k-1)) / sigmaN for the
// continuous-distribution variant of the k-sample statistic.
func standardizedADStatistic(samples [][]float64) (float64, bool) {
	k := len(samples)
	var pooled []float64
	for _, s := range samples {
		pooled = append(pooled, s...)
	}
	n := len(pooled)
	if n < k+2 {
		return 0, false
	}
	sort.Float64s(pooled)

	a2 := 0.0
	for _, s := range samples {
		sorted := append([]float64(nil), s...)
		sort.Float64s(sorted)
		ni := float64(len(s))
		inner := 0.0
		mij := 0.0
		idx := 0
		for j := 1; j <= n-1; j++ {
			z := pooled[j-1]
			for idx < len(sorted) && sorted[idx] <= z {
				mij++
				idx++
			}
			fj := float64(j)
			diff := float64(n)*mij - fj*ni
			inner += diff * diff / (fj * (float64(n) - fj))
		}
		a2 += inner / ni
	}
	a2 /= float64(n)

	// Standardization terms from Scholz & Stephens.
	bigH := 0.0
	for _, s := range samples {
		bigH += 1 / float64(len(s))
	}
	h := 0.0
	for j := 1; j <= n-1; j++ {
		h += 1 / float64(j)
	}
	g := 0.0
	for i := 1; i <= n-2; i++ {
		for j := i + 1; j <= n-1; j++ {
			g += 1 / (float64(n-i) * float64(j))
		}
	}
	kf := float64(k)
	nf := float64(n)
	ca := (4*g-6)*(kf-1) + (10-6*g)*bigH
	cb := (2*g-4)*kf*kf + 8*h*kf + (2*g-14*h-4)*bigH - 8*h + 4*g - 6
	cc := (6*h+2*g-2)*kf*kf + (4*h-4*g+6)*kf + (2*h-6)*bigH + 16*h
	cd := (2*h+6)*kf*kf - 4*h*kf
	sigmaSq := (ca*nf*nf*nf + cb*nf*nf + cc*nf + cd) /
		((nf - 1) * (nf - 2) * (nf - 3))
	if sigmaSq <= 0 {
		return 0, false
	}
	return (a2 - (kf - 1)) / math.Sqrt(sigmaSq), true
}

// Critical value coefficients tm = b0 + b1/sqrt(m) + b2/m for the
// significance levels in adSigLevels, from Scholz & Stephens table 2.
var (
	adSigLevels = []float64{0.25, 0.10, 0.05, 0.025, 0.01, 0.005, 0.001}
	adB0        = []float64{0.675, 1.281, 1.645, 1.960, 2.326, 2.573, 3.085}
	adB1        = []float64{-0.245, 0.250, 0.678, 1.149, 1.822, 2.364, 3.615}
	adB2        = []float64{-0.105, -0.305, -0.362, -0.391, -0.396, -0.345, -0.154}
)

// adPValue interpolates the significance level for the standardized
// statistic tm with m = k-1 degrees of freedom by fitting a quadratic to
// the (critical value, log p) pairs of the published table.
func adPValue(tm float64, k int) float64 {
	m := float64(k - 1)
	xs := make([]float64, len(adSigLevels))
	ys := make([]float64, len(adSigLevels))
	for i := range adSigLevels {
		xs[i] = adB0[i] + adB1[i]/math.Sqrt(m) + adB2[i]/m
		ys[i] = math.Log(adSigLevels[i])
	}
	// Outside the table the quadratic extrapolation is meaningless, so
	// the p value is capped at the table boundaries.
	if tm >= xs[len(xs)-1] {
		return adSigLevels[len(adSigLevels)-1]
	}
	if tm <= xs[0] {
		return adSigLevels[0]
	}
	c0, c1, c2, ok := quadraticFit(xs, ys)
	if !ok {
		return math.NaN()
	}
	p := math.Exp(c0 + c1*tm + c2*tm*tm)
	return math.Max(0, math.Min(1, p))
}

// quadraticFit solves the least squares fit y = c0 + c1 x + c2 x^2 via
// the normal equations.
func quadraticFit(xs, ys []float64) (c0, c1, c2 float64, ok bool) {
	var s [5]float64
	var t [3]float64
	for i, x := range xs {
		xp := 1.0
		for j := 0; j < 5; j++ {
			s[j] += xp
			if j < 3 {
				t[j] += xp * ys[i]
			}
			xp *= x
		}
	}
	// 3x3 system [s0 s1 s2; s1 s2 s3; s2 s3 s4] * c = t.
	a := [3][4]float64{
		{s[0], s[1], s[2], t[0]},
		{s[1], s[2], s[3], t[1]},
		{s[2], s[3], s[4], t[2]},
	}
	for col := 0; col < 3; col++ {
		pivot := col
		for r := col + 1; r < 3; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		a[col], a[pivot] = a[pivot], a[col]
		if a[col][col] == 0 {
			return 0, 0, 0, false
		}
		for r := 0; r < 3; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for cc := col; cc < 4; cc++ {
				a[r][cc] -= f * a[col][cc]
			}
		}
	}
	return a[0][3] / a[0][0], a[1][3] / a[1][1], a[2][3] / a[2][2], true
}
