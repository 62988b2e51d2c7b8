package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaussian(r *rand.Rand, n int, mean, stddev float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + stddev*r.NormFloat64()
	}
	return out
}

func allTesters(t *testing.T) []Tester {
	t.Helper()
	reg := NewRegistry()
	var testers []Tester
	for _, name := range reg.Names() {
		tester, err := reg.Lookup(name)
		require.NoError(t, err)
		testers = append(testers, tester)
	}
	return testers
}

func TestIdenticalSamplesNeverUnequal(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	samples := [][]float64{
		{5, 5, 5, 5, 5},
		gaussian(r, 40, 10, 2),
		{1},
		{},
	}
	for _, tester := range allTesters(t) {
		c := NewClassifier(tester, 0.05, 0.15)
		for _, s := range samples {
			assert.NotEqual(t, Unequal, c.Classify(s, s),
				"tester %s classified identical samples as unequal", tester.Name())
		}
	}
}

func TestTruncationInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	a := gaussian(r, 30, 10, 1)
	b := gaussian(r, 50, 12, 1)
	k := min(len(a), len(b))
	for _, tester := range allTesters(t) {
		c := NewClassifier(tester, 0.05, 0.15)
		assert.Equal(t, c.Test(a, b), c.Test(a[:k], b[:k]), "tester %s", tester.Name())
	}
}

func TestClassifyIsExhaustiveAndExclusive(t *testing.T) {
	// A fake tester returning a fixed p lets every region of the
	// uncertainty range be probed directly.
	ps := []float64{0, 0.04999, 0.05, 0.1, 0.15, 0.15001, 0.5, 1, math.NaN()}
	want := []Outcome{Unequal, Unequal, Uncertain, Uncertain, Uncertain, Equal, Equal, Equal, Uncertain}
	sample := []float64{1, 2, 3}
	for i, p := range ps {
		c := NewClassifier(fixedTester{p: p}, 0.15, 0.05) // reversed bounds on purpose
		assert.Equal(t, want[i], c.Classify(sample, sample), "p=%v", p)
	}
}

type fixedTester struct{ p float64 }

func (f fixedTester) Test(a, b []float64) float64 { return f.p }
func (f fixedTester) Name() string                { return "fixed" }

func TestEmptySampleIsUncertain(t *testing.T) {
	for _, tester := range allTesters(t) {
		c := NewClassifier(tester, 0.05, 0.15)
		assert.Equal(t, Uncertain, c.Classify(nil, []float64{1, 2, 3}), "tester %s", tester.Name())
		assert.Equal(t, Uncertain, c.Classify([]float64{1, 2, 3}, nil), "tester %s", tester.Name())
	}
}

func TestClearlyDistinctSamples(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	a := gaussian(r, 60, 10, 0.5)
	b := gaussian(r, 60, 500, 0.5)
	for _, tester := range allTesters(t) {
		c := NewClassifier(tester, 0.05, 0.15)
		assert.Equal(t, Unequal, c.Classify(a, b), "tester %s", tester.Name())
	}
}

func TestSameDistributionIsEqualUnderT(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	a := gaussian(r, 200, 10, 1)
	b := make([]float64, len(a))
	copy(b, a)
	c := NewClassifier(TTest{}, 0.05, 0.15)
	assert.Equal(t, Equal, c.Classify(a, b))
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"anderson", "ks", "t"}, reg.Names())

	tester, err := reg.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, "t", tester.Name())

	_, err = reg.Lookup("banana")
	assert.Error(t, err)
}

func TestEstimateNeededRuns(t *testing.T) {
	c := NewClassifier(TTest{}, 0.05, 0.15)

	a := []float64{1, 2, 3, 4}
	assert.Equal(t, 7, EstimateNeededRuns(c, a, a, 1, 7, 100), "identical samples need only the floor")

	short := []float64{1, 2, 3}
	assert.Equal(t, 100, EstimateNeededRuns(c, short, []float64{4, 5, 6}, 1, 5, 100), "too few samples to fit")

	r := rand.New(rand.NewSource(5))
	x := gaussian(r, 30, 10, 1)
	y := gaussian(r, 30, 11, 1)
	got := EstimateNeededRuns(c, x, y, 5, 5, 500)
	if got != RunsUnknown {
		assert.GreaterOrEqual(t, got, len(x))
		assert.LessOrEqual(t, got, 500)
	}
}
