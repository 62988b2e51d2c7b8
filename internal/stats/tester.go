// Package stats implements the statistical testers that drive the
// convergence decisions of the benchmarking loop. A tester computes the
// probability of the null hypothesis ("both samples stem from the same
// distribution") for two sample sets; a classifier turns that
// probability into an equal/unequal/uncertain verdict against a
// configured uncertainty range.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Tester computes the probability of the null hypothesis for two
// same-length sample sets.
type Tester interface {
	// Test returns the p value for the two samples. Implementations may
	// assume both slices have equal length; callers go through
	// Classifier which enforces the truncation.
	Test(a, b []float64) float64

	// Name returns the human readable name of the statistical test.
	Name() string
}

// Outcome is the classification of a pairwise comparison.
type Outcome int

const (
	// Uncertain means the p value lies inside the uncertainty range,
	// one of the samples is empty, or the test produced NaN.
	Uncertain Outcome = iota
	// Equal means the p value lies above the uncertainty range.
	Equal
	// Unequal means the p value lies below the uncertainty range.
	Unequal
)

func (o Outcome) String() string {
	switch o {
	case Equal:
		return "equal"
	case Unequal:
		return "unequal"
	default:
		return "uncertain"
	}
}

// Classifier pairs a tester with an uncertainty range (lo, hi). p values
// inside [min, max] of the range give no definitive verdict.
type Classifier struct {
	tester Tester
	lo, hi float64
}

// NewClassifier creates a classifier for the given tester and
// uncertainty range. The order of lo and hi does not matter.
func NewClassifier(tester Tester, lo, hi float64) *Classifier {
	return &Classifier{tester: tester, lo: math.Min(lo, hi), hi: math.Max(lo, hi)}
}

// TesterName returns the name of the wrapped tester.
func (c *Classifier) TesterName() string { return c.tester.Name() }

// Test computes the p value after truncating both samples to the length
// of the shorter one. The truncation is required because the underlying
// tests assume paired or at least comparable sample sizes; it
// deliberately discards tail data.
func (c *Classifier) Test(a, b []float64) float64 {
	n := min(len(a), len(b))
	return c.tester.Test(a[:n], b[:n])
}

// Classify returns exactly one of Equal, Unequal or Uncertain for the
// two samples.
func (c *Classifier) Classify(a, b []float64) Outcome {
	if min(len(a), len(b)) == 0 {
		return Uncertain
	}
	p := c.Test(a, b)
	switch {
	case math.IsNaN(p):
		return Uncertain
	case p > c.hi:
		return Equal
	case p < c.lo:
		return Unequal
	default:
		return Uncertain
	}
}

// IsUncertain reports whether the verdict for the two samples is not
// definitive.
func (c *Classifier) IsUncertain(a, b []float64) bool {
	return c.Classify(a, b) == Uncertain
}

// IsEqual reports whether the two samples are not significantly unequal.
func (c *Classifier) IsEqual(a, b []float64) bool {
	return c.Classify(a, b) == Equal
}

// IsUnequal reports whether the two samples are significantly unequal.
func (c *Classifier) IsUnequal(a, b []float64) bool {
	return c.Classify(a, b) == Unequal
}

// Registry maps tester names to factories. It is built once at startup
// and passed explicitly, never consulted through package state.
type Registry struct {
	mux       sync.RWMutex
	factories map[string]func() Tester
}

// DefaultTester is the tester used when the configuration names none.
const DefaultTester = "t"

// NewRegistry creates a registry with the built-in testers ("t", "ks"
// and "anderson") already registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]func() Tester)}
	r.Register("t", func() Tester { return TTest{} })
	r.Register("ks", func() Tester { return KolmogorovSmirnov{} })
	r.Register("anderson", func() Tester { return AndersonDarling{} })
	return r
}

// Register adds a tester factory under the given name, replacing any
// previous registration.
func (r *Registry) Register(name string, factory func() Tester) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.factories[name] = factory
}

// Lookup instantiates the tester registered under name.
func (r *Registry) Lookup(name string) (Tester, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	if name == "" {
		name = DefaultTester
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown tester %q (have %v)", name, r.names())
	}
	return factory(), nil
}

// Names returns the sorted list of registered tester names.
func (r *Registry) Names() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
