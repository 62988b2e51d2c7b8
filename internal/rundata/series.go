// Package rundata owns the measured sample series of every program
// block and answers the scheduling queries of the benchmarking loop:
// which blocks still need data, how expensive another round would be,
// and how the collected state is persisted.
package rundata

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Series is the append-only per-block collection of measured values,
// one ordered sequence per property.
type Series struct {
	// Attributes describe the program block (free form, "description"
	// is picked up for display).
	Attributes map[string]string

	// Data maps each property to its measured values. Sequences only
	// ever grow; different properties may have different lengths when
	// the property set grew over time.
	Data map[string][]float64

	// Discarded excludes the series from scheduling and reporting
	// without deleting its history.
	Discarded bool

	// External marks data merged from a prior benchmarking session.
	External bool
}

// NewSeries creates an empty series for a block with the given
// attributes.
func NewSeries(attributes map[string]string) *Series {
	return &Series{
		Attributes: attributes,
		Data:       make(map[string][]float64),
	}
}

// AddDataBlock appends one batch of measurements. Every value must be a
// finite number; the property set grows as new properties appear.
func (s *Series) AddDataBlock(data map[string][]float64) error {
	for prop, values := range data {
		if prop == "" {
			return fmt.Errorf("empty property name")
		}
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("property %q: non-finite value %v", prop, v)
			}
		}
	}
	if s.Data == nil {
		s.Data = make(map[string][]float64)
	}
	for prop, values := range data {
		s.Data[prop] = append(s.Data[prop], values...)
	}
	return nil
}

// Properties returns the sorted property names of this series.
func (s *Series) Properties() []string {
	props := make([]string, 0, len(s.Data))
	for prop := range s.Data {
		props = append(props, prop)
	}
	sort.Strings(props)
	return props
}

// MinValues returns the minimum number of measured values over all
// properties, zero for an empty series.
func (s *Series) MinValues() int {
	if len(s.Data) == 0 {
		return 0
	}
	n := math.MaxInt
	for _, values := range s.Data {
		n = min(n, len(values))
	}
	return n
}

// Benchmarks returns the maximum number of measured values over all
// properties.
func (s *Series) Benchmarks() int {
	n := 0
	for _, values := range s.Data {
		n = max(n, len(values))
	}
	return n
}

// Description renders the block attributes for humans, preferring the
// "description" attribute.
func (s *Series) Description() string {
	if d, ok := s.Attributes["description"]; ok {
		return d
	}
	keys := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, s.Attributes[k]))
	}
	return strings.Join(parts, ", ")
}
