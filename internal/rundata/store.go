package rundata

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/benchra/benchra/internal/stats"
)

// TimeProperty is the wall-time property every measurement call
// contributes; round time estimation is based on it.
const TimeProperty = "__ov-time"

// Store holds one series per program block together with per-block
// error state. All mutation happens on the controller, so the store
// needs no locking.
type Store struct {
	classifier *stats.Classifier
	series     []*Series
	errs       map[int]error

	// externalCount is the number of leading series that were merged
	// from a prior session. Block ids are offsets behind them.
	externalCount int

	propertyDescriptions map[string]string
}

// NewStore creates an empty store using the given classifier for all
// convergence queries.
func NewStore(classifier *stats.Classifier) *Store {
	return &Store{
		classifier:           classifier,
		errs:                 make(map[int]error),
		propertyDescriptions: make(map[string]string),
	}
}

// AddSeries appends an empty series for a new block and returns the
// block id. Ids are assigned in submission order, starting at zero.
// External data must be loaded before the first AddSeries call.
func (st *Store) AddSeries(attributes map[string]string) int {
	st.series = append(st.series, NewSeries(attributes))
	return len(st.series) - 1 - st.externalCount
}

// Len returns the number of non-external blocks.
func (st *Store) Len() int { return len(st.series) - st.externalCount }

// Classifier returns the classifier all convergence queries use.
func (st *Store) Classifier() *stats.Classifier { return st.classifier }

// Series returns the series of the given block.
func (st *Store) Series(id int) *Series { return st.series[id+st.externalCount] }

// AddDataBlock validates and appends one batch of measurements to the
// block's series.
func (st *Store) AddDataBlock(id int, data map[string][]float64) error {
	if err := st.checkID(id); err != nil {
		return err
	}
	return st.Series(id).AddDataBlock(data)
}

// Discard excludes the block's series from scheduling and reporting
// without deleting its history.
func (st *Store) Discard(id int) { st.Series(id).Discarded = true }

// RecordError marks the block as errored. When discardData is set the
// previously collected samples are dropped; the error record itself is
// kept and still serialized.
func (st *Store) RecordError(id int, err error, discardData bool) {
	st.errs[id] = err
	if discardData {
		st.Series(id).Data = make(map[string][]float64)
	}
}

// HasError reports whether an error was recorded for the block.
func (st *Store) HasError(id int) bool { return st.errs[id] != nil }

// BlockError returns the recorded error for the block, or nil.
func (st *Store) BlockError(id int) error { return st.errs[id] }

// ErroneousIDs returns the sorted ids of all blocks with a recorded
// error.
func (st *Store) ErroneousIDs() []int {
	ids := make([]int, 0, len(st.errs))
	for id := range st.errs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SetPropertyDescription registers a long name for a property; it is
// emitted as the trailing descriptions record on Serialize.
func (st *Store) SetPropertyDescription(property, description string) {
	st.propertyDescriptions[property] = description
}

// Properties returns the sorted intersection of the property names of
// all non-discarded series.
func (st *Store) Properties() []string {
	var props map[string]bool
	for _, s := range st.series {
		if s.Discarded {
			continue
		}
		if props == nil {
			props = make(map[string]bool)
			for _, p := range s.Properties() {
				props[p] = true
			}
			continue
		}
		for p := range props {
			if _, ok := s.Data[p]; !ok {
				delete(props, p)
			}
		}
	}
	out := make([]string, 0, len(props))
	for p := range props {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IDsNeedingMoreData returns the ids of all blocks whose verdict
// against at least one sibling is still uncertain. A pair counts as
// uncertain when either side has no samples yet (bootstrapping a fresh
// block therefore always schedules it) or when the tester is uncertain
// on any shared property. External series participate in the pairing
// but are never returned.
func (st *Store) IDsNeedingMoreData() []int {
	toBench := make(map[int]bool)
	for i, a := range st.series {
		if st.skipForScheduling(i, a) {
			continue
		}
		for j := 0; j < i; j++ {
			b := st.series[j]
			if toBench[i] && toBench[j] {
				continue
			}
			if st.skipForScheduling(j, b) {
				continue
			}
			if a.MinValues() == 0 || b.MinValues() == 0 || st.pairUncertain(a, b) {
				toBench[i] = true
				toBench[j] = true
			}
		}
	}
	var ids []int
	for i := range toBench {
		if i >= st.externalCount {
			ids = append(ids, i-st.externalCount)
		}
	}
	sort.Ints(ids)
	return ids
}

func (st *Store) skipForScheduling(index int, s *Series) bool {
	if s.Discarded {
		return true
	}
	id := index - st.externalCount
	return id >= 0 && st.HasError(id)
}

func (st *Store) pairUncertain(a, b *Series) bool {
	for prop := range a.Data {
		if _, ok := b.Data[prop]; !ok {
			continue
		}
		if st.classifier.IsUncertain(a.Data[prop], b.Data[prop]) {
			return true
		}
	}
	return false
}

// EstimateNextRoundTime sums the expected wall time of one round of
// runBlockSize invocations over all pending blocks (all blocks when all
// is set). The second return value is false when no estimate can be
// made because the wall-time property has no data yet.
func (st *Store) EstimateNextRoundTime(runBlockSize int, all bool) (time.Duration, bool) {
	var indexes []int
	if all {
		for i := st.externalCount; i < len(st.series); i++ {
			indexes = append(indexes, i)
		}
	} else {
		for _, id := range st.IDsNeedingMoreData() {
			indexes = append(indexes, id+st.externalCount)
		}
	}
	seconds := 0.0
	seen := false
	for _, i := range indexes {
		values := st.series[i].Data[TimeProperty]
		if len(values) == 0 {
			continue
		}
		seen = true
		seconds += stat.Mean(values, nil) * float64(runBlockSize)
	}
	if !seen {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

// EstimateTotalTime roughly estimates the wall time needed until every
// pending pair resolves, based on the run-count projection of the
// tester. It ignores parallelism and is best effort only; the second
// return value is false when any projection is unknown.
func (st *Store) EstimateTotalTime(runBlockSize, minRuns, maxRuns int) (time.Duration, bool) {
	ids := st.IDsNeedingMoreData()
	seconds := 0.0
	for _, id := range ids {
		a := st.series[id+st.externalCount]
		avg := meanOrZero(a.Data[TimeProperty])
		needed := 0
		for _, other := range ids {
			if other == id {
				continue
			}
			b := st.series[other+st.externalCount]
			for prop := range a.Data {
				if _, ok := b.Data[prop]; !ok {
					continue
				}
				est := stats.EstimateNeededRuns(st.classifier, a.Data[prop], b.Data[prop],
					runBlockSize, minRuns, maxRuns)
				if est == stats.RunsUnknown {
					return 0, false
				}
				needed = max(needed, est)
			}
		}
		seconds += float64(needed) * avg
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func meanOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

func (st *Store) checkID(id int) error {
	if id < 0 || id >= st.Len() {
		return fmt.Errorf("unknown block id %d", id)
	}
	return nil
}
