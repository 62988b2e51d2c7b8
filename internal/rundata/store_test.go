package rundata

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchra/benchra/internal/stats"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(stats.NewClassifier(stats.TTest{}, 0.05, 0.15))
}

func gaussian(r *rand.Rand, n int, mean, stddev float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + stddev*r.NormFloat64()
	}
	return out
}

func TestAddDataBlockRejectsNonFinite(t *testing.T) {
	s := NewSeries(nil)
	assert.Error(t, s.AddDataBlock(map[string][]float64{"time": {1, math.Inf(1)}}))
	assert.Error(t, s.AddDataBlock(map[string][]float64{"time": {math.NaN()}}))
	assert.Error(t, s.AddDataBlock(map[string][]float64{"": {1}}))
	assert.NoError(t, s.AddDataBlock(map[string][]float64{"time": {1, 2}}))
	assert.Equal(t, 2, s.MinValues())
}

func TestSeriesGrowthAndIntersection(t *testing.T) {
	st := newTestStore(t)
	a := st.AddSeries(map[string]string{"description": "a"})
	b := st.AddSeries(map[string]string{"description": "b"})

	require.NoError(t, st.AddDataBlock(a, map[string][]float64{"time": {1}, "cycles": {10}}))
	require.NoError(t, st.AddDataBlock(b, map[string][]float64{"time": {2}}))
	assert.Equal(t, []string{"time"}, st.Properties(), "intersection only")

	require.NoError(t, st.AddDataBlock(b, map[string][]float64{"time": {3}, "cycles": {20}}))
	assert.Equal(t, []string{"cycles", "time"}, st.Properties())

	assert.Equal(t, 1, st.Series(a).MinValues())
	assert.Equal(t, 1, st.Series(b).MinValues(), "cycles arrived one batch late")
	assert.Equal(t, 2, st.Series(b).Benchmarks())
}

func TestIDsNeedingMoreDataPairing(t *testing.T) {
	// A wide uncertainty band keeps the near-identical pair uncertain
	// while the clearly different block resolves immediately.
	st := NewStore(stats.NewClassifier(stats.TTest{}, 0.05, 0.95))
	r := rand.New(rand.NewSource(7))

	// Blocks 0 and 1 share a distribution, block 2 is far away with
	// little spread. Only the indistinguishable pair keeps needing
	// samples.
	base := gaussian(r, 80, 100, 5)
	shifted := gaussian(r, 80, 100.5, 5)
	distinct := gaussian(r, 80, 10000, 5)

	id0 := st.AddSeries(map[string]string{"description": "b0"})
	id1 := st.AddSeries(map[string]string{"description": "b1"})
	id2 := st.AddSeries(map[string]string{"description": "b2"})
	require.NoError(t, st.AddDataBlock(id0, map[string][]float64{"time": base}))
	require.NoError(t, st.AddDataBlock(id1, map[string][]float64{"time": shifted}))
	require.NoError(t, st.AddDataBlock(id2, map[string][]float64{"time": distinct}))

	ids := st.IDsNeedingMoreData()
	assert.Contains(t, ids, id0)
	assert.Contains(t, ids, id1)
	assert.NotContains(t, ids, id2)
}

func TestEmptySeriesIsAlwaysScheduled(t *testing.T) {
	st := newTestStore(t)
	id0 := st.AddSeries(map[string]string{"description": "fresh"})
	id1 := st.AddSeries(map[string]string{"description": "measured"})
	require.NoError(t, st.AddDataBlock(id1, map[string][]float64{"time": {1, 2, 3}}))

	ids := st.IDsNeedingMoreData()
	assert.Contains(t, ids, id0, "a zero-sample block must be scheduled")
	assert.Contains(t, ids, id1)
}

func TestErroredAndDiscardedExcluded(t *testing.T) {
	st := newTestStore(t)
	id0 := st.AddSeries(map[string]string{"description": "ok"})
	id1 := st.AddSeries(map[string]string{"description": "bad"})
	require.NoError(t, st.AddDataBlock(id0, map[string][]float64{"time": {1, 2}}))

	st.RecordError(id1, &ProgramError{Message: "boom", ReturnCode: 1}, false)
	assert.True(t, st.HasError(id1))
	assert.NotContains(t, st.IDsNeedingMoreData(), id1)

	st.Discard(id0)
	assert.Empty(t, st.IDsNeedingMoreData())
}

func TestEstimateNextRoundTime(t *testing.T) {
	st := newTestStore(t)
	id0 := st.AddSeries(map[string]string{"description": "a"})
	st.AddSeries(map[string]string{"description": "b"})

	_, ok := st.EstimateNextRoundTime(5, true)
	assert.False(t, ok, "no wall-time data yet")

	require.NoError(t, st.AddDataBlock(id0, map[string][]float64{TimeProperty: {2, 2, 2}}))
	d, ok := st.EstimateNextRoundTime(5, true)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, d)
}

func TestSerializeRoundTrip(t *testing.T) {
	st := newTestStore(t)
	id0 := st.AddSeries(map[string]string{"description": "fast"})
	id1 := st.AddSeries(map[string]string{"description": "broken"})
	require.NoError(t, st.AddDataBlock(id0, map[string][]float64{"time": {1, 2, 3}}))
	st.RecordError(id1, &ProgramError{Message: "exit", ReturnCode: 1, ErrorOutput: "err"}, false)
	st.SetPropertyDescription("time", "wall clock time in seconds")

	var buf bytes.Buffer
	require.NoError(t, st.Serialize(&buf))
	out := buf.String()
	assert.Contains(t, out, "return_code: 1")
	assert.Contains(t, out, "property_descriptions:")

	reloaded := newTestStore(t)
	require.NoError(t, reloaded.LoadFrom(bytes.NewReader(buf.Bytes())))
	assert.Equal(t, 0, reloaded.Len(), "loaded series are external")

	// External series pair against fresh blocks but are never returned.
	fresh := reloaded.AddSeries(map[string]string{"description": "new"})
	ids := reloaded.IDsNeedingMoreData()
	assert.Equal(t, []int{fresh}, ids)
}

func TestRecordErrorDiscardsDataButKeepsRecord(t *testing.T) {
	st := newTestStore(t)
	id := st.AddSeries(map[string]string{"description": "x"})
	require.NoError(t, st.AddDataBlock(id, map[string][]float64{"time": {1}}))
	st.RecordError(id, errors.New("anything"), true)

	assert.Equal(t, 0, st.Series(id).MinValues(), "prior samples are gone")
	assert.True(t, st.HasError(id))

	var buf bytes.Buffer
	require.NoError(t, st.Serialize(&buf))
	out := buf.String()
	assert.Contains(t, out, "description: x", "the error record survives the discard")
	assert.Contains(t, out, "anything")
	assert.NotContains(t, out, "data:")
}
