package cpuset

import (
	"context"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCgroupFS records operations and can be told to fail at a given
// step to exercise rollback.
type fakeCgroupFS struct {
	root     bool
	failAt   string
	created  []string
	removed  []string
	moved    map[int]string
	prepared bool
	movedAll bool
}

func newFakeFS() *fakeCgroupFS {
	return &fakeCgroupFS{root: true, moved: make(map[int]string)}
}

func (f *fakeCgroupFS) hasRootPrivileges() bool { return f.root }

func (f *fakeCgroupFS) prepare() error {
	if f.failAt == "prepare" {
		return fmt.Errorf("prepare failed")
	}
	f.prepared = true
	return nil
}

func (f *fakeCgroupFS) createSet(name string, cpus []int) error {
	if f.failAt == name {
		return fmt.Errorf("create %s failed", name)
	}
	f.created = append(f.created, name)
	return nil
}

func (f *fakeCgroupFS) removeSet(name string) { f.removed = append(f.removed, name) }

func (f *fakeCgroupFS) moveProcess(pid int, set string) error {
	f.moved[pid] = set
	return nil
}

func (f *fakeCgroupFS) moveAllProcesses(ctx context.Context, set string) error {
	f.movedAll = true
	return nil
}

func TestComputeParallelNumber(t *testing.T) {
	avail := runtime.NumCPU()

	tests := []struct {
		name    string
		cfg     Config
		want    int
		wantErr bool
	}{
		{name: "sequential", cfg: Config{BaseCores: 1, CoresPerSlot: 1, ParallelSlots: 0}, want: 0},
		{name: "auto", cfg: Config{BaseCores: 1, CoresPerSlot: 1, ParallelSlots: -1}, want: avail - 2},
		{name: "too many", cfg: Config{BaseCores: 1, CoresPerSlot: 1, ParallelSlots: avail}, wantErr: true},
		{name: "zero base", cfg: Config{BaseCores: 0, CoresPerSlot: 1, ParallelSlots: 1}, wantErr: true},
		{name: "huge slot", cfg: Config{BaseCores: 1, CoresPerSlot: avail, ParallelSlots: -1}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.name == "auto" && avail < 3 {
				t.Skip("not enough cores")
			}
			p := &Partition{cfg: tc.cfg, availableCores: avail}
			got, err := p.computeParallelNumber()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSlotLayoutIsDisjoint(t *testing.T) {
	p := &Partition{cfg: Config{BaseCores: 2, CoresPerSlot: 2, ParallelSlots: 2},
		availableCores: 8, parallelNumber: 2}

	assert.Equal(t, []int{2}, p.controllerCPUs())
	assert.Equal(t, []int{3, 4}, p.SlotCPUs(0))
	assert.Equal(t, []int{5, 6}, p.SlotCPUs(1))
	assert.Equal(t, "benchra.slot-1", p.SlotName(1))

	seen := map[int]bool{2: true}
	for slot := 0; slot < 2; slot++ {
		for _, c := range p.SlotCPUs(slot) {
			assert.False(t, seen[c], "core %d assigned twice", c)
			seen[c] = true
		}
	}
}

func TestSetupMovesControllerAndHost(t *testing.T) {
	if runtime.NumCPU() < 4 {
		t.Skip("not enough cores")
	}
	fs := newFakeFS()
	p, err := newPartition(context.Background(), Config{BaseCores: 1, CoresPerSlot: 1, ParallelSlots: 1}, fs)
	require.NoError(t, err)

	assert.True(t, p.Active())
	assert.True(t, fs.prepared)
	assert.True(t, fs.movedAll)
	assert.Contains(t, fs.created, "bench.root")
	assert.Contains(t, fs.created, "benchra.controller")
	assert.Contains(t, fs.created, "benchra.slot-0")
	assert.Equal(t, "benchra.controller", fs.moved[selfPID()])

	require.NoError(t, p.PinProcess(4242, 0))
	assert.Equal(t, "benchra.slot-0", fs.moved[4242])
	assert.Error(t, p.PinProcess(4242, 1), "slot out of range")
}

func TestFailedSetupRollsBack(t *testing.T) {
	if runtime.NumCPU() < 4 {
		t.Skip("not enough cores")
	}
	fs := newFakeFS()
	fs.failAt = "benchra.controller"
	_, err := newPartition(context.Background(), Config{BaseCores: 1, CoresPerSlot: 1, ParallelSlots: 1}, fs)
	require.Error(t, err)
	var setupErr *SetupError
	assert.ErrorAs(t, err, &setupErr)
	assert.Equal(t, []string{"bench.root"}, fs.removed, "created sets are rolled back")
}

func TestTeardownIsIdempotent(t *testing.T) {
	if runtime.NumCPU() < 4 {
		t.Skip("not enough cores")
	}
	fs := newFakeFS()
	p, err := newPartition(context.Background(), Config{BaseCores: 1, CoresPerSlot: 1, ParallelSlots: 1}, fs)
	require.NoError(t, err)

	p.Teardown()
	removed := len(fs.removed)
	p.Teardown()
	assert.Equal(t, removed, len(fs.removed), "second teardown must not touch anything")
	assert.False(t, p.Active())
}

func TestWithoutRootPartitionIsInactive(t *testing.T) {
	fs := newFakeFS()
	fs.root = false
	p, err := newPartition(context.Background(), Config{BaseCores: 1, CoresPerSlot: 1, ParallelSlots: 0}, fs)
	require.NoError(t, err)
	assert.False(t, p.Active())
	assert.NoError(t, p.PinProcess(1, 0), "inactive partition ignores pinning")
	p.Teardown()
	assert.Empty(t, fs.removed)
}
