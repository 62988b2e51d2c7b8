// Package cpuset partitions the CPU cores of the host into a set for
// unrelated host processes, a controller set for the harness itself and
// N disjoint worker sets, one per parallel measurement slot. It drives
// the cgroup2 cpuset controller and therefore needs root privileges;
// without them the partition deactivates with a warning and every
// operation becomes a no-op.
package cpuset

import (
	"context"
	"fmt"
	"runtime"

	"github.com/benchra/benchra/internal/ctxlog"
)

// Names of the created cpusets. SlotName formats the per-slot set.
const (
	hostSet       = "bench.root"
	controllerSet = "benchra.controller"
	slotSetFormat = "benchra.slot-%d"
)

// Config sizes the partition.
type Config struct {
	// BaseCores is the number of cores reserved for the remaining host
	// system (everything that is not benchmarked).
	BaseCores int `yaml:"base_cores"`

	// CoresPerSlot is the number of exclusive cores per parallel
	// measurement slot.
	CoresPerSlot int `yaml:"cores_per_slot"`

	// ParallelSlots selects the mode: 0 benchmarks sequentially, a
	// positive value requests that many parallel slots, -1 fits as many
	// slots as the host allows.
	ParallelSlots int `yaml:"parallel_slots"`
}

// DefaultConfig returns a sequential single-core-per-slot sizing.
func DefaultConfig() Config {
	return Config{BaseCores: 1, CoresPerSlot: 1, ParallelSlots: 0}
}

// Partition is the created cpuset layout. It is read-only after New and
// torn down exactly once after all workers stopped.
type Partition struct {
	cfg            Config
	active         bool
	availableCores int
	parallelNumber int

	// ownSets lists every cpuset this partition created, in teardown
	// order.
	ownSets []string
	fs      cgroupFS
}

// New computes the partition layout, creates the cpusets and moves the
// host processes and the controller into their sets. On any setup error
// the partially created state is rolled back through Teardown before
// the error is returned.
func New(ctx context.Context, cfg Config) (*Partition, error) {
	return newPartition(ctx, cfg, realCgroupFS{})
}

func newPartition(ctx context.Context, cfg Config, fs cgroupFS) (*Partition, error) {
	log := ctxlog.FromContext(ctx)
	p := &Partition{cfg: cfg, availableCores: runtime.NumCPU(), fs: fs}

	parallel, err := p.computeParallelNumber()
	if err != nil {
		return nil, err
	}
	p.parallelNumber = parallel

	if !fs.hasRootPrivileges() {
		log.Warn("cpuset isolation disabled, root privileges are missing")
		return p, nil
	}
	p.active = true
	log.Info("initializing cpuset partition",
		"base_cores", cfg.BaseCores, "parallel", parallel, "cores_per_slot", cfg.CoresPerSlot)
	if err := p.setup(ctx); err != nil {
		log.Error("cpuset setup failed, rolling back", "error", err)
		p.Teardown()
		return nil, &SetupError{Err: err}
	}
	return p, nil
}

// SetupError wraps a fatal resource partition failure.
type SetupError struct{ Err error }

func (e *SetupError) Error() string { return fmt.Sprintf("cpuset setup: %v", e.Err) }
func (e *SetupError) Unwrap() error { return e.Err }

// computeParallelNumber resolves the slot count and fails fast when the
// requested layout cannot fit on this host. The controller always needs
// one core of its own.
func (p *Partition) computeParallelNumber() (int, error) {
	cfg := p.cfg
	if cfg.ParallelSlots == 0 {
		return 0, nil
	}
	if cfg.BaseCores < 1 || cfg.CoresPerSlot < 1 {
		return 0, fmt.Errorf("cpuset: base cores and cores per slot must be at least 1")
	}
	free := p.availableCores - cfg.BaseCores - 1
	fit := free / cfg.CoresPerSlot
	if cfg.ParallelSlots == -1 {
		if fit < 1 {
			return 0, fmt.Errorf("cpuset: no room for any slot on %d cores (base %d + controller 1)",
				p.availableCores, cfg.BaseCores)
		}
		return fit, nil
	}
	if cfg.ParallelSlots > fit {
		return 0, fmt.Errorf("cpuset: %d slots of %d cores do not fit on %d cores (base %d + controller 1)",
			cfg.ParallelSlots, cfg.CoresPerSlot, p.availableCores, cfg.BaseCores)
	}
	return cfg.ParallelSlots, nil
}

// ParallelNumber returns the number of parallel slots, zero in
// sequential mode.
func (p *Partition) ParallelNumber() int { return p.parallelNumber }

// Active reports whether the partition actually controls cpusets.
func (p *Partition) Active() bool { return p.active }

// SlotName returns the opaque cpuset name of the slot, usable when
// constructing measurement commands.
func (p *Partition) SlotName(slot int) string { return fmt.Sprintf(slotSetFormat, slot) }

// SlotCPUs returns the core ids assigned to the slot. In sequential
// mode slot 0 aliases the controller range.
func (p *Partition) SlotCPUs(slot int) []int {
	if p.parallelNumber == 0 {
		return coreRange(p.cfg.BaseCores, p.availableCores)
	}
	start := p.cfg.BaseCores + 1 + slot*p.cfg.CoresPerSlot
	return coreRange(start, start+p.cfg.CoresPerSlot)
}

func (p *Partition) controllerCPUs() []int {
	if p.parallelNumber == 0 {
		// Sequentially the benchmarked program shares the controller
		// set, so it spans everything outside the host set.
		return coreRange(p.cfg.BaseCores, p.availableCores)
	}
	return []int{p.cfg.BaseCores}
}

// setup creates the host, controller and slot sets and populates them.
func (p *Partition) setup(ctx context.Context) error {
	if err := p.fs.prepare(); err != nil {
		return err
	}
	if err := p.createSet(hostSet, coreRange(0, p.cfg.BaseCores)); err != nil {
		return err
	}
	if err := p.fs.moveAllProcesses(ctx, hostSet); err != nil {
		return err
	}
	if err := p.createSet(controllerSet, p.controllerCPUs()); err != nil {
		return err
	}
	if err := p.fs.moveProcess(selfPID(), controllerSet); err != nil {
		return err
	}
	for i := 0; i < p.parallelNumber; i++ {
		if err := p.createSet(p.SlotName(i), p.SlotCPUs(i)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partition) createSet(name string, cpus []int) error {
	if err := p.fs.createSet(name, cpus); err != nil {
		return fmt.Errorf("create cpuset %s: %w", name, err)
	}
	p.ownSets = append(p.ownSets, name)
	return nil
}

// MeasureSet returns the cpuset a measured subprocess of the slot
// should join, empty when the partition is inactive. Sequential runs
// share the controller set.
func (p *Partition) MeasureSet(slot int) string {
	if !p.active {
		return ""
	}
	if p.parallelNumber == 0 {
		return controllerSet
	}
	return p.SlotName(slot)
}

// PinProcess moves the process into the worker set of the slot.
func (p *Partition) PinProcess(pid, slot int) error {
	if !p.active {
		return nil
	}
	if slot < 0 || slot >= p.parallelNumber {
		return fmt.Errorf("cpuset: slot %d out of range [0,%d)", slot, p.parallelNumber)
	}
	return p.fs.moveProcess(pid, p.SlotName(slot))
}

// Teardown releases every created cpuset and moves all confined
// processes back to the root set. It is idempotent and safe to call
// after a partially failed setup; per-set errors are swallowed because
// a set may legitimately no longer exist.
func (p *Partition) Teardown() {
	if !p.active {
		return
	}
	for i := len(p.ownSets) - 1; i >= 0; i-- {
		p.fs.removeSet(p.ownSets[i])
	}
	p.ownSets = nil
	p.active = false
}

func coreRange(start, end int) []int {
	if end <= start {
		return nil
	}
	cores := make([]int, 0, end-start)
	for c := start; c < end; c++ {
		cores = append(cores, c)
	}
	return cores
}
