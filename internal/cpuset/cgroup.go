package cpuset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/benchra/benchra/internal/ctxlog"
)

// cgroupMount is where the cgroup2 hierarchy is mounted.
const cgroupMount = "/sys/fs/cgroup"

// cgroupFS abstracts the pseudo filesystem operations so the partition
// logic can be tested without root privileges.
type cgroupFS interface {
	hasRootPrivileges() bool
	prepare() error
	createSet(name string, cpus []int) error
	removeSet(name string)
	moveProcess(pid int, set string) error
	moveAllProcesses(ctx context.Context, set string) error
}

func selfPID() int { return os.Getpid() }

// realCgroupFS manipulates the cgroup2 cpuset controller directly
// through sysfs writes.
type realCgroupFS struct{}

func (realCgroupFS) hasRootPrivileges() bool { return os.Geteuid() == 0 }

// prepare enables the cpuset controller for the children of the root
// cgroup. The root cgroup is exempt from the no-internal-process rule,
// so this works while processes still live in it.
func (realCgroupFS) prepare() error {
	control := filepath.Join(cgroupMount, "cgroup.subtree_control")
	if err := os.WriteFile(control, []byte("+cpuset"), 0); err != nil {
		return fmt.Errorf("enable cpuset controller: %w", err)
	}
	return nil
}

func (realCgroupFS) createSet(name string, cpus []int) error {
	dir := filepath.Join(cgroupMount, name)
	if err := os.Mkdir(dir, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "cpuset.cpus"), []byte(coreList(cpus)), 0)
}

// removeSet migrates the set's processes back to the root cgroup and
// deletes the directory. Errors are ignored: during rollback the set
// may never have been created.
func (realCgroupFS) removeSet(name string) {
	dir := filepath.Join(cgroupMount, name)
	procs, err := os.ReadFile(filepath.Join(dir, "cgroup.procs"))
	if err == nil {
		rootProcs := filepath.Join(cgroupMount, "cgroup.procs")
		for _, pid := range strings.Fields(string(procs)) {
			_ = os.WriteFile(rootProcs, []byte(pid), 0)
		}
	}
	_ = os.Remove(dir)
}

func (realCgroupFS) moveProcess(pid int, set string) error {
	target := filepath.Join(cgroupMount, set, "cgroup.procs")
	if err := os.WriteFile(target, []byte(strconv.Itoa(pid)), 0); err != nil {
		return fmt.Errorf("move pid %d to %s: %w", pid, set, err)
	}
	return nil
}

// moveAllProcesses migrates every process of the root cgroup into the
// given set. Kernel threads and already-exited processes refuse the
// move; those are skipped, matching the behavior of the cset tool.
func (f realCgroupFS) moveAllProcesses(ctx context.Context, set string) error {
	log := ctxlog.FromContext(ctx)
	procs, err := os.ReadFile(filepath.Join(cgroupMount, "cgroup.procs"))
	if err != nil {
		return fmt.Errorf("list root cgroup processes: %w", err)
	}
	self := selfPID()
	moved, skipped := 0, 0
	for _, field := range strings.Fields(string(procs)) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid == self {
			continue
		}
		if err := f.moveProcess(pid, set); err != nil {
			skipped++
			continue
		}
		moved++
	}
	log.Info("moved host processes to cpuset", "set", set, "moved", moved, "skipped", skipped)
	return nil
}

func coreList(cpus []int) string {
	parts := make([]string, len(cpus))
	for i, c := range cpus {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
