//go:build linux

package cpuset

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// PinThread locks the calling goroutine to its OS thread and restricts
// that thread to the given CPU cores. It returns a cleanup function
// that unlocks the thread; the affinity itself dies with the thread.
//
// Workers call this once at startup so every measurement they drive
// inherits the slot's core range.
func PinThread(cpus []int) (func(), error) {
	runtime.LockOSThread()
	if len(cpus) == 0 {
		return runtime.UnlockOSThread, nil
	}
	var mask unix.CPUSet
	mask.Zero()
	for _, c := range cpus {
		mask.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return runtime.UnlockOSThread, nil
}
