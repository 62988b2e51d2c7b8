//go:build !linux

package cpuset

import "runtime"

// PinThread locks the calling goroutine to its OS thread. Core affinity
// is unsupported off Linux, so only the lock is taken.
func PinThread(cpus []int) (func(), error) {
	runtime.LockOSThread()
	return runtime.UnlockOSThread, nil
}
