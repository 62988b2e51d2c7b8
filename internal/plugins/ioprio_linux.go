package plugins

import "golang.org/x/sys/unix"

const (
	ioprioWhoProcess = 1
	ioprioClassShift = 13
)

// setIOPriority calls ioprio_set for the given pid (0 means the calling
// process) with the given scheduling class and within-class level.
func setIOPriority(pid, class, level int) error {
	prio := uintptr(class<<ioprioClassShift | level)
	_, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(pid), prio)
	if errno != 0 {
		return errno
	}
	return nil
}
