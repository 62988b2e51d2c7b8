package plugins

import (
	"os"
	"strconv"
	"strings"
)

type processInfo struct {
	pid  int
	ppid int
	nice int
}

// listProcesses returns every process visible under /proc, excluding
// the calling process and kernel threads (children of pid 2).
func listProcesses() ([]processInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	self := os.Getpid()
	var procs []processInfo
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		info, err := readStat(pid)
		if err != nil {
			// raced with process exit
			continue
		}
		if info.pid == 2 || info.ppid == 2 {
			continue
		}
		procs = append(procs, info)
	}
	return procs, nil
}

// readStat parses pid, ppid and nice out of /proc/<pid>/stat. The comm
// field may contain spaces, so fields are counted after the closing
// parenthesis.
func readStat(pid int) (processInfo, error) {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return processInfo{}, err
	}
	line := string(raw)
	end := strings.LastIndexByte(line, ')')
	if end < 0 || end+2 > len(line) {
		return processInfo{}, os.ErrInvalid
	}
	fields := strings.Fields(line[end+2:])
	// after comm: state ppid ... nice is the 17th field
	if len(fields) < 17 {
		return processInfo{}, os.ErrInvalid
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return processInfo{}, err
	}
	nice, err := strconv.Atoi(fields[16])
	if err != nil {
		return processInfo{}, err
	}
	return processInfo{pid: pid, ppid: ppid, nice: nice}, nil
}
