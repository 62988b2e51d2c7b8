package run

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes of a whole benchmarking run.
const (
	ExitClean      = 0
	ExitAborted    = 1
	ExitSomeFailed = 2
)

// ErrInterrupted marks a run that was cancelled by the user. Collected
// data has been persisted best-effort before it is returned.
var ErrInterrupted = errors.New("benchmarking interrupted")

// BlocksFailedError reports a run that finished but left some blocks
// with a program or internal error. Their data is persisted alongside
// the error records.
type BlocksFailedError struct {
	Descriptions []string
}

func (e *BlocksFailedError) Error() string {
	return fmt.Sprintf("%d block(s) failed: %s", len(e.Descriptions), strings.Join(e.Descriptions, ", "))
}

// ExitCode maps the error of Processor.Run to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitClean
	}
	var failed *BlocksFailedError
	if errors.As(err, &failed) {
		return ExitSomeFailed
	}
	return ExitAborted
}
