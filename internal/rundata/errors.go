package rundata

import "fmt"

// ProgramError records a misbehaving benchmarked command: it carries the
// captured output and exit code so the block can be diagnosed and
// re-run.
type ProgramError struct {
	Message     string `yaml:"message"`
	ReturnCode  int    `yaml:"return_code"`
	Output      string `yaml:"output"`
	ErrorOutput string `yaml:"error_output"`
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s (exit code %d)", e.Message, e.ReturnCode)
}

// InternalError records an unexpected driver or plugin failure while
// measuring a block.
type InternalError struct {
	Message string `yaml:"message"`
}

func (e *InternalError) Error() string { return e.Message }
