package driver

import (
	"fmt"
	"slices"
	"strings"

	"github.com/benchra/benchra/internal/rundata"
)

// maxCapturedOutput truncates stored program output so a chatty
// benchmark cannot blow up the persisted file.
const maxCapturedOutput = 10_000

// Validate checks one invocation against the acceptance rules. A
// violation is returned as the ProgramError that aborts the whole
// measurement call.
func (v *Validator) Validate(res *ExecResult) *rundata.ProgramError {
	if !v.exitCodeAllowed(res.ExitCode) {
		return programError(res, fmt.Sprintf("disallowed exit code %d", res.ExitCode))
	}
	for _, want := range v.ExpectedOutput {
		if !strings.Contains(res.Stdout, want) {
			return programError(res, fmt.Sprintf("output lacks required substring %q", want))
		}
	}
	for _, bad := range v.UnexpectedOutput {
		if strings.Contains(res.Stdout, bad) {
			return programError(res, fmt.Sprintf("output contains forbidden substring %q", bad))
		}
	}
	return nil
}

func (v *Validator) exitCodeAllowed(code int) bool {
	if len(v.AllowedReturnCodes) == 0 {
		return code == 0
	}
	return slices.Contains(v.AllowedReturnCodes, code)
}

func programError(res *ExecResult, msg string) *rundata.ProgramError {
	return &rundata.ProgramError{
		Message:     fmt.Sprintf("executing %s: %s", res.String(), msg),
		ReturnCode:  res.ExitCode,
		Output:      truncate(res.Stdout),
		ErrorOutput: truncate(res.Stderr),
	}
}

func truncate(s string) string {
	if len(s) <= maxCapturedOutput {
		return s
	}
	return s[:maxCapturedOutput] + "\n... [truncated]"
}
