package driver

import (
	"fmt"
	"time"

	"github.com/benchra/benchra/internal/rundata"
)

// Result is the outcome of one measurement call: the measured values of
// all runs merged per property, or exactly one error.
type Result struct {
	// Data maps property names to the values of every run of the call.
	Data map[string][]float64

	programError  *rundata.ProgramError
	internalError *rundata.InternalError
}

// NewResult creates an empty result.
func NewResult() *Result {
	return &Result{Data: make(map[string][]float64)}
}

// AddRunData appends one run's property values.
func (r *Result) AddRunData(props map[string]float64) {
	for prop, v := range props {
		r.Data[prop] = append(r.Data[prop], v)
	}
}

// SetProgramError records a misbehaving benchmarked command. The call's
// samples are discarded: a failed call contributes only its error. Any
// previously set error is replaced, keeping the one-error invariant.
func (r *Result) SetProgramError(err *rundata.ProgramError) {
	r.Data = make(map[string][]float64)
	r.programError = err
	r.internalError = nil
}

// SetInternalError records an unexpected driver or plugin failure,
// discarding the call's samples.
func (r *Result) SetInternalError(err *rundata.InternalError) {
	r.Data = make(map[string][]float64)
	r.internalError = err
	r.programError = nil
}

// ProgramError returns the recorded program error, or nil.
func (r *Result) ProgramError() *rundata.ProgramError { return r.programError }

// InternalError returns the recorded internal error, or nil.
func (r *Result) InternalError() *rundata.InternalError { return r.internalError }

// Err returns whichever error is recorded, or nil on success.
func (r *Result) Err() error {
	if r.programError != nil {
		return r.programError
	}
	if r.internalError != nil {
		return r.internalError
	}
	return nil
}

// ExecResult captures one subprocess invocation.
type ExecResult struct {
	Cmd      string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

func (e *ExecResult) String() string {
	return fmt.Sprintf("%q (exit %d, %s)", e.Cmd, e.ExitCode, e.Duration)
}
