package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/benchra/benchra/internal/ctxlog"
	"github.com/benchra/benchra/internal/rundata"
)

// Hook is the block-scoped subset of the environment plugin interface
// the driver invokes around and inside a measurement call.
type Hook interface {
	SetupBlock(ctx context.Context, cfg *BlockConfig, runs int) error
	SetupBlockRun(ctx context.Context, cfg *BlockConfig) error
	TeardownBlock(ctx context.Context, cfg *BlockConfig) error
}

// VCSCheckout checks the given revision out into dir. Revision
// resolution is an external collaborator; the driver only provides the
// scratch directory lifecycle.
type VCSCheckout func(ctx context.Context, revision, dir string) error

// Driver executes measurement calls.
type Driver struct {
	runners           *RunnerRegistry
	hooks             []Hook
	vcs               VCSCheckout
	shell             string
	subprocessTimeout time.Duration
}

// Option configures a Driver.
type Option func(*Driver)

// WithHooks sets the ordered block-scoped plugin hooks.
func WithHooks(hooks []Hook) Option {
	return func(d *Driver) { d.hooks = hooks }
}

// WithVCSCheckout injects the revision checkout collaborator.
func WithVCSCheckout(vcs VCSCheckout) Option {
	return func(d *Driver) { d.vcs = vcs }
}

// WithSubprocessTimeout bounds every single spawned invocation. Zero
// means unbounded; the caller's context still applies.
func WithSubprocessTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.subprocessTimeout = timeout
		}
	}
}

// WithShell overrides the shell the commands run under.
func WithShell(shell string) Option {
	return func(d *Driver) {
		if shell != "" {
			d.shell = shell
		}
	}
}

// New creates a driver using the given runner registry.
func New(runners *RunnerRegistry, opts ...Option) *Driver {
	d := &Driver{runners: runners, shell: "/bin/sh"}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Measure benchmarks the block runs times and returns the merged
// result. Block- and program-scoped failures are recorded inside the
// result; the returned error is non-nil only when the context was
// cancelled, which the caller must treat as an interrupt.
//
// The block's config is deep-copied first and the copy is handed to
// every hook and the runner, so no state leaks between calls.
func (d *Driver) Measure(ctx context.Context, block *Block, runs int, slot string) (*Result, error) {
	log := ctxlog.FromContext(ctx)
	cfg := block.Config.Copy()
	res := NewResult()

	if cfg.Revision != "" && d.vcs != nil {
		scratch := filepath.Join(os.TempDir(), "benchra-checkout-"+uuid.NewString())
		if err := d.vcs(ctx, cfg.Revision, scratch); err != nil {
			res.SetInternalError(&rundata.InternalError{
				Message: fmt.Sprintf("checkout of revision %q: %v", cfg.Revision, err),
			})
			return res, nil
		}
		defer os.RemoveAll(scratch)
		if cfg.WorkingDir == "" {
			cfg.WorkingDir = scratch
		}
	}

	if internal := d.setupBlockHooks(ctx, cfg, runs); internal != nil {
		res.SetInternalError(internal)
		d.teardownBlockHooks(ctx, cfg, res)
		return res, nil
	}

	runner, err := d.runners.Lookup(cfg.Runner, cfg.RunnerOptions)
	if err == nil {
		err = runner.SetupBlock(cfg)
	}
	if err != nil {
		res.SetInternalError(&rundata.InternalError{Message: err.Error()})
		d.teardownBlockHooks(ctx, cfg, res)
		return res, nil
	}

	// Suppress GC pauses for the duration of the call. Go exposes this
	// as disabling automatic collection; it is restored on every exit
	// path through the defer.
	oldGC := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(oldGC)

	callStart := time.Now()
	completed := 0
	for i := 0; i < runs; i++ {
		// runOnce fails with an error only on context cancellation;
		// everything else is recorded inside res.
		if err := d.runOnce(ctx, cfg, runner, slot, res); err != nil {
			d.teardownBlockHooks(ctx, cfg, res)
			return nil, err
		}
		if res.Err() != nil {
			break
		}
		completed++
	}
	callDuration := time.Since(callStart)

	d.teardownBlockHooks(ctx, cfg, res)

	if res.Err() == nil && completed > 0 {
		// Every run carries its share of the call's wall time; round
		// time estimation builds on this property.
		share := callDuration.Seconds() / float64(completed)
		for i := 0; i < completed; i++ {
			res.Data[rundata.TimeProperty] = append(res.Data[rundata.TimeProperty], share)
		}
	}
	if res.Err() != nil {
		log.Debug("measurement call failed", "block", block.Description(), "error", res.Err())
	}
	return res, nil
}

// runOnce performs one invocation: per-run hooks, spawn, validation and
// parsing. Validation and parse failures are recorded in res and end
// the call; only context cancellation is returned as an error.
func (d *Driver) runOnce(ctx context.Context, cfg *BlockConfig, runner Runner, slot string, res *Result) error {
	for _, hook := range d.hooks {
		if err := hook.SetupBlockRun(ctx, cfg); err != nil {
			res.SetInternalError(&rundata.InternalError{Message: fmt.Sprintf("per-run plugin hook: %v", err)})
			return nil
		}
	}

	cmd := d.pickCommand(cfg)
	execRes, err := d.execCommand(ctx, cfg, cmd, slot)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.SetInternalError(&rundata.InternalError{Message: fmt.Sprintf("spawning %q: %v", cmd, err)})
		return nil
	}

	// A validator mismatch aborts the whole call and discards the
	// samples already gathered in it.
	if perr := cfg.Validator.Validate(execRes); perr != nil {
		res.SetProgramError(perr)
		return nil
	}

	props, err := runner.ParseResult(execRes)
	if err != nil {
		res.SetInternalError(&rundata.InternalError{Message: fmt.Sprintf("parsing result of %s: %v", execRes, err)})
		return nil
	}
	res.AddRunData(props)
	return nil
}

func (d *Driver) pickCommand(cfg *BlockConfig) string {
	if len(cfg.RunCmds) == 0 {
		return ""
	}
	if cfg.RandomCmd && len(cfg.RunCmds) > 1 {
		return cfg.RunCmds[rand.IntN(len(cfg.RunCmds))]
	}
	return cfg.RunCmds[0]
}

// execCommand spawns one shell invocation and captures its streams,
// exit code and wall time. A per-invocation timeout kills the process
// and surfaces as exit code -1 with a note on stderr, so validation
// turns it into a ProgramError.
func (d *Driver) execCommand(ctx context.Context, cfg *BlockConfig, cmd, slot string) (*ExecResult, error) {
	runCtx := ctx
	if d.subprocessTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.subprocessTimeout)
		defer cancel()
	}

	var parts []string
	if slot != "" {
		// Move the shell (and thus the benchmarked process) into the
		// slot's cpuset; the worker thread is pinned already, this
		// confines children too.
		parts = append(parts, fmt.Sprintf("echo $$ > /sys/fs/cgroup/%s/cgroup.procs 2>/dev/null", slot))
	}
	parts = append(parts, cfg.CmdPrefix...)
	parts = append(parts, cmd)
	line := strings.Join(parts, "; ")

	proc := exec.CommandContext(runCtx, d.shell, "-c", line)
	proc.Dir = cfg.WorkingDir
	proc.Env = buildEnv(cfg.Env)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	start := time.Now()
	err := proc.Run()
	duration := time.Since(start)

	res := &ExecResult{
		Cmd:      cmd,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	switch {
	case err == nil:
		res.ExitCode = 0
	case runCtx.Err() != nil && ctx.Err() == nil:
		res.ExitCode = -1
		res.Stderr += fmt.Sprintf("\nprocess killed after %s timeout", d.subprocessTimeout)
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

func (d *Driver) setupBlockHooks(ctx context.Context, cfg *BlockConfig, runs int) *rundata.InternalError {
	for _, hook := range d.hooks {
		if err := hook.SetupBlock(ctx, cfg, runs); err != nil {
			return &rundata.InternalError{Message: fmt.Sprintf("block plugin hook: %v", err)}
		}
	}
	return nil
}

// teardownBlockHooks always runs every hook; a failure overwrites an
// otherwise good result with an internal error.
func (d *Driver) teardownBlockHooks(ctx context.Context, cfg *BlockConfig, res *Result) {
	for _, hook := range d.hooks {
		if err := hook.TeardownBlock(ctx, cfg); err != nil {
			res.SetInternalError(&rundata.InternalError{Message: fmt.Sprintf("block plugin teardown: %v", err)})
		}
	}
}

// buildEnv merges the block's environment over the process environment
// and fixes the locale so numeric output stays parsable.
func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	env = append(env, "LC_NUMERIC=en_US.UTF-8")
	for _, key := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, key+"="+extra[key])
	}
	return env
}
