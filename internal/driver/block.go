// Package driver executes single measurement calls: it spawns the
// benchmarked commands, validates their output and extracts numeric
// properties through a pluggable runner strategy.
package driver

import "maps"

// Validator describes the acceptance rules for a benchmarked command's
// output.
type Validator struct {
	// ExpectedOutput lists substrings that must appear on stdout.
	ExpectedOutput []string `yaml:"expected_output,omitempty"`

	// UnexpectedOutput lists substrings that must not appear on stdout.
	UnexpectedOutput []string `yaml:"unexpected_output,omitempty"`

	// AllowedReturnCodes lists the accepted exit codes. Empty means
	// only zero is accepted.
	AllowedReturnCodes []int `yaml:"allowed_return_codes,omitempty"`
}

// RunnerOptions carries the per-runner configuration. Only the fields
// of the selected runner are consulted.
type RunnerOptions struct {
	// Properties selects the perf events measured by the perf_stat
	// runner.
	Properties []string `yaml:"properties,omitempty"`

	// Repeat makes perf stat repeat the program internally.
	Repeat int `yaml:"repeat,omitempty"`

	// File names the side-effect result file read by the spec runner.
	File string `yaml:"file,omitempty"`

	// Patterns maps property names to regular expressions with one
	// capture group, used by the spec runner.
	Patterns map[string]string `yaml:"patterns,omitempty"`
}

// BlockConfig is the measurement configuration of one program block. It
// is deep-copied before every measurement call so plugin hooks can
// modify it freely without leaking state into the next call.
type BlockConfig struct {
	// RunCmds are the candidate commands; one is picked per invocation.
	RunCmds []string `yaml:"run_cmds"`

	// WorkingDir is the working directory the commands run in.
	WorkingDir string `yaml:"cwd,omitempty"`

	// Env is the extra environment of the commands.
	Env map[string]string `yaml:"env,omitempty"`

	// CmdPrefix holds shell fragments executed in the same shell before
	// the measured command.
	CmdPrefix []string `yaml:"cmd_prefix,omitempty"`

	// RandomCmd selects a random candidate command per invocation
	// instead of always the first.
	RandomCmd bool `yaml:"random_cmd,omitempty"`

	// Revision optionally names a VCS revision that is checked out into
	// a scratch directory before measuring.
	Revision string `yaml:"revision,omitempty"`

	// Runner names the measurement strategy, default "time".
	Runner string `yaml:"runner,omitempty"`

	// RunnerOptions configures the selected runner.
	RunnerOptions RunnerOptions `yaml:"runner_options,omitempty"`

	// Validator holds the output acceptance rules.
	Validator Validator `yaml:"validator,omitempty"`

	// MinRuns and MaxRuns override the global run bounds for this
	// block; zero means "use the global value".
	MinRuns int `yaml:"min_runs,omitempty"`
	MaxRuns int `yaml:"max_runs,omitempty"`
}

// Copy returns a deep copy of the configuration.
func (c *BlockConfig) Copy() *BlockConfig {
	out := *c
	out.RunCmds = append([]string(nil), c.RunCmds...)
	out.CmdPrefix = append([]string(nil), c.CmdPrefix...)
	out.Env = maps.Clone(c.Env)
	out.RunnerOptions.Properties = append([]string(nil), c.RunnerOptions.Properties...)
	out.RunnerOptions.Patterns = maps.Clone(c.RunnerOptions.Patterns)
	out.Validator.ExpectedOutput = append([]string(nil), c.Validator.ExpectedOutput...)
	out.Validator.UnexpectedOutput = append([]string(nil), c.Validator.UnexpectedOutput...)
	out.Validator.AllowedReturnCodes = append([]int(nil), c.Validator.AllowedReturnCodes...)
	return &out
}

// Block is one unit under benchmarking with a stable identity across
// rounds.
type Block struct {
	// ID is the stable block id, assigned from input order.
	ID int

	// Attributes describe the block for humans and reports.
	Attributes map[string]string

	// Config is the measurement configuration. It is never mutated in
	// place; Measure works on a copy.
	Config *BlockConfig

	// Enqueued is set while the block sits in a worker pool queue.
	Enqueued bool
}

// Description renders the attributes for log lines.
func (b *Block) Description() string {
	if d, ok := b.Attributes["description"]; ok {
		return d
	}
	if len(b.Config.RunCmds) > 0 {
		return b.Config.RunCmds[0]
	}
	return "?"
}
