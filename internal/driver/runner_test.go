package driver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerfStatSetupBlockWrapsCommands(t *testing.T) {
	reg := NewRunnerRegistry()
	runner, err := reg.Lookup("perf_stat", RunnerOptions{Properties: []string{"cycles", "instructions"}, Repeat: 2})
	require.NoError(t, err)

	cfg := &BlockConfig{RunCmds: []string{"./bench arg"}}
	require.NoError(t, runner.SetupBlock(cfg))
	assert.Equal(t, "perf stat --repeat 2 -x ';' -e cycles,instructions -- ./bench arg", cfg.RunCmds[0])
}

func TestPerfStatParse(t *testing.T) {
	runner, err := NewRunnerRegistry().Lookup("perf_stat", RunnerOptions{})
	require.NoError(t, err)

	stderr := `# started on Thu
123456.7;;task-clock;456;100.00;;
<not counted>;;branch-misses;0;0.00;;
8910;;cycles;456;100.00;;
`
	props, err := runner.ParseResult(&ExecResult{Stderr: stderr})
	require.NoError(t, err)
	assert.Equal(t, 123456.7, props["task-clock"])
	assert.Equal(t, 8910.0, props["cycles"])
	_, ok := props["branch-misses"]
	assert.False(t, ok, "uncounted events are skipped")
}

func TestPerfStatParseNothing(t *testing.T) {
	runner, err := NewRunnerRegistry().Lookup("perf_stat", RunnerOptions{})
	require.NoError(t, err)
	_, err = runner.ParseResult(&ExecResult{Stderr: "garbage"})
	assert.Error(t, err)
}

func TestTimeRunner(t *testing.T) {
	runner, err := NewRunnerRegistry().Lookup("", RunnerOptions{})
	require.NoError(t, err)
	props, err := runner.ParseResult(&ExecResult{Duration: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 1.5, props["etime"])
}

func TestOutputRunner(t *testing.T) {
	runner, err := NewRunnerRegistry().Lookup("output", RunnerOptions{})
	require.NoError(t, err)

	props, err := runner.ParseResult(&ExecResult{Stdout: "rows: 100\nthroughput: 52.5\nnoise line\n"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"rows": 100, "throughput": 52.5}, props)

	_, err = runner.ParseResult(&ExecResult{Stdout: "no properties here"})
	assert.Error(t, err)
}

func TestSpecRunner(t *testing.T) {
	file := filepath.Join(t.TempDir(), "result.txt")
	require.NoError(t, os.WriteFile(file, []byte("total time 42.5 ms over 7 iterations"), 0o644))

	reg := NewRunnerRegistry()
	runner, err := reg.Lookup("spec", RunnerOptions{
		File: file,
		Patterns: map[string]string{
			"time":       `total time ([0-9.]+) ms`,
			"iterations": `over ([0-9]+) iterations`,
		},
	})
	require.NoError(t, err)

	props, err := runner.ParseResult(&ExecResult{})
	require.NoError(t, err)
	assert.Equal(t, 42.5, props["time"])
	assert.Equal(t, 7.0, props["iterations"])
}

func TestSpecRunnerRejectsBadPatterns(t *testing.T) {
	reg := NewRunnerRegistry()
	_, err := reg.Lookup("spec", RunnerOptions{})
	assert.Error(t, err, "needs file and patterns")

	_, err = reg.Lookup("spec", RunnerOptions{File: "f", Patterns: map[string]string{"p": "no group"}})
	assert.Error(t, err, "needs one capture group")

	_, err = reg.Lookup("spec", RunnerOptions{File: "f", Patterns: map[string]string{"p": "(unclosed"}})
	assert.Error(t, err)
}

func TestRunnerRegistryNames(t *testing.T) {
	assert.Equal(t, []string{"output", "perf_stat", "spec", "time"}, NewRunnerRegistry().Names())
}

func TestValidatorTable(t *testing.T) {
	tests := []struct {
		name    string
		v       Validator
		res     ExecResult
		wantErr bool
	}{
		{name: "clean", v: Validator{}, res: ExecResult{ExitCode: 0}},
		{name: "nonzero exit", v: Validator{}, res: ExecResult{ExitCode: 2}, wantErr: true},
		{name: "allowed exit", v: Validator{AllowedReturnCodes: []int{2}}, res: ExecResult{ExitCode: 2}},
		{name: "zero not implicitly allowed", v: Validator{AllowedReturnCodes: []int{2}},
			res: ExecResult{ExitCode: 0}, wantErr: true},
		{name: "required present", v: Validator{ExpectedOutput: []string{"ok"}},
			res: ExecResult{Stdout: "all ok"}},
		{name: "required missing", v: Validator{ExpectedOutput: []string{"ok"}},
			res: ExecResult{Stdout: "nope"}, wantErr: true},
		{name: "forbidden present", v: Validator{UnexpectedOutput: []string{"panic"}},
			res: ExecResult{Stdout: "panic: oh no"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.v.Validate(&tc.res)
			if tc.wantErr {
				assert.NotNil(t, err)
			} else {
				assert.Nil(t, err)
			}
		})
	}
}
