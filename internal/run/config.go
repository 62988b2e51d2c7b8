package run

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/cpuset"
	"github.com/benchra/benchra/internal/stats"
)

// Duration decodes from either a plain number of seconds or a Go
// duration string like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var seconds float64
	if err := node.Decode(&seconds); err == nil {
		*d = Duration(seconds * float64(time.Second))
		return nil
	}
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the global configuration of a benchmarking run.
type Config struct {
	// MinRuns and MaxRuns bound the sample count per block; blocks may
	// override them individually.
	MinRuns int `yaml:"min_runs"`
	MaxRuns int `yaml:"max_runs"`

	// FixedRuns, when positive, pins both bounds to one value.
	FixedRuns int `yaml:"runs,omitempty"`

	// RunBlockSize is the number of invocations submitted per block and
	// round in a single measurement call.
	RunBlockSize int `yaml:"run_block_size"`

	// DiscardedRounds are warm-up rounds whose results are thrown away.
	DiscardedRounds int `yaml:"discarded_runs"`

	// Shuffle randomizes the submission order within a round.
	Shuffle bool `yaml:"shuffle"`

	// MaxTime bounds the wall time of the whole run; zero is unlimited.
	MaxTime Duration `yaml:"max_time"`

	// MaxCallDuration bounds a single measurement call; zero is
	// unlimited.
	MaxCallDuration Duration `yaml:"max_block_time"`

	// MaxRate paces measurement calls per second; zero disables pacing.
	MaxRate float64 `yaml:"max_rate,omitempty"`

	// DiscardAllDataOnError drops a failing block's earlier samples
	// instead of keeping them next to the error record.
	DiscardAllDataOnError bool `yaml:"discard_all_data_for_block_on_error"`

	// Tester names the statistical test and UncertaintyRange its
	// inconclusive p region.
	Tester           string     `yaml:"tester"`
	UncertaintyRange [2]float64 `yaml:"uncertainty_range"`

	// Plugins lists the active environment plugins in order, with their
	// options keyed by plugin name.
	Plugins       []string              `yaml:"plugins"`
	PluginOptions map[string]*yaml.Node `yaml:"plugin_options,omitempty"`

	// Cpuset sizes the resource partition.
	Cpuset cpuset.Config `yaml:"cpuset"`

	// OutFile receives the serialized results, ErroneousFile the failed
	// block specs. StorePerRound persists after every round instead of
	// only at the end.
	OutFile       string `yaml:"out"`
	ErroneousFile string `yaml:"erroneous_out,omitempty"`
	StorePerRound bool   `yaml:"store_per_round"`

	// AppendFile optionally names an earlier result file whose series
	// join the comparison as external blocks.
	AppendFile string `yaml:"append,omitempty"`

	// ShowReport prints the summary table, ShowProgress the round
	// spinner.
	ShowReport   bool `yaml:"show_report"`
	ShowProgress bool `yaml:"show_progress"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinRuns:          20,
		MaxRuns:          100,
		RunBlockSize:     1,
		Tester:           stats.DefaultTester,
		UncertaintyRange: [2]float64{0.05, 0.15},
		Cpuset:           cpuset.DefaultConfig(),
		OutFile:          "run_output.yaml",
		ShowReport:       true,
	}
}

// normalize resolves the fixed run shortcut and validates the bounds.
func (c *Config) normalize() error {
	if c.FixedRuns > 0 {
		c.MinRuns = c.FixedRuns
		c.MaxRuns = c.FixedRuns
	}
	if c.MinRuns < 1 || c.MaxRuns < c.MinRuns {
		return fmt.Errorf("invalid run bounds [%d, %d]", c.MinRuns, c.MaxRuns)
	}
	if c.RunBlockSize < 1 {
		c.RunBlockSize = 1
	}
	if c.Tester == "" {
		c.Tester = stats.DefaultTester
	}
	if c.ErroneousFile == "" && c.OutFile != "" {
		c.ErroneousFile = c.OutFile + ".erroneous"
	}
	return nil
}
