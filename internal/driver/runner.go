package driver

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Runner is a measurement-tool-specific strategy: it rewrites the
// candidate commands of a block (for example to wrap them with a
// measurement tool) and extracts the numeric properties from the raw
// outputs of one invocation.
type Runner interface {
	// SetupBlock rewrites the block's commands before the call's runs.
	SetupBlock(cfg *BlockConfig) error

	// ParseResult extracts the named numeric properties of one
	// invocation.
	ParseResult(res *ExecResult) (map[string]float64, error)
}

// DefaultRunner is used when a block names no runner.
const DefaultRunner = "time"

// RunnerRegistry maps runner names to factories; built once at startup
// and passed explicitly.
type RunnerRegistry struct {
	mux       sync.RWMutex
	factories map[string]func(RunnerOptions) (Runner, error)
}

// NewRunnerRegistry creates a registry with the built-in runners
// ("time", "perf_stat", "output", "spec") registered.
func NewRunnerRegistry() *RunnerRegistry {
	r := &RunnerRegistry{factories: make(map[string]func(RunnerOptions) (Runner, error))}
	r.Register("time", func(RunnerOptions) (Runner, error) { return timeRunner{}, nil })
	r.Register("perf_stat", newPerfStatRunner)
	r.Register("output", func(RunnerOptions) (Runner, error) { return outputRunner{}, nil })
	r.Register("spec", newSpecRunner)
	return r
}

// Register adds a runner factory under the given name.
func (r *RunnerRegistry) Register(name string, factory func(RunnerOptions) (Runner, error)) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.factories[name] = factory
}

// Lookup instantiates the runner registered under name with the given
// options.
func (r *RunnerRegistry) Lookup(name string, opts RunnerOptions) (Runner, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	if name == "" {
		name = DefaultRunner
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown runner %q (have %v)", name, r.names())
	}
	return factory(opts)
}

// Names returns the sorted registered runner names.
func (r *RunnerRegistry) Names() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.names()
}

func (r *RunnerRegistry) names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// timeRunner measures nothing beyond the wall clock of the invocation.
type timeRunner struct{}

func (timeRunner) SetupBlock(*BlockConfig) error { return nil }

func (timeRunner) ParseResult(res *ExecResult) (map[string]float64, error) {
	return map[string]float64{"etime": res.Duration.Seconds()}, nil
}

// perfStatRunner wraps the command with perf stat and reads the
// machine-readable counter lines from stderr.
type perfStatRunner struct {
	properties []string
	repeat     int
}

var defaultPerfProperties = []string{
	"task-clock", "branch-misses", "cache-references", "cache-misses", "cycles", "instructions",
}

func newPerfStatRunner(opts RunnerOptions) (Runner, error) {
	props := opts.Properties
	if len(props) == 0 {
		props = defaultPerfProperties
	}
	repeat := opts.Repeat
	if repeat < 1 {
		repeat = 1
	}
	return &perfStatRunner{properties: props, repeat: repeat}, nil
}

func (p *perfStatRunner) SetupBlock(cfg *BlockConfig) error {
	repeat := ""
	if p.repeat > 1 {
		repeat = fmt.Sprintf("--repeat %d ", p.repeat)
	}
	for i, cmd := range cfg.RunCmds {
		cfg.RunCmds[i] = fmt.Sprintf("perf stat %s-x ';' -e %s -- %s",
			repeat, strings.Join(p.properties, ","), cmd)
	}
	return nil
}

// ParseResult reads lines of the form "<value>;<unit>;<event>;..." that
// perf stat -x ';' writes to stderr. Unsupported counters ("<not
// counted>") are skipped.
func (p *perfStatRunner) ParseResult(res *ExecResult) (map[string]float64, error) {
	props := make(map[string]float64)
	for _, line := range strings.Split(res.Stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, ";") {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) < 3 {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			continue
		}
		props[strings.TrimSpace(fields[2])] = value
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("perf stat produced no parsable counters on stderr")
	}
	return props, nil
}

// outputRunner reads "property: value" lines from the benchmarked
// program's own stdout.
type outputRunner struct{}

func (outputRunner) SetupBlock(*BlockConfig) error { return nil }

func (outputRunner) ParseResult(res *ExecResult) (map[string]float64, error) {
	props := make(map[string]float64)
	for _, line := range strings.Split(res.Stdout, "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
		if err != nil {
			continue
		}
		props[strings.TrimSpace(name)] = value
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("program output contained no 'property: number' lines")
	}
	return props, nil
}

// specRunner extracts properties from a side-effect result file using
// user-supplied regular expressions, one capture group each.
type specRunner struct {
	file     string
	patterns map[string]*regexp.Regexp
}

func newSpecRunner(opts RunnerOptions) (Runner, error) {
	if opts.File == "" || len(opts.Patterns) == 0 {
		return nil, fmt.Errorf("spec runner needs both a result file and extraction patterns")
	}
	patterns := make(map[string]*regexp.Regexp, len(opts.Patterns))
	for prop, expr := range opts.Patterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("spec runner pattern for %q: %w", prop, err)
		}
		if re.NumSubexp() != 1 {
			return nil, fmt.Errorf("spec runner pattern for %q: want exactly one capture group", prop)
		}
		patterns[prop] = re
	}
	return &specRunner{file: opts.File, patterns: patterns}, nil
}

func (s *specRunner) SetupBlock(*BlockConfig) error { return nil }

func (s *specRunner) ParseResult(*ExecResult) (map[string]float64, error) {
	raw, err := os.ReadFile(s.file)
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}
	props := make(map[string]float64, len(s.patterns))
	for prop, re := range s.patterns {
		m := re.FindStringSubmatch(string(raw))
		if m == nil {
			return nil, fmt.Errorf("result file %s does not match pattern for %q", s.file, prop)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("result file value for %q: %w", prop, err)
		}
		props[prop] = value
	}
	return props, nil
}
