// Command benchra benchmarks a set of program blocks until their
// runtimes can be statistically distinguished, or a time or run budget
// is spent.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/ctxlog"
	"github.com/benchra/benchra/internal/run"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	fs := flag.NewFlagSet("benchra", flag.ExitOnError)
	var (
		in         = fs.String("in", "run_config.yaml", "block spec file")
		configFile = fs.String("config", "", "global configuration file, flags override it")
		out        = fs.String("out", "", "result output file")
		appendTo   = fs.String("append", "", "prior result file to compare against")
		maxTime    = fs.Duration("time", 0, "wall time budget for the whole run, 0 is unlimited")
		blockTime  = fs.Duration("block-time", 0, "wall time bound per measurement call, 0 is unlimited")
		runs       = fs.Int("runs", 0, "fixed run count per block, overrides -min-runs/-max-runs")
		minRuns    = fs.Int("min-runs", 0, "minimum runs per block")
		maxRuns    = fs.Int("max-runs", 0, "maximum runs per block")
		blockSize  = fs.Int("block-size", 0, "runs submitted per block and round")
		discarded  = fs.Int("discarded", 0, "warm-up rounds whose results are thrown away")
		parallel   = fs.Int("parallel", 0, "parallel slots: 0 sequential, -1 as many as fit")
		baseCores  = fs.Int("base-cores", 0, "cores reserved for the host system")
		slotCores  = fs.Int("slot-cores", 0, "cores per parallel slot")
		tester     = fs.String("tester", "", "statistical tester: t, ks or anderson")
		pluginList = fs.String("plugins", "", "comma-separated environment plugins")
		shuffle    = fs.Bool("shuffle", false, "randomize submission order per round")
		noReport   = fs.Bool("no-report", false, "suppress the summary report")
		progress   = fs.Bool("progress", false, "show a round progress spinner")
		verbose    = fs.Bool("v", false, "verbose logging")
	)
	fs.Parse(args)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	ctx := ctxlog.WithLogger(context.Background(), ctxlog.New(level))
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := run.DefaultConfig()
	if *configFile != "" {
		raw, err := os.ReadFile(*configFile)
		if err == nil {
			err = yaml.Unmarshal(raw, &cfg)
		}
		if err != nil {
			color.Red("reading configuration: %v", err)
			return run.ExitAborted
		}
	}
	applyFlags(fs, &cfg, flagValues{
		out: *out, appendTo: *appendTo, maxTime: *maxTime, blockTime: *blockTime,
		runs: *runs, minRuns: *minRuns, maxRuns: *maxRuns, blockSize: *blockSize,
		discarded: *discarded, parallel: *parallel, baseCores: *baseCores,
		slotCores: *slotCores, tester: *tester, plugins: *pluginList,
		shuffle: *shuffle, noReport: *noReport, progress: *progress,
	})

	blocks, err := loadBlocks(*in)
	if err != nil {
		color.Red("%v", err)
		return run.ExitAborted
	}

	p, err := run.NewProcessor(cfg, blocks)
	if err != nil {
		color.Red("%v", err)
		return run.ExitAborted
	}
	err = p.Run(ctx)
	switch {
	case err == nil:
		color.Green("all %d block(s) benchmarked, results in %s", len(blocks), cfg.OutFile)
	case errors.Is(err, run.ErrInterrupted):
		color.Yellow("interrupted, partial results in %s", cfg.OutFile)
	default:
		color.Red("%v", err)
	}
	return run.ExitCode(err)
}

type flagValues struct {
	out, appendTo, tester, plugins    string
	maxTime, blockTime                time.Duration
	runs, minRuns, maxRuns, blockSize int
	discarded, parallel, baseCores    int
	slotCores                         int
	shuffle, noReport, progress       bool
}

// applyFlags overrides configuration fields with explicitly set flags
// only, so a configuration file and flags compose.
func applyFlags(fs *flag.FlagSet, cfg *run.Config, v flagValues) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["out"] {
		cfg.OutFile = v.out
		cfg.ErroneousFile = ""
	}
	if set["append"] {
		cfg.AppendFile = v.appendTo
	}
	if set["time"] {
		cfg.MaxTime = run.Duration(v.maxTime)
	}
	if set["block-time"] {
		cfg.MaxCallDuration = run.Duration(v.blockTime)
	}
	if set["runs"] {
		cfg.FixedRuns = v.runs
	}
	if set["min-runs"] {
		cfg.MinRuns = v.minRuns
	}
	if set["max-runs"] {
		cfg.MaxRuns = v.maxRuns
	}
	if set["block-size"] {
		cfg.RunBlockSize = v.blockSize
	}
	if set["discarded"] {
		cfg.DiscardedRounds = v.discarded
	}
	if set["parallel"] {
		cfg.Cpuset.ParallelSlots = v.parallel
	}
	if set["base-cores"] {
		cfg.Cpuset.BaseCores = v.baseCores
	}
	if set["slot-cores"] {
		cfg.Cpuset.CoresPerSlot = v.slotCores
	}
	if set["tester"] {
		cfg.Tester = v.tester
	}
	if set["plugins"] {
		cfg.Plugins = nil
		for _, name := range strings.Split(v.plugins, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Plugins = append(cfg.Plugins, name)
			}
		}
	}
	if set["shuffle"] {
		cfg.Shuffle = v.shuffle
	}
	if set["no-report"] {
		cfg.ShowReport = !v.noReport
	}
	if set["progress"] {
		cfg.ShowProgress = v.progress
	}
}
