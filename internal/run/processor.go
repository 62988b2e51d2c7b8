// Package run orchestrates a whole benchmarking run: round-based
// scheduling of measurement calls, statistical convergence checks,
// persistence and the final report.
package run

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/stat"

	"github.com/benchra/benchra/internal/cpuset"
	"github.com/benchra/benchra/internal/ctxlog"
	"github.com/benchra/benchra/internal/driver"
	"github.com/benchra/benchra/internal/plugins"
	"github.com/benchra/benchra/internal/pool"
	"github.com/benchra/benchra/internal/rundata"
	"github.com/benchra/benchra/internal/stats"
)

// Processor drives the rounds of a benchmarking run until the time
// budget is spent, every block converged or a fixed run count is
// reached.
type Processor struct {
	cfg     Config
	blocks  []*driver.Block
	store   *rundata.Store
	plugreg *plugins.Registry
	runners *driver.RunnerRegistry
	testers *stats.Registry
	vcs     driver.VCSCheckout

	// newPool builds the worker pool once Run knows the deadline;
	// replaced in tests.
	newPool func(ctx context.Context, opts []pool.Option) (pool.Pool, func(), error)

	deadline time.Time
	round    int

	// seedSeconds holds per-run wall time observed during warm-up,
	// used for the first round estimate before the store has data.
	seedSeconds map[int]float64
}

// Option configures a Processor.
type Option func(*Processor)

// WithPluginRegistry replaces the built-in plugin registry.
func WithPluginRegistry(r *plugins.Registry) Option {
	return func(p *Processor) { p.plugreg = r }
}

// WithRunnerRegistry replaces the built-in runner registry.
func WithRunnerRegistry(r *driver.RunnerRegistry) Option {
	return func(p *Processor) { p.runners = r }
}

// WithTesters replaces the built-in tester registry.
func WithTesters(r *stats.Registry) Option {
	return func(p *Processor) { p.testers = r }
}

// WithVCSCheckout injects the revision checkout collaborator.
func WithVCSCheckout(vcs driver.VCSCheckout) Option {
	return func(p *Processor) { p.vcs = vcs }
}

// NewProcessor validates the configuration, loads any appended earlier
// results and registers the blocks with the store.
func NewProcessor(cfg Config, blocks []*driver.Block, opts ...Option) (*Processor, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	p := &Processor{
		cfg:         cfg,
		blocks:      blocks,
		plugreg:     plugins.NewRegistry(),
		runners:     driver.NewRunnerRegistry(),
		testers:     stats.NewRegistry(),
		seedSeconds: make(map[int]float64),
	}
	for _, opt := range opts {
		opt(p)
	}

	tester, err := p.testers.Lookup(cfg.Tester)
	if err != nil {
		return nil, err
	}
	classifier := stats.NewClassifier(tester, cfg.UncertaintyRange[0], cfg.UncertaintyRange[1])
	p.store = rundata.NewStore(classifier)

	if cfg.AppendFile != "" {
		f, err := os.Open(cfg.AppendFile)
		if err != nil {
			return nil, fmt.Errorf("open append file: %w", err)
		}
		err = p.store.LoadFrom(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("load append file %s: %w", cfg.AppendFile, err)
		}
	}
	for _, block := range blocks {
		block.ID = p.store.AddSeries(block.Attributes)
	}
	return p, nil
}

// Store exposes the measurement store, mainly for the report and tests.
func (p *Processor) Store() *rundata.Store { return p.store }

// buildDefaultPool creates the cpuset partition, the plugins and the
// matching pool flavour.
func (p *Processor) buildDefaultPool(ctx context.Context, opts []pool.Option) (pool.Pool, func(), error) {
	part, err := cpuset.New(ctx, p.cfg.Cpuset)
	if err != nil {
		return nil, nil, err
	}
	plugs, err := p.plugreg.Build(ctx, p.cfg.Plugins, p.cfg.PluginOptions)
	if err != nil {
		part.Teardown()
		return nil, nil, err
	}
	hooks := make([]driver.Hook, len(plugs))
	for i, plugin := range plugs {
		hooks[i] = plugin
	}
	drv := driver.New(p.runners,
		driver.WithHooks(hooks),
		driver.WithVCSCheckout(p.vcs),
		driver.WithSubprocessTimeout(p.cfg.MaxCallDuration.Std()))

	var pl pool.Pool
	if part.ParallelNumber() > 0 {
		pl, err = pool.NewParallel(ctx, drv, part, plugs, opts...)
	} else {
		pl, err = pool.NewSequential(ctx, drv, part, plugs, opts...)
	}
	if err != nil {
		part.Teardown()
		return nil, nil, err
	}
	return pl, func() { pl.Teardown(ctx) }, nil
}

// Run performs the whole benchmarking run. It always persists whatever
// has been collected, on success as well as on interruption. The
// returned error is nil for a clean run, a *BlocksFailedError when some
// blocks errored and something else for a fatal abort.
func (p *Processor) Run(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	if p.cfg.MaxTime > 0 {
		p.deadline = time.Now().Add(p.cfg.MaxTime.Std())
	}

	var opts []pool.Option
	if !p.deadline.IsZero() {
		opts = append(opts, pool.WithDeadline(p.deadline))
	}
	if p.cfg.MaxCallDuration > 0 {
		opts = append(opts, pool.WithMaxCallDuration(p.cfg.MaxCallDuration.Std()))
	}
	if p.cfg.MaxRate > 0 {
		opts = append(opts, pool.WithMaxRate(p.cfg.MaxRate))
	}
	build := p.newPool
	if build == nil {
		build = p.buildDefaultPool
	}
	pl, teardown, err := build(ctx, opts)
	if err != nil {
		return err
	}
	defer teardown()

	bar := p.progressBar()
	for i := 0; i < p.cfg.DiscardedRounds; i++ {
		if err := p.benchRound(ctx, pl, true, bar); err != nil {
			return p.finish(ctx, err)
		}
	}
	for {
		if ctx.Err() != nil {
			log.Warn("run interrupted, persisting partial results")
			return p.finish(ctx, ErrInterrupted)
		}
		if !p.shouldStartRound(ctx) {
			break
		}
		if err := p.benchRound(ctx, pl, false, bar); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				err = ErrInterrupted
			}
			return p.finish(ctx, err)
		}
		if p.cfg.StorePerRound {
			if err := p.persist(); err != nil {
				log.Warn("per-round persist failed", "err", err)
			}
		}
	}
	if bar != nil {
		bar.Finish()
	}
	return p.finish(ctx, nil)
}

// Rounds returns the number of completed benchmarking rounds, warm-up
// included.
func (p *Processor) Rounds() int { return p.round }

func (p *Processor) progressBar() *progressbar.ProgressBar {
	if !p.cfg.ShowProgress {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("benchmarking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
	)
}

// candidates selects the blocks of the next round: every healthy block
// under its minimum-runs floor, plus the statistically still uncertain
// ones below their maximum. Warm-up rounds take every healthy block.
func (p *Processor) candidates(warmup bool) []*driver.Block {
	uncertain := make(map[int]bool)
	if !warmup {
		for _, id := range p.store.IDsNeedingMoreData() {
			uncertain[id] = true
		}
	}
	var out []*driver.Block
	for _, block := range p.blocks {
		if p.store.HasError(block.ID) || p.store.Series(block.ID).Discarded {
			continue
		}
		if warmup {
			out = append(out, block)
			continue
		}
		have := p.store.Series(block.ID).MinValues()
		if have >= p.maxRunsFor(block) {
			continue
		}
		if have < p.minRunsFor(block) || uncertain[block.ID] {
			out = append(out, block)
		}
	}
	return out
}

func (p *Processor) minRunsFor(block *driver.Block) int {
	if block.Config.MinRuns > 0 {
		return block.Config.MinRuns
	}
	return p.cfg.MinRuns
}

func (p *Processor) maxRunsFor(block *driver.Block) int {
	if block.Config.MaxRuns > 0 {
		return block.Config.MaxRuns
	}
	return p.cfg.MaxRuns
}

// shouldStartRound is the termination rule: stop when nothing needs
// more data or when a projected round no longer fits into the budget.
func (p *Processor) shouldStartRound(ctx context.Context) bool {
	if len(p.candidates(false)) == 0 {
		return false
	}
	if p.deadline.IsZero() {
		return true
	}
	remaining := time.Until(p.deadline)
	if remaining <= 0 {
		return false
	}
	if est, ok := p.estimateRound(); ok && est > remaining {
		ctxlog.FromContext(ctx).Warn("next round is not worth starting",
			"estimated", est, "remaining", remaining)
		return false
	}
	return true
}

// estimateRound projects the wall time of the next round, falling back
// to the warm-up timings while the store has no samples yet.
func (p *Processor) estimateRound() (time.Duration, bool) {
	if est, ok := p.store.EstimateNextRoundTime(p.cfg.RunBlockSize, false); ok {
		return est, true
	}
	seconds := 0.0
	seen := false
	for _, block := range p.candidates(false) {
		if perRun, ok := p.seedSeconds[block.ID]; ok {
			seconds += perRun * float64(p.cfg.RunBlockSize)
			seen = true
		}
	}
	return time.Duration(seconds * float64(time.Second)), seen
}

// benchRound submits one measurement call per candidate and drains
// exactly as many results as it submitted.
func (p *Processor) benchRound(ctx context.Context, pl pool.Pool, warmup bool, bar *progressbar.ProgressBar) error {
	log := ctxlog.FromContext(ctx)
	cands := p.candidates(warmup)
	if len(cands) == 0 {
		return nil
	}
	if p.cfg.Shuffle {
		rand.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })
	}

	submitted := 0
	var submitErr error
	for _, block := range cands {
		err := pl.Submit(ctx, block, p.cfg.RunBlockSize)
		if errors.Is(err, pool.ErrDeadlineExceeded) {
			log.Info("time budget exhausted, ending submission", "round", p.round)
			break
		}
		if err != nil {
			submitErr = err
			break
		}
		block.Enqueued = true
		submitted++
	}

	for item := range pl.Results(submitted) {
		item.Block.Enqueued = false
		p.handleResult(ctx, item, warmup)
	}
	p.round++
	if bar != nil {
		bar.Add(1)
	}
	return submitErr
}

func (p *Processor) handleResult(ctx context.Context, item pool.Item, warmup bool) {
	log := ctxlog.FromContext(ctx)
	if item.Result == nil {
		// Dropped by the pool when the time budget ran out; not a
		// failure of the block.
		log.Debug("call dropped", "block", item.Block.Description())
		return
	}
	if err := item.Result.Err(); err != nil {
		p.store.RecordError(item.ID, err, p.cfg.DiscardAllDataOnError)
		log.Error("block failed", "block", item.Block.Description(), "err", err)
		return
	}
	if warmup {
		if times := item.Result.Data[rundata.TimeProperty]; len(times) > 0 {
			p.seedSeconds[item.ID] = stat.Mean(times, nil)
		}
		return
	}
	if err := p.store.AddDataBlock(item.ID, item.Result.Data); err != nil {
		p.store.RecordError(item.ID, &rundata.InternalError{
			Message: fmt.Sprintf("recording samples: %v", err),
		}, false)
		log.Error("block produced unusable samples", "block", item.Block.Description(), "err", err)
	}
}

// finish persists the collected state, writes the erroneous side file
// and the report, and classifies the outcome.
func (p *Processor) finish(ctx context.Context, cause error) error {
	log := ctxlog.FromContext(ctx)
	if err := p.persist(); err != nil {
		log.Error("persisting results failed", "err", err)
		if cause == nil {
			cause = err
		}
	}
	if err := p.writeErroneous(); err != nil {
		log.Warn("writing erroneous block file failed", "err", err)
	}
	if p.cfg.ShowReport {
		p.report(os.Stdout)
	}
	if cause != nil {
		return cause
	}
	if failed := p.store.ErroneousIDs(); len(failed) > 0 {
		e := &BlocksFailedError{}
		for _, id := range failed {
			e.Descriptions = append(e.Descriptions, p.describe(id))
		}
		return e
	}
	return nil
}

func (p *Processor) describe(id int) string {
	for _, block := range p.blocks {
		if block.ID == id {
			return block.Description()
		}
	}
	return fmt.Sprintf("block %d", id)
}
