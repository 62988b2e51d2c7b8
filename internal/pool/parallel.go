package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/benchra/benchra/internal/cpuset"
	"github.com/benchra/benchra/internal/ctxlog"
	"github.com/benchra/benchra/internal/driver"
	"github.com/benchra/benchra/internal/plugins"
)

const pollInterval = time.Second

type task struct {
	block *driver.Block
	runs  int
}

// Parallel runs one worker goroutine per partition slot. Each worker
// pins its OS thread to the slot's cores and polls the task queue so it
// can observe the stop signal between calls. Workers stay alive until
// teardown; once the time budget is spent or the run is cancelled they
// turn every remaining task into a dropped-call item so the drain
// barrier always sees one item per accepted submit.
type Parallel struct {
	*base
	tasks    chan task
	results  chan Item
	stop     chan struct{}
	stopOnce sync.Once
	group    *errgroup.Group
}

// NewParallel creates a pool with one worker per partition slot and
// runs the plugin setups. The partition must be in parallel mode.
func NewParallel(ctx context.Context, drv *driver.Driver, part Slots, plugs []plugins.Plugin, opts ...Option) (*Parallel, error) {
	slots := part.ParallelNumber()
	if slots < 1 {
		return nil, fmt.Errorf("pool: partition has no parallel slots")
	}
	b, err := newBase(ctx, drv, part, plugs, opts)
	if err != nil {
		return nil, err
	}
	p := &Parallel{
		base:    b,
		tasks:   make(chan task, 128),
		results: make(chan Item, slots),
		stop:    make(chan struct{}),
		group:   &errgroup.Group{},
	}
	for slot := 0; slot < slots; slot++ {
		p.group.Go(func() error { return p.worker(ctx, slot) })
	}
	return p, nil
}

func (p *Parallel) Submit(ctx context.Context, block *driver.Block, runs int) error {
	if _, _, err := p.nextCallTimeout(); err != nil {
		return err
	}
	select {
	case p.tasks <- task{block: block, runs: runs}:
		return nil
	case <-p.stop:
		return ErrDeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Parallel) Results(expected int) <-chan Item {
	out := make(chan Item, expected)
	go func() {
		defer close(out)
		for i := 0; i < expected; i++ {
			select {
			case item := <-p.results:
				out <- item
			case <-p.stop:
				return
			}
		}
	}()
	return out
}

// Teardown stops the workers and waits for them. A worker stuck in a
// measurement finishes its current call first; the driver's own
// timeouts bound that wait.
func (p *Parallel) Teardown(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.stop) })
	_ = p.group.Wait()
	p.teardown(ctx)
}

func (p *Parallel) worker(ctx context.Context, slot int) error {
	log := ctxlog.FromContext(ctx)
	unpin, err := cpuset.PinThread(p.part.SlotCPUs(slot))
	if err != nil {
		log.Warn("worker thread not pinned", "slot", slot, "err", err)
	} else {
		defer unpin()
	}

	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	for {
		timer.Reset(pollInterval)
		select {
		case <-p.stop:
			return nil
		case t := <-p.tasks:
			res, err := p.measure(ctx, t.block, t.runs, p.part.MeasureSet(slot))
			if err != nil {
				// Out of budget or cancelled. The call is dropped, but
				// the drain barrier still gets its item.
				log.Debug("call dropped", "slot", slot, "block", t.block.Description(), "err", err)
				p.emit(Item{Block: t.block, ID: t.block.ID})
				continue
			}
			p.emit(Item{Block: t.block, ID: t.block.ID, Result: res})
		case <-timer.C:
		}
	}
}

func (p *Parallel) emit(item Item) {
	select {
	case p.results <- item:
	case <-p.stop:
	}
}
