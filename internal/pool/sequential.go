package pool

import (
	"context"

	"github.com/benchra/benchra/internal/driver"
	"github.com/benchra/benchra/internal/plugins"
)

// Sequential measures every call inline on the controller cores, in
// submission order.
type Sequential struct {
	*base
	queue []Item
}

// NewSequential creates a sequential pool and runs the plugin setups.
func NewSequential(ctx context.Context, drv *driver.Driver, part Slots, plugs []plugins.Plugin, opts ...Option) (*Sequential, error) {
	b, err := newBase(ctx, drv, part, plugs, opts)
	if err != nil {
		return nil, err
	}
	return &Sequential{base: b}, nil
}

func (s *Sequential) Submit(ctx context.Context, block *driver.Block, runs int) error {
	res, err := s.measure(ctx, block, runs, s.part.MeasureSet(0))
	if err != nil {
		return err
	}
	s.queue = append(s.queue, Item{Block: block, ID: block.ID, Result: res})
	return nil
}

// Results pops the first expected queued items. Every call completes
// inside Submit, so the queue can never owe fewer items than accepted
// submits; a larger expected is clamped to what the queue holds.
func (s *Sequential) Results(expected int) <-chan Item {
	if expected > len(s.queue) {
		expected = len(s.queue)
	}
	out := make(chan Item, expected)
	for _, item := range s.queue[:expected] {
		out <- item
	}
	s.queue = s.queue[expected:]
	close(out)
	return out
}

func (s *Sequential) Teardown(ctx context.Context) {
	s.teardown(ctx)
}
