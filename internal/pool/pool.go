// Package pool schedules measurement calls onto execution slots. The
// sequential pool measures inline on the controller cores; the parallel
// pool runs one pinned worker per cpuset slot. Both hand results back
// through a drain channel so a round can wait for exactly the calls it
// submitted.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/benchra/benchra/internal/driver"
	"github.com/benchra/benchra/internal/plugins"
	"github.com/benchra/benchra/internal/rundata"
)

// Slots is the slice of the cpuset partition the pool needs: how many
// parallel slots exist, which cores and cpuset each slot owns, and the
// final release. *cpuset.Partition implements it.
type Slots interface {
	ParallelNumber() int
	SlotCPUs(slot int) []int
	MeasureSet(slot int) string
	Teardown()
}

// ErrDeadlineExceeded is returned by Submit once the global time budget
// is spent; nothing new is accepted after it.
var ErrDeadlineExceeded = errors.New("pool: time budget exhausted")

// Item is one finished measurement call. A nil Result marks a dropped
// call: the global time budget ran out or the run was cancelled before
// the call could finish, which is not held against the block.
type Item struct {
	Block  *driver.Block
	ID     int
	Result *driver.Result
}

// Pool runs measurement calls and returns their results.
//
// Submit hands one call to the pool; it returns ErrDeadlineExceeded
// past the deadline and the context error on cancellation. Results
// yields exactly expected items, one per accepted Submit, and closes
// the channel; it returns early only when the pool is torn down.
// Teardown stops the workers, runs the plugin teardowns and releases
// the cpuset partition; it is safe to call once.
type Pool interface {
	Submit(ctx context.Context, block *driver.Block, runs int) error
	Results(expected int) <-chan Item
	Teardown(ctx context.Context)
}

// Option configures a pool.
type Option func(*base)

// WithDeadline sets the global time budget; Submit refuses new calls
// past it and running calls are clipped to the remaining time.
func WithDeadline(deadline time.Time) Option {
	return func(b *base) { b.deadline = deadline }
}

// WithMaxCallDuration bounds the wall time of a single measurement
// call.
func WithMaxCallDuration(d time.Duration) Option {
	return func(b *base) { b.maxCall = d }
}

// WithMaxRate paces measurement calls to at most callsPerSecond across
// all slots.
func WithMaxRate(callsPerSecond float64) Option {
	return func(b *base) { b.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), 1) }
}

type base struct {
	driver   *driver.Driver
	part     Slots
	plugs    []plugins.Plugin
	limiter  *rate.Limiter
	deadline time.Time
	maxCall  time.Duration
}

func newBase(ctx context.Context, drv *driver.Driver, part Slots, plugs []plugins.Plugin, opts []Option) (*base, error) {
	b := &base{driver: drv, part: part, plugs: plugs}
	for _, opt := range opts {
		opt(b)
	}
	for i, plugin := range plugs {
		if err := plugin.Setup(ctx); err != nil {
			teardownPlugins(ctx, plugs[:i])
			return nil, fmt.Errorf("plugin %s setup: %w", plugin.Name(), err)
		}
	}
	return b, nil
}

func teardownPlugins(ctx context.Context, plugs []plugins.Plugin) {
	for i := len(plugs) - 1; i >= 0; i-- {
		plugs[i].Teardown(ctx)
	}
}

// nextCallTimeout clips a call to the remaining global budget and the
// per-call bound, whichever is tighter. byDeadline reports that the
// global budget is the binding bound. Zero means unbounded.
func (b *base) nextCallTimeout() (timeout time.Duration, byDeadline bool, err error) {
	if b.deadline.IsZero() {
		return b.maxCall, false, nil
	}
	remaining := time.Until(b.deadline)
	if remaining <= 0 {
		return 0, true, ErrDeadlineExceeded
	}
	if b.maxCall > 0 && b.maxCall < remaining {
		return b.maxCall, false, nil
	}
	return remaining, true, nil
}

// measure runs one call with pacing and time clipping applied. The
// returned error is ErrDeadlineExceeded when the global budget ran out
// before or during the call, or the context error of ctx; a per-call
// bound violation is reported inside the result instead, because only
// that one is a property of the block.
func (b *base) measure(ctx context.Context, block *driver.Block, runs int, slot string) (*driver.Result, error) {
	timeout, byDeadline, err := b.nextCallTimeout()
	if err != nil {
		return nil, err
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := b.driver.Measure(callCtx, block, runs, slot)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if callCtx.Err() != nil {
		if byDeadline {
			return nil, ErrDeadlineExceeded
		}
		res = driver.NewResult()
		res.SetInternalError(&rundata.InternalError{
			Message: fmt.Sprintf("call of %s exceeded its %s time budget", block.Description(), timeout),
		})
		return res, nil
	}
	if err != nil {
		res = driver.NewResult()
		res.SetInternalError(&rundata.InternalError{Message: err.Error()})
	}
	return res, nil
}

func (b *base) teardown(ctx context.Context) {
	teardownPlugins(ctx, b.plugs)
	b.part.Teardown()
}
