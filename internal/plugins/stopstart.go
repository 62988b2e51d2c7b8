package plugins

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/ctxlog"
)

type stopStartOptions struct {
	MinNice int `yaml:"min_nice"`
}

// stopStartPlugin sends SIGSTOP to most other processes for the
// duration of the run and SIGCONT on teardown. Processes that already
// run with a high priority (low nice) are assumed to be important and
// left alone, as are kernel threads.
type stopStartPlugin struct {
	NopPlugin
	opts    stopStartOptions
	stopped []int
}

func newStopStartPlugin(node *yaml.Node) (Plugin, error) {
	opts := stopStartOptions{MinNice: -10}
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	if err := requireRoot("stop_start"); err != nil {
		return nil, err
	}
	return &stopStartPlugin{opts: opts}, nil
}

func (p *stopStartPlugin) Name() string { return "stop_start" }

func (p *stopStartPlugin) Setup(ctx context.Context) error {
	procs, err := listProcesses()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	log := ctxlog.FromContext(ctx)
	for _, proc := range procs {
		if proc.nice <= p.opts.MinNice || proc.pid == 1 || proc.ppid == 0 {
			continue
		}
		if err := unix.Kill(proc.pid, unix.SIGSTOP); err != nil {
			log.Debug("stop failed", "pid", proc.pid, "err", err)
			continue
		}
		p.stopped = append(p.stopped, proc.pid)
	}
	log.Info("stopped other processes", "count", len(p.stopped))
	return nil
}

func (p *stopStartPlugin) Teardown(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	for _, pid := range p.stopped {
		if err := unix.Kill(pid, unix.SIGCONT); err != nil {
			log.Debug("continue failed", "pid", pid, "err", err)
		}
	}
	p.stopped = nil
	return nil
}
