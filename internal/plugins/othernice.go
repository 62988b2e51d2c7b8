package plugins

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/ctxlog"
)

type otherNiceOptions struct {
	Nice    int `yaml:"nice"`
	MinNice int `yaml:"min_nice"`
}

// otherNicePlugin lowers the priority of every other process so the
// benchmarked programs see less scheduling interference. Priorities
// are restored on teardown.
type otherNicePlugin struct {
	NopPlugin
	opts otherNiceOptions
	old  map[int]int
}

func newOtherNicePlugin(node *yaml.Node) (Plugin, error) {
	opts := otherNiceOptions{Nice: 19, MinNice: -10}
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	if err := requireRoot("other_nice"); err != nil {
		return nil, err
	}
	return &otherNicePlugin{opts: opts}, nil
}

func (p *otherNicePlugin) Name() string { return "other_nice" }

func (p *otherNicePlugin) Setup(ctx context.Context) error {
	procs, err := listProcesses()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	log := ctxlog.FromContext(ctx)
	p.old = make(map[int]int)
	for _, proc := range procs {
		if proc.nice <= p.opts.MinNice {
			continue
		}
		if err := unix.Setpriority(unix.PRIO_PROCESS, proc.pid, p.opts.Nice); err != nil {
			log.Debug("renice failed", "pid", proc.pid, "err", err)
			continue
		}
		p.old[proc.pid] = proc.nice
	}
	log.Info("lowered priority of other processes", "count", len(p.old))
	return nil
}

func (p *otherNicePlugin) Teardown(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	for pid, nice := range p.old {
		if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
			log.Debug("restore nice failed", "pid", pid, "err", err)
		}
	}
	p.old = nil
	return nil
}
