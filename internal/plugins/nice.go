package plugins

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

type niceOptions struct {
	Nice   int `yaml:"nice"`
	IONice int `yaml:"io_nice"`
}

// nicePlugin raises the scheduling and IO priority of the benchmarking
// process itself for the whole run.
type nicePlugin struct {
	NopPlugin
	opts    niceOptions
	oldNice int
}

func newNicePlugin(node *yaml.Node) (Plugin, error) {
	opts := niceOptions{Nice: -15, IONice: 1}
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	if opts.Nice < -20 || opts.Nice > 19 {
		return nil, fmt.Errorf("nice value %d out of range [-20, 19]", opts.Nice)
	}
	if opts.IONice < 0 || opts.IONice > 3 {
		return nil, fmt.Errorf("io_nice class %d out of range [0, 3]", opts.IONice)
	}
	if err := requireRoot("nice"); err != nil {
		return nil, err
	}
	return &nicePlugin{opts: opts}, nil
}

func (p *nicePlugin) Name() string { return "nice" }

func (p *nicePlugin) Setup(ctx context.Context) error {
	old, err := unix.Getpriority(unix.PRIO_PROCESS, 0)
	if err != nil {
		return fmt.Errorf("read own priority: %w", err)
	}
	// Getpriority returns 20-nice to avoid the -1 ambiguity.
	p.oldNice = 20 - old
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, p.opts.Nice); err != nil {
		return fmt.Errorf("set own priority to %d: %w", p.opts.Nice, err)
	}
	if err := setIOPriority(0, p.opts.IONice, 0); err != nil {
		return fmt.Errorf("set own io priority: %w", err)
	}
	return nil
}

func (p *nicePlugin) Teardown(ctx context.Context) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, p.oldNice); err != nil {
		return fmt.Errorf("restore own priority: %w", err)
	}
	return nil
}
