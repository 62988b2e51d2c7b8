package plugins

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/driver"
)

type sleepOptions struct {
	Duration duration `yaml:"duration"`
}

// sleepPlugin waits before every program invocation to let the system
// settle down after the previous one.
type sleepPlugin struct {
	NopPlugin
	opts sleepOptions
}

func newSleepPlugin(node *yaml.Node) (Plugin, error) {
	opts := sleepOptions{Duration: duration(10 * time.Second)}
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	return &sleepPlugin{opts: opts}, nil
}

func (p *sleepPlugin) Name() string { return "sleep" }

func (p *sleepPlugin) SetupBlockRun(ctx context.Context, _ *driver.BlockConfig) error {
	timer := time.NewTimer(p.opts.Duration.std())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
