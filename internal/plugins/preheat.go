package plugins

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/ctxlog"
)

type preheatOptions struct {
	Duration duration `yaml:"duration"`
}

// preheatPlugin busy-loops on every CPU before measuring starts so
// frequency scaling has already ramped the cores up.
type preheatPlugin struct {
	NopPlugin
	opts preheatOptions
}

func newPreheatPlugin(node *yaml.Node) (Plugin, error) {
	opts := preheatOptions{Duration: duration(10 * time.Second)}
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	return &preheatPlugin{opts: opts}, nil
}

func (p *preheatPlugin) Name() string { return "preheat" }

func (p *preheatPlugin) Setup(ctx context.Context) error {
	ctxlog.FromContext(ctx).Info("preheating cpus", "duration", p.opts.Duration.std())
	deadline := time.Now().Add(p.opts.Duration.std())
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < runtime.NumCPU(); i++ {
		group.Go(func() error {
			x := 1.0001
			for time.Now().Before(deadline) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				for i := 0; i < 1_000_000; i++ {
					x *= 1.0000001
				}
			}
			runtime.KeepAlive(x)
			return nil
		})
	}
	return group.Wait()
}
