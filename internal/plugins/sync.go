package plugins

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/driver"
)

// syncPlugin prefixes every measured command line with sync so pending
// writes are flushed outside the measured region.
type syncPlugin struct {
	NopPlugin
}

func newSyncPlugin(node *yaml.Node) (Plugin, error) {
	if err := decodeOptions(node, &struct{}{}); err != nil {
		return nil, err
	}
	return &syncPlugin{}, nil
}

func (p *syncPlugin) Name() string { return "sync" }

func (p *syncPlugin) SetupBlock(ctx context.Context, cfg *driver.BlockConfig, _ int) error {
	cfg.CmdPrefix = append(cfg.CmdPrefix, "sync")
	return nil
}
