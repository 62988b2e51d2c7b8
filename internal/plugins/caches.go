package plugins

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/driver"
)

type dropCachesOptions struct {
	FreeDentriesInodes bool `yaml:"free_dentries_inodes"`
}

// dropCachesPlugin syncs and drops the page cache before every program
// invocation so each one starts from a cold file system.
type dropCachesPlugin struct {
	NopPlugin
	opts dropCachesOptions
	path string
}

func newDropCachesPlugin(node *yaml.Node) (Plugin, error) {
	opts := dropCachesOptions{FreeDentriesInodes: true}
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	if err := requireRoot("drop_fs_caches"); err != nil {
		return nil, err
	}
	return &dropCachesPlugin{opts: opts, path: "/proc/sys/vm/drop_caches"}, nil
}

func (p *dropCachesPlugin) Name() string { return "drop_fs_caches" }

func (p *dropCachesPlugin) SetupBlockRun(ctx context.Context, _ *driver.BlockConfig) error {
	unix.Sync()
	mode := "1"
	if p.opts.FreeDentriesInodes {
		mode = "3"
	}
	if err := os.WriteFile(p.path, []byte(mode), 0o200); err != nil {
		return fmt.Errorf("drop caches: %w", err)
	}
	return nil
}
