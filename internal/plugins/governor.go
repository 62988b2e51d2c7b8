package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/ctxlog"
)

type governorOptions struct {
	Governor string `yaml:"governor"`
}

// governorPlugin pins the frequency scaling governor of every CPU for
// the whole run, typically to "performance", and restores the previous
// governors on teardown.
type governorPlugin struct {
	NopPlugin
	opts governorOptions
	base string
	old  map[string]string
}

func newGovernorPlugin(node *yaml.Node) (Plugin, error) {
	opts := governorOptions{Governor: "performance"}
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	if err := requireRoot("cpu_governor"); err != nil {
		return nil, err
	}
	return &governorPlugin{opts: opts, base: "/sys/devices/system/cpu"}, nil
}

func (p *governorPlugin) Name() string { return "cpu_governor" }

func (p *governorPlugin) governorFiles() ([]string, error) {
	return filepath.Glob(filepath.Join(p.base, "cpu[0-9]*", "cpufreq", "scaling_governor"))
}

func (p *governorPlugin) Setup(ctx context.Context) error {
	files, err := p.governorFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		ctxlog.FromContext(ctx).Warn("no cpufreq scaling governors found")
		return nil
	}
	p.old = make(map[string]string)
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read governor: %w", err)
		}
		if err := os.WriteFile(file, []byte(p.opts.Governor), 0o644); err != nil {
			return fmt.Errorf("set governor %s: %w", p.opts.Governor, err)
		}
		p.old[file] = strings.TrimSpace(string(raw))
	}
	return nil
}

func (p *governorPlugin) Teardown(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	for file, governor := range p.old {
		if err := os.WriteFile(file, []byte(governor), 0o644); err != nil {
			log.Warn("restore governor failed", "file", file, "err", err)
		}
	}
	p.old = nil
	return nil
}
