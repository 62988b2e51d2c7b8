package plugins

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// disableASLRPlugin turns address space layout randomization off for
// the whole run and restores the previous setting on teardown.
type disableASLRPlugin struct {
	NopPlugin
	path string
	old  string
}

func newDisableASLRPlugin(node *yaml.Node) (Plugin, error) {
	if err := decodeOptions(node, &struct{}{}); err != nil {
		return nil, err
	}
	if err := requireRoot("disable_aslr"); err != nil {
		return nil, err
	}
	return &disableASLRPlugin{path: "/proc/sys/kernel/randomize_va_space"}, nil
}

func (p *disableASLRPlugin) Name() string { return "disable_aslr" }

func (p *disableASLRPlugin) Setup(ctx context.Context) error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read aslr setting: %w", err)
	}
	p.old = strings.TrimSpace(string(raw))
	if err := os.WriteFile(p.path, []byte("0"), 0o644); err != nil {
		return fmt.Errorf("disable aslr: %w", err)
	}
	return nil
}

func (p *disableASLRPlugin) Teardown(ctx context.Context) error {
	if p.old == "" {
		return nil
	}
	if err := os.WriteFile(p.path, []byte(p.old), 0o644); err != nil {
		return fmt.Errorf("restore aslr: %w", err)
	}
	p.old = ""
	return nil
}
