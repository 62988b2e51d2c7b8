package plugins

import (
	"context"
	"fmt"
	"os/exec"

	"gopkg.in/yaml.v3"
)

// disableSwapPlugin turns off swapping for the whole run so page-outs
// cannot distort measurements, and turns it back on afterwards.
type disableSwapPlugin struct {
	NopPlugin
	disabled bool
}

func newDisableSwapPlugin(node *yaml.Node) (Plugin, error) {
	if err := decodeOptions(node, &struct{}{}); err != nil {
		return nil, err
	}
	if err := requireRoot("disable_swap"); err != nil {
		return nil, err
	}
	return &disableSwapPlugin{}, nil
}

func (p *disableSwapPlugin) Name() string { return "disable_swap" }

func (p *disableSwapPlugin) Setup(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "swapoff", "-a").CombinedOutput()
	if err != nil {
		return fmt.Errorf("swapoff -a: %w: %s", err, out)
	}
	p.disabled = true
	return nil
}

func (p *disableSwapPlugin) Teardown(ctx context.Context) error {
	if !p.disabled {
		return nil
	}
	out, err := exec.CommandContext(ctx, "swapon", "-a").CombinedOutput()
	if err != nil {
		return fmt.Errorf("swapon -a: %w: %s", err, out)
	}
	p.disabled = false
	return nil
}
