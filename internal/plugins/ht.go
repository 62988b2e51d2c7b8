package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/ctxlog"
)

// disableHTPlugin takes every hyper-threading sibling beyond the first
// of each physical core offline for the whole run and brings them back
// afterwards.
type disableHTPlugin struct {
	NopPlugin
	base    string
	offline []int
}

func newDisableHTPlugin(node *yaml.Node) (Plugin, error) {
	if err := decodeOptions(node, &struct{}{}); err != nil {
		return nil, err
	}
	if err := requireRoot("disable_ht"); err != nil {
		return nil, err
	}
	return &disableHTPlugin{base: "/sys/devices/system/cpu"}, nil
}

func (p *disableHTPlugin) Name() string { return "disable_ht" }

func (p *disableHTPlugin) Setup(ctx context.Context) error {
	siblings, err := p.siblingCPUs()
	if err != nil {
		return err
	}
	for _, cpu := range siblings {
		file := filepath.Join(p.base, fmt.Sprintf("cpu%d", cpu), "online")
		if err := os.WriteFile(file, []byte("0"), 0o644); err != nil {
			return fmt.Errorf("offline cpu %d: %w", cpu, err)
		}
		p.offline = append(p.offline, cpu)
	}
	ctxlog.FromContext(ctx).Info("disabled hyper-threading siblings", "cpus", p.offline)
	return nil
}

func (p *disableHTPlugin) Teardown(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	for _, cpu := range p.offline {
		file := filepath.Join(p.base, fmt.Sprintf("cpu%d", cpu), "online")
		if err := os.WriteFile(file, []byte("1"), 0o644); err != nil {
			log.Warn("online cpu failed", "cpu", cpu, "err", err)
		}
	}
	p.offline = nil
	return nil
}

// siblingCPUs returns every CPU that is not the first entry of its
// core's thread sibling list.
func (p *disableHTPlugin) siblingCPUs() ([]int, error) {
	files, err := filepath.Glob(filepath.Join(p.base, "cpu[0-9]*", "topology", "thread_siblings_list"))
	if err != nil {
		return nil, err
	}
	var siblings []int
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		cpus, err := parseCPUList(strings.TrimSpace(string(raw)))
		if err != nil || len(cpus) < 2 {
			continue
		}
		dir := filepath.Dir(filepath.Dir(file))
		own, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(dir), "cpu"))
		if err != nil {
			continue
		}
		if own != cpus[0] {
			siblings = append(siblings, own)
		}
	}
	return siblings, nil
}

// parseCPUList parses sysfs CPU lists like "0,4" or "0-3,8-11".
func parseCPUList(list string) ([]int, error) {
	var cpus []int
	for _, part := range strings.Split(list, ",") {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			from, err := strconv.Atoi(lo)
			if err != nil {
				return nil, err
			}
			to, err := strconv.Atoi(hi)
			if err != nil {
				return nil, err
			}
			for cpu := from; cpu <= to; cpu++ {
				cpus = append(cpus, cpu)
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, err
			}
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
