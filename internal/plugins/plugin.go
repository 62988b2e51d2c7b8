// Package plugins contains the environment stabilization hooks that run
// around the benchmarking pool, per block and per invocation. Most of
// them tweak Linux knobs and therefore need root; a plugin lacking its
// privileges is skipped with a warning instead of aborting the run.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/ctxlog"
	"github.com/benchra/benchra/internal/driver"
)

// Plugin is the capability interface of an environment hook. Embed
// NopPlugin to implement only the stages a plugin cares about.
//
// Lifecycle: Setup once at pool creation; per round and block
// SetupBlock, then per invocation SetupBlockRun, then TeardownBlock;
// Teardown once at pool destruction. TeardownBlock and Teardown are
// always attempted, even after failures.
type Plugin interface {
	Name() string
	Setup(ctx context.Context) error
	SetupBlock(ctx context.Context, cfg *driver.BlockConfig, runs int) error
	SetupBlockRun(ctx context.Context, cfg *driver.BlockConfig) error
	TeardownBlock(ctx context.Context, cfg *driver.BlockConfig) error
	Teardown(ctx context.Context) error
}

// NopPlugin implements every stage as a no-op.
type NopPlugin struct{}

func (NopPlugin) Setup(context.Context) error                                { return nil }
func (NopPlugin) SetupBlock(context.Context, *driver.BlockConfig, int) error { return nil }
func (NopPlugin) SetupBlockRun(context.Context, *driver.BlockConfig) error   { return nil }
func (NopPlugin) TeardownBlock(context.Context, *driver.BlockConfig) error   { return nil }
func (NopPlugin) Teardown(context.Context) error                             { return nil }

// ErrMissingPrivilege marks a plugin that cannot work without
// privileges the process lacks. Build skips such plugins with a
// warning.
var ErrMissingPrivilege = errors.New("missing privileges")

func requireRoot(name string) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("plugin %s needs root: %w", name, ErrMissingPrivilege)
	}
	return nil
}

// Factory instantiates a plugin from its YAML options node (nil when
// the configuration carries no options).
type Factory func(options *yaml.Node) (Plugin, error)

// Registry maps plugin names to factories; built once at startup and
// passed explicitly.
type Registry struct {
	mux       sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with every built-in plugin registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("nice", newNicePlugin)
	r.Register("other_nice", newOtherNicePlugin)
	r.Register("stop_start", newStopStartPlugin)
	r.Register("drop_fs_caches", newDropCachesPlugin)
	r.Register("disable_swap", newDisableSwapPlugin)
	r.Register("cpu_governor", newGovernorPlugin)
	r.Register("disable_ht", newDisableHTPlugin)
	r.Register("disable_aslr", newDisableASLRPlugin)
	r.Register("env_randomize", newEnvRandomizePlugin)
	r.Register("preheat", newPreheatPlugin)
	r.Register("sleep", newSleepPlugin)
	r.Register("sync", newSyncPlugin)
	return r
}

// Register adds a factory under the given name.
func (r *Registry) Register(name string, factory Factory) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.factories[name] = factory
}

// Names returns the sorted registered plugin names.
func (r *Registry) Names() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named plugins in configured order. A plugin
// whose privileges are missing is logged and skipped; an unknown name
// or a broken option set is an error.
func (r *Registry) Build(ctx context.Context, names []string, options map[string]*yaml.Node) ([]Plugin, error) {
	log := ctxlog.FromContext(ctx)
	r.mux.RLock()
	defer r.mux.RUnlock()
	var active []Plugin
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q", name)
		}
		plugin, err := factory(options[name])
		if errors.Is(err, ErrMissingPrivilege) {
			log.Warn("skipping plugin", "plugin", name, "reason", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", name, err)
		}
		active = append(active, plugin)
	}
	return active, nil
}

// decodeOptions fills opts from the node, keeping the defaults when the
// configuration carries no options for the plugin.
func decodeOptions(node *yaml.Node, opts any) error {
	if node == nil {
		return nil
	}
	return node.Decode(opts)
}

// duration decodes from either a plain number of seconds or a Go
// duration string like "500ms".
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var seconds float64
	if err := node.Decode(&seconds); err == nil {
		*d = duration(seconds * float64(time.Second))
		return nil
	}
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

func (d duration) std() time.Duration { return time.Duration(d) }
