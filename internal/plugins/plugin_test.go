package plugins

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/driver"
)

func optionsNode(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &node))
	return node.Content[0]
}

func TestRegistryNames(t *testing.T) {
	names := NewRegistry().Names()
	assert.Contains(t, names, "nice")
	assert.Contains(t, names, "stop_start")
	assert.Contains(t, names, "env_randomize")
	assert.Contains(t, names, "preheat")
	assert.IsIncreasing(t, names)
}

func TestBuildUnknownPlugin(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), []string{"does_not_exist"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does_not_exist")
}

func TestBuildSkipsUnprivilegedPlugins(t *testing.T) {
	registry := NewRegistry()
	registry.Register("privileged", func(*yaml.Node) (Plugin, error) {
		return nil, fmt.Errorf("needs root: %w", ErrMissingPrivilege)
	})
	active, err := registry.Build(context.Background(), []string{"privileged", "sync"}, nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sync", active[0].Name())
}

func TestBuildBrokenOptions(t *testing.T) {
	options := map[string]*yaml.Node{
		"env_randomize": optionsNode(t, "min: 10\nmax: 2\n"),
	}
	_, err := NewRegistry().Build(context.Background(), []string{"env_randomize"}, options)
	require.Error(t, err)
}

func TestEnvRandomizeAddsVariables(t *testing.T) {
	plugin, err := newEnvRandomizePlugin(optionsNode(t, "min: 2\nmax: 5\nkey_max: 8\nvar_max: 16\n"))
	require.NoError(t, err)

	cfg := &driver.BlockConfig{}
	require.NoError(t, plugin.SetupBlockRun(context.Background(), cfg))
	assert.GreaterOrEqual(t, len(cfg.Env), 2)
	assert.LessOrEqual(t, len(cfg.Env), 5)
	for key, value := range cfg.Env {
		assert.LessOrEqual(t, len(key), 8)
		assert.LessOrEqual(t, len(value), 16)
	}
}

func TestEnvRandomizeKeepsExistingVariables(t *testing.T) {
	plugin, err := newEnvRandomizePlugin(nil)
	require.NoError(t, err)

	cfg := &driver.BlockConfig{Env: map[string]string{"KEEP": "me"}}
	require.NoError(t, plugin.SetupBlockRun(context.Background(), cfg))
	assert.Equal(t, "me", cfg.Env["KEEP"])
}

func TestSyncPrefixesCommand(t *testing.T) {
	plugin, err := newSyncPlugin(nil)
	require.NoError(t, err)

	cfg := &driver.BlockConfig{CmdPrefix: []string{"existing"}}
	require.NoError(t, plugin.SetupBlock(context.Background(), cfg, 3))
	assert.Equal(t, []string{"existing", "sync"}, cfg.CmdPrefix)
}

func TestSleepHonorsCancellation(t *testing.T) {
	plugin, err := newSleepPlugin(optionsNode(t, "duration: 1h\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = plugin.SetupBlockRun(ctx, &driver.BlockConfig{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepWaits(t *testing.T) {
	plugin, err := newSleepPlugin(optionsNode(t, "duration: 10ms\n"))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, plugin.SetupBlockRun(context.Background(), &driver.BlockConfig{}))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestPreheatFinishes(t *testing.T) {
	plugin, err := newPreheatPlugin(optionsNode(t, "duration: 20ms\n"))
	require.NoError(t, err)
	require.NoError(t, plugin.Setup(context.Background()))
}

func TestParseCPUList(t *testing.T) {
	cases := []struct {
		list string
		want []int
	}{
		{"0", []int{0}},
		{"0,4", []int{0, 4}},
		{"0-3", []int{0, 1, 2, 3}},
		{"0-1,8-9", []int{0, 1, 8, 9}},
	}
	for _, tc := range cases {
		got, err := parseCPUList(tc.list)
		require.NoError(t, err, tc.list)
		assert.Equal(t, tc.want, got, tc.list)
	}

	_, err := parseCPUList("0,x")
	assert.Error(t, err)
}

func TestReadStatSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs /proc")
	}
	info, err := readStat(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.pid)
	assert.Greater(t, info.ppid, 0)
	assert.GreaterOrEqual(t, info.nice, -20)
	assert.LessOrEqual(t, info.nice, 19)
}

func TestNicePluginRejectsBadOptions(t *testing.T) {
	_, err := newNicePlugin(optionsNode(t, "nice: -100\n"))
	require.Error(t, err)

	_, err = newNicePlugin(optionsNode(t, "io_nice: 9\n"))
	require.Error(t, err)
}
