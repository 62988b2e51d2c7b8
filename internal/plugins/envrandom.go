package plugins

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/driver"
)

type envRandomizeOptions struct {
	Min    int `yaml:"min"`
	Max    int `yaml:"max"`
	KeyMax int `yaml:"key_max"`
	VarMax int `yaml:"var_max"`
}

// envRandomizePlugin adds a random number of random environment
// variables before every program invocation. Varying the environment
// size shifts the initial stack alignment between invocations, which
// averages out measurement bias caused by a fixed memory layout.
type envRandomizePlugin struct {
	NopPlugin
	opts envRandomizeOptions
}

func newEnvRandomizePlugin(node *yaml.Node) (Plugin, error) {
	opts := envRandomizeOptions{Min: 4, Max: 4, KeyMax: 4096, VarMax: 4096}
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	if opts.Min < 0 || opts.Max < opts.Min {
		return nil, fmt.Errorf("invalid variable count range [%d, %d]", opts.Min, opts.Max)
	}
	if opts.KeyMax < 1 || opts.VarMax < 1 {
		return nil, fmt.Errorf("key_max and var_max must be positive")
	}
	return &envRandomizePlugin{opts: opts}, nil
}

func (p *envRandomizePlugin) Name() string { return "env_randomize" }

func (p *envRandomizePlugin) SetupBlockRun(ctx context.Context, cfg *driver.BlockConfig) error {
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}
	count := p.opts.Min + rand.IntN(p.opts.Max-p.opts.Min+1)
	for i := 0; i < count; i++ {
		key := randomLetters(1 + rand.IntN(p.opts.KeyMax))
		cfg.Env[key] = randomLetters(1 + rand.IntN(p.opts.VarMax))
	}
	return nil
}

func randomLetters(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = letters[rand.IntN(len(letters))]
	}
	return string(buf)
}
