package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/driver"
)

// blockSpec is one entry of the input file: attributes plus the run
// configuration. The erroneous side file uses the same shape, so it can
// be fed straight back in.
type blockSpec struct {
	Attributes map[string]string   `yaml:"attributes,omitempty"`
	RunConfig  *driver.BlockConfig `yaml:"run_config"`
}

// loadBlocks reads the block spec list. Ids are assigned later by the
// processor, in file order.
func loadBlocks(path string) ([]*driver.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []blockSpec
	if err := yaml.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("parse block specs %s: %w", path, err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%s contains no blocks", path)
	}
	blocks := make([]*driver.Block, 0, len(specs))
	for i, spec := range specs {
		if spec.RunConfig == nil || len(spec.RunConfig.RunCmds) == 0 {
			return nil, fmt.Errorf("block %d of %s has no run commands", i, path)
		}
		blocks = append(blocks, &driver.Block{
			Attributes: spec.Attributes,
			Config:     spec.RunConfig,
		})
	}
	return blocks, nil
}
