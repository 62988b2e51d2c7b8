package run

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/benchra/benchra/internal/driver"
)

// persist writes the serialized store to the configured output file,
// atomically through a rename so an interrupt never leaves a truncated
// file behind.
func (p *Processor) persist() error {
	if p.cfg.OutFile == "" {
		return nil
	}
	tmp := p.cfg.OutFile + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := p.store.Serialize(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("serialize results: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p.cfg.OutFile)
}

// erroneousBlock mirrors the input block spec shape so the side file
// can be fed back in for a re-run.
type erroneousBlock struct {
	Attributes map[string]string   `yaml:"attributes,omitempty"`
	RunConfig  *driver.BlockConfig `yaml:"run_config"`
}

// writeErroneous writes the specs of all failed blocks; with no
// failures any stale side file from an earlier run is removed.
func (p *Processor) writeErroneous() error {
	if p.cfg.ErroneousFile == "" {
		return nil
	}
	failed := p.store.ErroneousIDs()
	if len(failed) == 0 {
		err := os.Remove(p.cfg.ErroneousFile)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	ids := make(map[int]bool, len(failed))
	for _, id := range failed {
		ids[id] = true
	}
	var specs []erroneousBlock
	for _, block := range p.blocks {
		if ids[block.ID] {
			specs = append(specs, erroneousBlock{Attributes: block.Attributes, RunConfig: block.Config})
		}
	}
	f, err := os.Create(p.cfg.ErroneousFile)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	defer enc.Close()
	return enc.Encode(specs)
}
