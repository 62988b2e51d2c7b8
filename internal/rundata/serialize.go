package rundata

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// record is one entry of the persisted result list. Exactly one of the
// two error fields may be set; a record carrying only property
// descriptions documents property names and holds no block data.
type record struct {
	Attributes           map[string]string    `yaml:"attributes,omitempty"`
	Data                 map[string][]float64 `yaml:"data,omitempty"`
	Error                *ProgramError        `yaml:"error,omitempty"`
	InternalError        *InternalError       `yaml:"internal_error,omitempty"`
	PropertyDescriptions map[string]string    `yaml:"property_descriptions,omitempty"`
}

// Serialize writes the full store state as a YAML list: one record per
// non-discarded series (external ones included), followed by an
// optional property descriptions record.
func (st *Store) Serialize(w io.Writer) error {
	var records []record
	for i, s := range st.series {
		if s.Discarded {
			continue
		}
		rec := record{Attributes: s.Attributes, Data: s.Data}
		if id := i - st.externalCount; id >= 0 {
			switch err := st.errs[id].(type) {
			case *ProgramError:
				rec.Error = err
			case *InternalError:
				rec.InternalError = err
			case nil:
			default:
				rec.InternalError = &InternalError{Message: err.Error()}
			}
		}
		records = append(records, rec)
	}
	if len(st.propertyDescriptions) > 0 {
		records = append(records, record{PropertyDescriptions: st.propertyDescriptions})
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(records)
}

// LoadFrom merges the records of a prior session into the store as
// external series. It must be called before any series of the current
// session is added.
func (st *Store) LoadFrom(r io.Reader) error {
	if len(st.series) > 0 {
		return fmt.Errorf("external data must be loaded into an empty store")
	}
	var records []record
	if err := yaml.NewDecoder(r).Decode(&records); err != nil {
		return fmt.Errorf("decode prior run data: %w", err)
	}
	for _, rec := range records {
		if rec.PropertyDescriptions != nil {
			for prop, descr := range rec.PropertyDescriptions {
				st.propertyDescriptions[prop] = descr
			}
			continue
		}
		s := NewSeries(rec.Attributes)
		s.External = true
		if err := s.AddDataBlock(rec.Data); err != nil {
			return fmt.Errorf("prior run data for %q: %w", s.Description(), err)
		}
		st.series = append(st.series, s)
	}
	st.externalCount = len(st.series)
	return nil
}
