// Package instruments loads the instrument registry from a YAML file. Each
// entry ties an instrument to the filesystem root its data files land under
// and to the default acquisition mode used when no reservation context says
// otherwise.
package instruments

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Instrument describes one registered instrument.
type Instrument struct {
	ID           string `yaml:"id" json:"id"`
	DisplayName  string `yaml:"display_name" json:"displayName"`
	RootPath     string `yaml:"root_path" json:"rootPath"`
	DefaultMode  string `yaml:"default_mode" json:"defaultMode"`
	CalendarName string `yaml:"calendar_name,omitempty" json:"calendarName,omitempty"`
}

type registryFile struct {
	Instruments []*Instrument `yaml:"instruments"`
}

// Registry holds the loaded instruments, preserving file order.
type Registry struct {
	byID  map[string]*Instrument
	order []*Instrument
}

// Load parses an instrument registry from a YAML file.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening instrument registry: %w", err)
	}
	defer f.Close()

	return LoadFromReader(f)
}

// LoadFromReader parses an instrument registry from an io.Reader.
func LoadFromReader(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading instrument registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing instrument registry: %w", err)
	}

	reg := &Registry{byID: make(map[string]*Instrument)}
	for _, instr := range file.Instruments {
		if instr.ID == "" {
			return nil, fmt.Errorf("instrument entry missing id")
		}
		if instr.RootPath == "" {
			return nil, fmt.Errorf("instrument %s missing root_path", instr.ID)
		}
		if _, dup := reg.byID[instr.ID]; dup {
			return nil, fmt.Errorf("duplicate instrument id: %s", instr.ID)
		}
		reg.byID[instr.ID] = instr
		reg.order = append(reg.order, instr)
	}
	return reg, nil
}

// Get returns the instrument with the given ID.
func (r *Registry) Get(id string) (*Instrument, bool) {
	instr, ok := r.byID[id]
	return instr, ok
}

// List returns all instruments in file order.
func (r *Registry) List() []*Instrument {
	return r.order
}
