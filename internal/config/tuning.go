package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tuning holds the matching thresholds that linguists adjust per
// corpus; it lives in its own YAML file so the operational config
// stays untouched when thresholds change.
type Tuning struct {
	Dedupe  DedupeTuning  `yaml:"dedupe"`
	Resolve ResolveTuning `yaml:"resolve"`
}

// DedupeTuning holds the clustering thresholds.
type DedupeTuning struct {
	KeyThreshold   float64 `yaml:"key_threshold"`
	NotesThreshold float64 `yaml:"notes_threshold"`
}

// ResolveTuning configures the resolution cascade.
type ResolveTuning struct {
	Suffixes []string `yaml:"suffixes"`
}

// DefaultTuning returns the built-in thresholds.
func DefaultTuning() *Tuning {
	return &Tuning{
		Dedupe: DedupeTuning{KeyThreshold: 0.8, NotesThreshold: 0.7},
		Resolve: ResolveTuning{
			Suffixes: []string{"en", "er", "e", "n", "s"},
		},
	}
}

// LoadTuning reads a tuning file, filling gaps with defaults. An empty
// path returns the defaults.
func LoadTuning(path string) (*Tuning, error) {
	def := DefaultTuning()
	if path == "" {
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read tuning %s", path)
	}

	var wrapper struct {
		Tuning Tuning `yaml:"tuning"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "config: parse tuning")
	}

	t := &wrapper.Tuning
	if t.Dedupe.KeyThreshold == 0 {
		t.Dedupe.KeyThreshold = def.Dedupe.KeyThreshold
	}
	if t.Dedupe.NotesThreshold == 0 {
		t.Dedupe.NotesThreshold = def.Dedupe.NotesThreshold
	}
	if len(t.Resolve.Suffixes) == 0 {
		t.Resolve.Suffixes = def.Resolve.Suffixes
	}
	return t, nil
}
