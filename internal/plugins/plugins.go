// Package plugins discovers dashboard widget manifests on disk.
package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name looked up in each plugin directory.
const ManifestFile = "manifest.json"

// Manifest describes one widget tab. JSON manifests parse as YAML.
type Manifest struct {
	ID          string         `yaml:"id" json:"id"`
	Title       string         `yaml:"title" json:"title"`
	Icon        string         `yaml:"icon" json:"icon"`
	TabLabel    string         `yaml:"tab_label" json:"tab_label"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string         `yaml:"version,omitempty" json:"version,omitempty"`
	Extra       map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// Validate checks required fields and that the id matches dir.
func (m Manifest) Validate(dir string) error {
	for field, v := range map[string]string{
		"id": m.ID, "title": m.Title, "icon": m.Icon, "tab_label": m.TabLabel,
	} {
		if v == "" {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	if m.ID != dir {
		return fmt.Errorf("id %q does not match directory %q", m.ID, dir)
	}
	return nil
}

// Discover returns the valid manifests under root, sorted by id.
// A missing root yields an empty list.
func Discover(root string, logger zerolog.Logger) ([]Manifest, error) {
	logger = logger.With().Str("component", "plugins").Logger()

	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return []Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plugins dir: %w", err)
	}

	out := make([]Manifest, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name(), ManifestFile)
		m, err := load(path)
		if os.IsNotExist(err) {
			continue
		}
		if err == nil {
			err = m.Validate(e.Name())
		}
		if err != nil {
			logger.Warn().Err(err).Str("plugin", e.Name()).Msg("skipping invalid plugin")
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func load(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}
	return m, nil
}
