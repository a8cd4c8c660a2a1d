// Loads and saves the list of indexes of a store.

package jsonkv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const catalogVersion = 1

// catalog is the content of catalog.yaml in the index directory.
type catalog struct {
	Version int         `yaml:"version"`
	Indexes []IndexInfo `yaml:"indexes"`
}

// Validate checks the catalog for unsupported versions and bad names.
func (c *catalog) Validate() error {
	if c.Version != catalogVersion {
		return fmt.Errorf("unsupported catalog version %d", c.Version)
	}
	seen := map[string]bool{}
	for _, e := range c.Indexes {
		if !checkIndexName(e.Name) {
			return fmt.Errorf("%w: %q", ErrInvalidIndexName, e.Name)
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate index %q", e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// loadCatalog returns the indexes recorded in the catalog followed by any
// other <name>.json snapshot found in the index directory, which is treated
// as a value index.
func (p *PersistedState) loadCatalog() ([]IndexInfo, error) {
	var c catalog
	raw, err := os.ReadFile(p.catalogPath())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", p.catalogPath(), err)
		}
		if c.Version == 0 {
			c.Version = catalogVersion
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", p.catalogPath(), err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", p.catalogPath(), err)
	}

	out := c.Indexes
	entries, err := os.ReadDir(p.IndexDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", p.IndexDir, err)
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() || !checkIndexName(name) {
			continue
		}
		known := false
		for _, info := range out {
			if info.Name == name {
				known = true
				break
			}
		}
		if !known {
			out = append(out, IndexInfo{Name: name})
		}
	}
	return out, nil
}

func (p *PersistedState) saveCatalog(indexes []IndexInfo) error {
	raw, err := yaml.Marshal(&catalog{Version: catalogVersion, Indexes: indexes})
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return writeAtomic(p.catalogPath(), raw)
}
