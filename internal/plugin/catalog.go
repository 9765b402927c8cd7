// Package plugin implements PluginManager and PluginInstaller: a
// catalog of known agent adapters, their cached installation state under
// <appCacheDir>/plugins/<pluginId>/, and a permissioned installer for
// fetching one that isn't cached yet.
package plugin

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogEntry describes one installable agent adapter.
type CatalogEntry struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"displayName"`
	// Command/Args launch the adapter once installed.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// InstallCommand/InstallArgs fetch or build the adapter the first time
	// it's used. Empty InstallCommand means the plugin is expected to
	// already be present on PATH (no install step).
	InstallCommand string   `yaml:"installCommand"`
	InstallArgs    []string `yaml:"installArgs"`
	// Version is the catalog's declared current version, compared against
	// the installed marker when a status query asks to check for updates.
	Version string `yaml:"version"`
}

type Catalog struct {
	Plugins []CatalogEntry `yaml:"plugins"`
}

// LoadCatalog reads the YAML plugin catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse plugin catalog: %w", err)
	}
	return &cat, nil
}

func (c *Catalog) Lookup(pluginID string) (CatalogEntry, bool) {
	for _, e := range c.Plugins {
		if e.ID == pluginID {
			return e, true
		}
	}
	return CatalogEntry{}, false
}
