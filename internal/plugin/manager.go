package plugin

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kandev/acpcore/internal/runtime/rterr"
)

// binMarkerFile records the resolved executable path for an installed
// plugin, one line, inside its cache directory.
const binMarkerFile = "bin"

// versionMarkerFile records the version installed at binMarkerFile, one
// line, written alongside it once an install completes.
const versionMarkerFile = "version"

// Status is the result of a GetStatus query: what's installed, and
// optionally what the catalog currently offers.
type Status struct {
	Installed        bool
	InstalledVersion string
	LatestVersion    string
	BinPath          string
}

// Manager resolves a plugin id to the executable that runs it, consulting
// the on-disk cache under <appCacheDir>/plugins/<pluginId>/ before falling
// back to the catalog's declared command for plugins that ship without an
// install step.
type Manager struct {
	cacheDir string
	catalog  *Catalog
}

func NewManager(cacheDir string, catalog *Catalog) *Manager {
	return &Manager{cacheDir: cacheDir, catalog: catalog}
}

// List returns every catalog entry, for the command surface's plugin
// listing endpoint. It does not report installed state; IsInstalled does.
func (m *Manager) List() []CatalogEntry {
	return m.catalog.Plugins
}

func (m *Manager) PluginDir(pluginID string) string {
	return filepath.Join(m.cacheDir, "plugins", pluginID)
}

// IsInstalled reports whether pluginID is ready to run: either it has no
// install step (assumed already present on PATH) or its bin marker was
// already recorded by a prior install.
func (m *Manager) IsInstalled(pluginID string) bool {
	if entry, ok := m.catalog.Lookup(pluginID); ok && entry.InstallCommand == "" {
		return true
	}
	_, err := os.Stat(filepath.Join(m.PluginDir(pluginID), binMarkerFile))
	return err == nil
}

// ResolveBin returns the executable path and args to spawn pluginID's
// adapter. A plugin with no InstallCommand in the catalog is assumed
// already available (e.g. on PATH) and resolves directly from the catalog
// entry without consulting the cache.
func (m *Manager) ResolveBin(pluginID string) (string, []string, error) {
	entry, ok := m.catalog.Lookup(pluginID)
	if !ok {
		return "", nil, &rterr.PluginNotInstalled{PluginID: pluginID}
	}
	if entry.InstallCommand == "" {
		if entry.Command == "" {
			return "", nil, &rterr.PluginMissingBinPath{PluginID: pluginID}
		}
		return entry.Command, entry.Args, nil
	}

	markerPath := filepath.Join(m.PluginDir(pluginID), binMarkerFile)
	data, err := os.ReadFile(markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, &rterr.PluginNotInstalled{PluginID: pluginID}
		}
		return "", nil, &rterr.IoError{Op: "read plugin bin marker", Err: err}
	}

	bin := strings.TrimSpace(string(data))
	if bin == "" {
		return "", nil, &rterr.PluginMissingBinPath{PluginID: pluginID}
	}
	return bin, entry.Args, nil
}

// RecordInstalled writes the bin marker after a successful install.
func (m *Manager) RecordInstalled(pluginID, binPath string) error {
	dir := m.PluginDir(pluginID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &rterr.IoError{Op: "create plugin cache dir", Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, binMarkerFile), []byte(binPath+"\n"), 0o644); err != nil {
		return &rterr.IoError{Op: "write plugin bin marker", Err: err}
	}
	return nil
}

// RecordVersion writes the installed version marker alongside the bin
// marker. A catalog entry with no declared version is a no-op.
func (m *Manager) RecordVersion(pluginID, version string) error {
	if version == "" {
		return nil
	}
	dir := m.PluginDir(pluginID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &rterr.IoError{Op: "create plugin cache dir", Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, versionMarkerFile), []byte(version+"\n"), 0o644); err != nil {
		return &rterr.IoError{Op: "write plugin version marker", Err: err}
	}
	return nil
}

// GetStatus reports pluginID's installation state. InstalledVersion and
// BinPath are only populated when the plugin is installed; LatestVersion is
// only populated when checkUpdates is true, so a caller not interested in
// updates doesn't pay for a catalog round-trip it won't use.
func (m *Manager) GetStatus(pluginID string, checkUpdates bool) (Status, error) {
	entry, ok := m.catalog.Lookup(pluginID)
	if !ok {
		return Status{}, &rterr.PluginNotInstalled{PluginID: pluginID}
	}

	status := Status{Installed: m.IsInstalled(pluginID)}
	if checkUpdates {
		status.LatestVersion = entry.Version
	}
	if !status.Installed {
		return status, nil
	}

	if bin, _, err := m.ResolveBin(pluginID); err == nil {
		status.BinPath = bin
	}
	if data, err := os.ReadFile(filepath.Join(m.PluginDir(pluginID), versionMarkerFile)); err == nil {
		status.InstalledVersion = strings.TrimSpace(string(data))
	}
	return status, nil
}
