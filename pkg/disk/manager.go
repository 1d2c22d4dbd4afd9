package disk

import (
	"os"

	"linuxenv/pkg/config"
)

// manager reports usage of linuxenv's local storage.
type manager struct {
	cfg config.ReadOnly
}

// Manager is a pointer to the internal manager implementation.
type Manager = *manager

// NewManager creates a new disk manager with the specified configuration.
func NewManager(cfg config.ReadOnly) Manager {
	return &manager{cfg: cfg}
}

// Usage represents disk usage information for a specific category of data.
type Usage struct {
	Label string `json:"label"`
	Size  int64  `json:"size"`
	Items int    `json:"items"`
	Path  string `json:"path"`
}

// GetInfo sizes each storage area and returns them in a fixed order with
// the total.
func (m *manager) GetInfo() ([]Usage, int64) {
	areas := []struct{ label, path string }{
		{"Environments", m.cfg.GetEnvRoot()},
		{"Launcher", m.cfg.GetPrimaryBinDir()},
		{"Launcher (fallback)", m.cfg.GetFallbackBinDir()},
		{"Libraries", m.cfg.GetLibDir()},
		{"Records", m.cfg.GetRecordDir()},
	}
	var total int64
	var stats []Usage
	for _, a := range areas {
		if _, err := os.Stat(a.path); err != nil {
			continue
		}
		size, count := DirSize(a.path)
		total += size
		stats = append(stats, Usage{Label: a.label, Size: size, Items: count, Path: a.path})
	}
	return stats, total
}
