package environment

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"linuxenv/pkg/common"
	"linuxenv/pkg/disk"
	"linuxenv/pkg/repair"
	"linuxenv/pkg/store"
)

// EnvironmentInfo describes one directory under the environment root.
type EnvironmentInfo struct {
	ID                 string        `json:"id"`
	Path               string        `json:"path"`
	Exists             bool          `json:"exists"`
	Distro             common.Distro `json:"distro,omitempty"`
	InstalledAtEpochMs int64         `json:"installedAtEpochMs,omitempty"`
	SizeBytes          int64         `json:"sizeBytes,omitempty"`
}

// StorageInfo summarizes disk and launcher state.
type StorageInfo struct {
	RootPath               string       `json:"rootPath"`
	FreeSpaceBytes         uint64       `json:"freeSpaceBytes"`
	TotalSpaceBytes        uint64       `json:"totalSpaceBytes"`
	ResolvedExecutablePath string       `json:"resolvedExecutablePath,omitempty"`
	ExecutableOK           bool         `json:"executableOk"`
	ExecutableError        string       `json:"executableError,omitempty"`
	Marker                 string       `json:"marker,omitempty"`
	Usage                  []disk.Usage `json:"usage"`
	UsageTotal             int64        `json:"usageTotal"`
}

// IsEnvironmentInstalled reports whether id has a root that looks like a
// finished install: an os-release file or at least a shell.
func (m *Manager) IsEnvironmentInstalled(id string) bool {
	if common.ValidateEnvID(id) != nil {
		return false
	}
	root := m.rootOf(id)
	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		return false
	}
	if exists(filepath.Join(root, "etc", "os-release")) {
		return true
	}
	_, ok := repair.FindShell(root)
	return ok
}

// ListEnvironments returns every directory under the root, sorted by id.
func (m *Manager) ListEnvironments() []EnvironmentInfo {
	entries, err := os.ReadDir(m.cfg.GetEnvRoot())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Cannot list environments", "error", err)
		}
		return nil
	}

	var out []EnvironmentInfo
	for _, e := range entries {
		if !e.IsDir() || common.ValidateEnvID(e.Name()) != nil {
			continue
		}
		info := EnvironmentInfo{
			ID:     e.Name(),
			Path:   m.rootOf(e.Name()),
			Exists: m.IsEnvironmentInstalled(e.Name()),
		}
		if rec, err := m.records.Get(e.Name()); err == nil {
			info.Distro = rec.Distro
			info.InstalledAtEpochMs = rec.InstalledAtEpochMs
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Debug("Unreadable environment record", "id", e.Name(), "error", err)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListEnvironmentsWithSize is ListEnvironments plus the on-disk size of
// each root. It walks every tree, so it is slow for large roots.
func (m *Manager) ListEnvironmentsWithSize() []EnvironmentInfo {
	list := m.ListEnvironments()
	for i := range list {
		list[i].SizeBytes, _ = disk.DirSize(list[i].Path)
	}
	return list
}

// GetInstalledEnvironment returns the first installed environment.
func (m *Manager) GetInstalledEnvironment() (*EnvironmentInfo, bool) {
	for _, info := range m.ListEnvironments() {
		if info.Exists {
			return &info, true
		}
	}
	return nil, false
}

// DeleteEnvironment removes the root and record of id. It returns false
// when there was nothing to delete or the removal failed.
func (m *Manager) DeleteEnvironment(id string) bool {
	if common.ValidateEnvID(id) != nil {
		return false
	}
	root := m.rootOf(id)
	if !exists(root) {
		return false
	}
	if err := os.RemoveAll(root); err != nil {
		slog.Error("Deleting environment failed", "id", id, "error", err)
		return false
	}
	if err := m.records.Delete(id); err != nil {
		slog.Warn("Deleting environment record failed", "id", id, "error", err)
	}
	slog.Info("Deleted environment", "id", id)
	return true
}

// GetStorageInfo reports free space where environments live and whether
// a launcher can be resolved. It may extract the launcher.
func (m *Manager) GetStorageInfo(ctx context.Context) StorageInfo {
	info := StorageInfo{RootPath: m.cfg.GetEnvRoot()}

	if sp, err := disk.SpaceOf(nearestExisting(info.RootPath)); err == nil {
		info.FreeSpaceBytes, info.TotalSpaceBytes = sp.Free, sp.Total
	} else {
		slog.Debug("statfs failed", "path", info.RootPath, "error", err)
	}

	loc, err := m.resolver.Resolve(ctx)
	if err != nil {
		info.ExecutableError = err.Error()
	} else {
		info.ExecutableOK = true
		info.ResolvedExecutablePath = loc.Path
	}
	info.Marker = m.resolver.Marker()

	info.Usage, info.UsageTotal = disk.NewManager(m.cfg).GetInfo()
	return info
}

func nearestExisting(p string) string {
	for {
		if exists(p) {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
