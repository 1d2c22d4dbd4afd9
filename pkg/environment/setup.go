package environment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"linuxenv/pkg/archive"
	"linuxenv/pkg/common"
	"linuxenv/pkg/display"
	"linuxenv/pkg/downloader"
	"linuxenv/pkg/repair"
)

// SetupResult is the outcome of one setup request.
type SetupResult struct {
	Environment      common.Environment `json:"environment"`
	Success          bool               `json:"success"`
	AlreadyInstalled bool               `json:"alreadyInstalled,omitempty"`
	Err              error              `json:"-"`
}

var rootfsSpan = downloader.Span{Start: 0.10, End: 0.60}

// SetupEnvironment provisions id in the background. Progress goes to the
// configured display and the result is delivered on the returned channel
// after the last progress update. After Shutdown the channel still
// yields exactly one cancelled result.
func (m *Manager) SetupEnvironment(ctx context.Context, distro common.Distro, id string) <-chan SetupResult {
	out := make(chan SetupResult, 1)
	deliver := func(res SetupResult) {
		out <- res
		close(out)
	}
	if m.closed.Load() {
		deliver(SetupResult{Err: common.Errorf(common.Cancelled, "manager is shut down")})
		return out
	}
	m.cancel.Store(false)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res, err := m.setup(ctx, distro, id)
		res.Err = err
		if !m.dispatcher.Post(func() { deliver(res) }) {
			deliver(res)
		}
	}()
	return out
}

// Setup provisions id and returns when it is done.
func (m *Manager) Setup(ctx context.Context, distro common.Distro, id string) (SetupResult, error) {
	m.cancel.Store(false)
	return m.setup(ctx, distro, id)
}

func (m *Manager) setup(ctx context.Context, distro common.Distro, id string) (SetupResult, error) {
	if err := common.ValidateEnvID(id); err != nil {
		return SetupResult{}, err
	}
	d, err := common.ParseDistro(string(distro))
	if err != nil {
		return SetupResult{}, err
	}
	if err := m.acquire(ctx); err != nil {
		return SetupResult{}, err
	}
	defer m.sem.Release(1)

	env := common.Environment{ID: id, Distro: d, RootPath: m.rootOf(id)}
	task := m.dispatcher.Task(m.display.StartTask("setup " + id))
	defer task.Done()

	if m.IsEnvironmentInstalled(id) {
		task.Progress(1, "Environment already installed!")
		if rec, err := m.records.Get(id); err == nil {
			env.Distro, env.InstalledAtEpochMs = rec.Distro, rec.InstalledAtEpochMs
		}
		return SetupResult{Environment: env, Success: true, AlreadyInstalled: true}, nil
	}

	if err := os.MkdirAll(env.RootPath, 0755); err != nil {
		return SetupResult{Environment: env}, fmt.Errorf("creating %s: %w", env.RootPath, err)
	}
	slog.Info("Setting up environment", "id", id, "distro", d)

	archivePath := filepath.Join(m.cfg.GetDataDir(), "rootfs_"+id+".tar.gz")
	err = m.provision(ctx, &env, &archivePath, task)
	os.Remove(archivePath)
	if err != nil {
		if rmErr := os.RemoveAll(env.RootPath); rmErr != nil {
			slog.Warn("Could not remove partial environment", "id", id, "error", rmErr)
		}
		if common.KindOf(err) == common.Cancelled {
			slog.Info("Setup cancelled", "id", id)
			task.Log("stopped")
		} else {
			slog.Error("Setup failed", "id", id, "error", err)
		}
		return SetupResult{Environment: env}, err
	}

	slog.Info("Environment ready", "id", id, "root", env.RootPath)
	return SetupResult{Environment: env, Success: true}, nil
}

// provision runs the pipeline. archivePath may be renamed to match the
// mirror's archive format; the caller removes whatever it ends up as.
func (m *Manager) provision(ctx context.Context, env *common.Environment, archivePath *string, task display.Task) error {
	loc, err := m.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if ls, ok := m.resolver.(libSetup); ok {
		if err := ls.SetupLibs(); err != nil {
			slog.Debug("proot helper libraries not staged", "error", err)
		}
	}
	task.Progress(0.05, "proot ready")
	slog.Debug("Using launcher", "location", loc)
	if m.cancelled(ctx) {
		return common.ErrCancelled
	}

	task.Progress(0.08, "Checking network…")
	if err := m.network(ctx); err != nil {
		return err
	}

	mirrors, err := m.catalog.Mirrors(ctx, env.Distro)
	if err != nil {
		if common.KindOf(err) == common.Cancelled {
			return err
		}
		return common.Wrap(common.AllMirrorsFailed, "no mirrors for "+string(env.Distro), err)
	}
	*archivePath = archiveName(*archivePath, mirrors)

	task.Progress(rootfsSpan.Start, fmt.Sprintf("Downloading %s rootfs…", env.Distro))
	if err := m.fetcher.Fetch(ctx, mirrors, *archivePath, rootfsSpan, task); err != nil {
		return err
	}

	task.Progress(0.62, "Extracting rootfs…")
	err = archive.Extract(ctx, *archivePath, env.RootPath, archive.Options{Cancel: &m.cancel})
	os.Remove(*archivePath)
	if err != nil {
		return err
	}
	if m.cancelled(ctx) {
		return common.ErrCancelled
	}

	task.Progress(0.73, "Repairing rootfs symlinks…")
	repair.Repair(env.RootPath)

	task.Progress(0.75, "Configuring environment…")
	if err := repair.Configure(env.RootPath); err != nil {
		slog.Warn("Configuring environment failed", "id", env.ID, "error", err)
	}

	if err := m.installer.Install(ctx, *env, task); err != nil {
		return err
	}
	if m.cancelled(ctx) {
		return common.ErrCancelled
	}

	env.InstalledAtEpochMs = time.Now().UnixMilli()
	if err := m.records.Put(env.ID, env); err != nil {
		slog.Warn("Could not save environment record", "id", env.ID, "error", err)
	}
	task.Progress(1, "Environment ready!")
	return nil
}

// archiveName keeps the .tar.gz default unless the first mirror names a
// different supported format.
func archiveName(def string, mirrors []string) string {
	if len(mirrors) == 0 {
		return def
	}
	u := mirrors[0]
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	for _, ext := range archive.SupportedExtensions() {
		if strings.HasSuffix(u, ext) && !strings.HasSuffix(def, ext) {
			return strings.TrimSuffix(def, ".tar.gz") + ext
		}
	}
	return def
}
