// Package bootstrap puts a Python interpreter into a freshly extracted
// root. Every step is best-effort: a root without Python is still usable.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"linuxenv/pkg/archive"
	"linuxenv/pkg/catalog"
	"linuxenv/pkg/common"
	"linuxenv/pkg/display"
)

// MinBootstrapSize separates a real Termux bootstrap from an error page or
// truncated download.
const MinBootstrapSize = 100000

// AptTimeout bounds the apt-get run inside an Ubuntu root.
const AptTimeout = 600000 * time.Millisecond

// cancelPoll is how often a running install checks the cancel flag.
const cancelPoll = 200 * time.Millisecond

const aptSandboxConf = `APT::Sandbox::User "root";
Acquire::AllowInsecureRepositories "true";
Acquire::Check-Valid-Until "false";
`

const aptInstall = "apt-get update -qq 2>&1 | grep -v '^W:' | tail -5; " +
	"apt-get install -y --no-install-recommends --allow-unauthenticated python3 python3-pip 2>&1 | tail -10"

// Sources lists download URLs for a named bundle.
type Sources interface {
	Bootstrap(ctx context.Context, name string) (common.MirrorList, error)
}

// Fetcher downloads a single URL to a file.
type Fetcher interface {
	FetchOne(ctx context.Context, uri, dest string) error
}

// Runner executes a shell command inside env.
type Runner func(ctx context.Context, env common.Environment, command, workingDir string, timeout time.Duration) common.CommandResult

// Bootstrapper installs the interpreter bundle matching an environment's
// distro.
type Bootstrapper struct {
	sources Sources
	fetch   Fetcher
	run     Runner
	tmpDir  string
	cancel  *atomic.Bool
}

// New returns a Bootstrapper that keeps its temporary downloads in tmpDir.
// cancel may be nil.
func New(sources Sources, fetch Fetcher, run Runner, tmpDir string, cancel *atomic.Bool) *Bootstrapper {
	if cancel == nil {
		cancel = new(atomic.Bool)
	}
	return &Bootstrapper{sources: sources, fetch: fetch, run: run, tmpDir: tmpDir, cancel: cancel}
}

// Install runs the distro specific bootstrap. Only cancellation is
// reported; every other failure is logged.
func (b *Bootstrapper) Install(ctx context.Context, env common.Environment, task display.Task) error {
	if task == nil {
		task = display.Nop
	}
	ctx, stop := b.watch(ctx)
	defer stop()
	task.Progress(0.78, "Downloading Python packages…")

	var err error
	switch env.Distro {
	case common.DistroUbuntu:
		err = b.installUbuntu(ctx, env, task)
	default:
		err = b.installAlpine(ctx, env, task)
	}
	if err == nil {
		return nil
	}
	if b.cancelled(ctx) || errors.Is(err, common.ErrCancelled) {
		return common.ErrCancelled
	}
	slog.Warn("Python bootstrap failed, continuing without it", "env", env.ID, "error", err)
	return nil
}

// watch derives a context that is cancelled once the cancel flag is
// raised, so blocking steps like the apt run stop with the setup.
func (b *Bootstrapper) watch(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(cancelPoll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if b.cancel.Load() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, cancel
}

func (b *Bootstrapper) cancelled(ctx context.Context) bool {
	return b.cancel.Load() || ctx.Err() != nil
}

func (b *Bootstrapper) installAlpine(ctx context.Context, env common.Environment, task display.Task) error {
	if err := os.MkdirAll(b.tmpDir, 0755); err != nil {
		return err
	}
	zipPath := filepath.Join(b.tmpDir, "termux_bootstrap.zip")
	defer os.Remove(zipPath)

	fetched, err := b.fetchFirst(ctx, catalog.BundleTermux, zipPath)
	if err != nil {
		return err
	}
	if !fetched || fileSize(zipPath) <= MinBootstrapSize {
		slog.Warn("Termux bootstrap unavailable, trying static Python", "env", env.ID)
		return b.installStatic(ctx, env)
	}

	task.Progress(0.85, "Extracting Python environment…")
	usr := filepath.Join(env.RootPath, "usr")
	if err := archive.ExtractBootstrap(ctx, zipPath, usr, archive.Options{Cancel: b.cancel}); err != nil {
		if common.KindOf(err) == common.Cancelled {
			return err
		}
		slog.Warn("Bootstrap extraction incomplete", "env", env.ID, "error", err)
	}

	task.Progress(0.93, "Creating symlinks…")
	linkAll(env.RootPath, dirLinks)
	linkAll(env.RootPath, pythonLinks)
	return nil
}

// fetchFirst downloads the first reachable URL of bundle to dest.
func (b *Bootstrapper) fetchFirst(ctx context.Context, bundle, dest string) (bool, error) {
	urls, err := b.sources.Bootstrap(ctx, bundle)
	if err != nil {
		slog.Warn("No bootstrap sources", "bundle", bundle, "error", err)
		return false, nil
	}
	for _, u := range urls {
		err := b.fetch.FetchOne(ctx, u, dest)
		if err == nil {
			return true, nil
		}
		if b.cancelled(ctx) || common.KindOf(err) == common.Cancelled {
			return false, common.ErrCancelled
		}
		slog.Warn("Bootstrap URL failed", "url", u, "error", err)
	}
	return false, nil
}

var staticExecPrefixes = []string{"usr/bin/", "bin/", "usr/sbin/", "sbin/"}

func (b *Bootstrapper) installStatic(ctx context.Context, env common.Environment) error {
	urls, err := b.sources.Bootstrap(ctx, catalog.BundleStaticPython)
	if err != nil {
		return fmt.Errorf("static python: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(env.RootPath, "usr", "bin"), 0755); err != nil {
		return err
	}

	tmp := filepath.Join(b.tmpDir, "static_python.zip")
	defer os.Remove(tmp)
	for _, u := range urls {
		if err := b.fetch.FetchOne(ctx, u, tmp); err != nil {
			if b.cancelled(ctx) || common.KindOf(err) == common.Cancelled {
				return common.ErrCancelled
			}
			slog.Warn("Static Python URL failed", "url", u, "error", err)
			continue
		}
		if err := b.unpackStatic(ctx, tmp, env.RootPath); err != nil {
			if common.KindOf(err) == common.Cancelled {
				return err
			}
			slog.Warn("Static Python archive unusable", "url", u, "error", err)
			continue
		}
		return nil
	}
	return errors.New("no static Python archive could be installed")
}

// unpackStatic treats the archive as a zip first and as a tar.gz second.
func (b *Bootstrapper) unpackStatic(ctx context.Context, src, root string) error {
	zerr := archive.ExtractZip(ctx, src, root, archive.Options{
		Cancel:       b.cancel,
		ExecPrefixes: staticExecPrefixes,
		SkipHidden:   true,
	})
	if zerr == nil || common.KindOf(zerr) == common.Cancelled {
		return zerr
	}
	if terr := archive.ExtractTarGz(ctx, src, root, b.cancel); terr != nil {
		return fmt.Errorf("zip: %v; tar.gz: %w", zerr, terr)
	}
	return nil
}

func (b *Bootstrapper) installUbuntu(ctx context.Context, env common.Environment, task display.Task) error {
	confDir := filepath.Join(env.RootPath, "etc", "apt", "apt.conf.d")
	if err := os.MkdirAll(confDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(confDir, "99sandbox"), []byte(aptSandboxConf), 0644); err != nil {
		return err
	}
	if b.run == nil {
		return errors.New("no command runner")
	}

	task.Progress(0.85, "Installing Python with apt…")
	res := b.run(ctx, env, aptInstall, "/", AptTimeout)
	if b.cancelled(ctx) {
		return common.ErrCancelled
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("apt-get exited with %d: %s", res.ExitCode, lastLine(res.Stderr))
	}
	slog.Info("Installed python3 via apt", "env", env.ID)
	return nil
}

func fileSize(p string) int64 {
	fi, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	return s[strings.LastIndexByte(s, '\n')+1:]
}
