// Package environment is the operation surface for provisioned roots:
// setting them up, listing and deleting them, running commands inside
// them and describing how to launch an interactive session.
package environment

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"linuxenv/pkg/bootstrap"
	"linuxenv/pkg/catalog"
	"linuxenv/pkg/common"
	"linuxenv/pkg/config"
	"linuxenv/pkg/display"
	"linuxenv/pkg/downloader"
	"linuxenv/pkg/executor"
	"linuxenv/pkg/resolver"
	"linuxenv/pkg/store"
)

// Resolver locates the proot launcher.
type Resolver interface {
	Resolve(ctx context.Context) (common.ExecutableLocation, error)
	Marker() string
}

// Catalog provides rootfs mirror lists.
type Catalog interface {
	Mirrors(ctx context.Context, distro common.Distro) (common.MirrorList, error)
}

// Installer adds an interpreter to a new root.
type Installer interface {
	Install(ctx context.Context, env common.Environment, task display.Task) error
}

// libSetup is implemented by resolvers that stage proot's helper libraries.
type libSetup interface {
	SetupLibs() error
}

const (
	DefaultTimeout    = 300000 * time.Millisecond
	defaultWorkingDir = "/"
	subscriberBuffer  = 256
)

// Manager owns every environment under the configured root.
// Mutable
type Manager struct {
	cfg config.ReadOnly

	dl        downloader.Downloader
	fetcher   *downloader.Fetcher
	resolver  Resolver
	catalog   Catalog
	installer Installer
	network   downloader.NetworkCheck
	display   display.Display
	exec      *executor.Executor
	records   *store.Dir[common.Environment]

	cancel     atomic.Bool
	tracker    *executor.Tracker
	workers    int
	sem        *semaphore.Weighted
	dispatcher *display.Dispatcher
	wg         sync.WaitGroup
	closed     atomic.Bool

	subMu  sync.Mutex
	subID  int
	subs   map[int]chan common.OutputLine
	closer sync.Once
}

type Option func(*Manager)

// WithDownloader replaces the scheme downloader used for rootfs fetches.
func WithDownloader(dl downloader.Downloader) Option {
	return func(m *Manager) { m.dl = dl }
}

func WithResolver(r Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

func WithCatalog(c Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

func WithInstaller(i Installer) Option {
	return func(m *Manager) { m.installer = i }
}

func WithNetworkCheck(fn downloader.NetworkCheck) Option {
	return func(m *Manager) { m.network = fn }
}

// WithDisplay sends setup progress to d.
func WithDisplay(d display.Display) Option {
	return func(m *Manager) { m.display = d }
}

// WithProgress sends setup progress to fn, one call per update.
func WithProgress(fn func(common.Progress)) Option {
	return func(m *Manager) { m.display = progressDisplay(fn) }
}

// New wires a Manager from cfg. Anything not supplied through an option is
// built from the default implementation.
func New(cfg config.ReadOnly, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		tracker: &executor.Tracker{},
		workers: max(cfg.GetWorkers(), 1),
		subs:    make(map[int]chan common.OutputLine),
		records: store.NewDir[common.Environment](cfg.GetRecordDir()),
	}
	for _, o := range opts {
		o(m)
	}

	if m.dl == nil {
		m.dl = downloader.NewDefaultDownloader()
	}
	m.fetcher = downloader.NewFetcher(m.dl, nil, &m.cancel)
	if m.resolver == nil {
		m.resolver = resolver.New(cfg)
	}
	if m.catalog == nil {
		m.catalog = catalog.New(cfg, catalog.WithFetcher(catalog.NewFetcher(m.dl)))
	}
	if m.network == nil {
		m.network = downloader.CheckNetwork
	}
	if m.display == nil {
		m.display = display.NewWriterDisplay(io.Discard)
	}
	m.exec = executor.New(m.tracker)
	if m.installer == nil {
		src, ok := m.catalog.(bootstrap.Sources)
		if !ok {
			src = catalog.New(cfg, catalog.WithFetcher(catalog.NewFetcher(m.dl)))
		}
		m.installer = bootstrap.New(src, m.fetcher, m.runIn, cfg.GetCacheDir(), &m.cancel)
	}
	m.sem = semaphore.NewWeighted(int64(m.workers))
	m.dispatcher = display.NewDispatcher()
	return m
}

// CancelSetup asks a running setup to stop at its next checkpoint.
func (m *Manager) CancelSetup() {
	m.cancel.Store(true)
}

func (m *Manager) cancelled(ctx context.Context) bool {
	return m.cancel.Load() || ctx.Err() != nil
}

// KillCurrent kills the process group of the command running right now.
func (m *Manager) KillCurrent() bool {
	return m.tracker.KillCurrent()
}

// Subscribe returns a live stream of command output. Lines are dropped
// for a subscriber that falls more than 256 lines behind. The returned
// func unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan common.OutputLine, func()) {
	ch := make(chan common.OutputLine, subscriberBuffer)
	m.subMu.Lock()
	id := m.subID
	m.subID++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) publish(line common.OutputLine) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Shutdown stops any running setup and command, waits for in-flight work
// and closes every subscription.
func (m *Manager) Shutdown() {
	m.closer.Do(func() {
		m.closed.Store(true)
		m.cancel.Store(true)
		m.tracker.KillCurrent()
		m.wg.Wait()
		if err := m.sem.Acquire(context.Background(), int64(m.workers)); err == nil {
			m.sem.Release(int64(m.workers))
		}
		m.dispatcher.Close()

		m.subMu.Lock()
		for id, ch := range m.subs {
			delete(m.subs, id)
			close(ch)
		}
		m.subMu.Unlock()
	})
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.closed.Load() {
		return common.Errorf(common.Cancelled, "manager is shut down")
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return common.ErrCancelled
	}
	return nil
}

func (m *Manager) rootOf(id string) string {
	return filepath.Join(m.cfg.GetEnvRoot(), id)
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

type progressDisplay func(common.Progress)

func (p progressDisplay) StartTask(string) display.Task {
	return display.FuncTask(func(f float64, msg string) {
		if p != nil {
			p(common.Progress{Message: msg, Fraction: f})
		}
	})
}
func (p progressDisplay) Log(string)      {}
func (p progressDisplay) Print(string)    {}
func (p progressDisplay) SetVerbose(bool) {}
func (p progressDisplay) Close()          {}
