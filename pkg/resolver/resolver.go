// Package resolver locates a proot binary the host will actually execute.
//
// App-writable storage is often mounted noexec, so candidates are tried in
// order of how likely the kernel is to allow them. Nothing is probed by
// executing it: a file that exists at a trusted location is accepted.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"linuxenv/pkg/common"
	"linuxenv/pkg/config"
)

// Marker values persisted between runs.
const (
	MarkerBundled   = "bundled"
	MarkerPrimary   = "extracted-to-primary"
	markerAltPrefix = "alt-path:"

	bundledName = "libproot.so"
	binaryName  = "proot"
)

// Strategy is one way of producing a launcher path. Find returns "" with a
// nil error when the strategy does not apply.
type Strategy struct {
	Name string
	Kind common.LocationKind
	Find func(ctx context.Context) (string, error)
}

// Resolver walks its strategies in order and returns the first hit.
type Resolver struct {
	cfg        config.ReadOnly
	strategies []Strategy

	mu      sync.Mutex
	lastErr error
}

// New builds the default chain: marker override, bundled library, an
// earlier extraction, then extraction into the primary and fallback dirs.
func New(cfg config.ReadOnly) *Resolver {
	r := &Resolver{cfg: cfg}
	r.strategies = []Strategy{
		{Name: "override", Kind: common.LocationOverride, Find: r.findOverride},
		{Name: "bundled", Kind: common.LocationBundled, Find: r.findBundled},
		{Name: "extracted", Kind: common.LocationExtracted, Find: r.findExtracted},
		{Name: "extract-primary", Kind: common.LocationExtracted, Find: r.extractPrimary},
		{Name: "extract-fallback", Kind: common.LocationExtractedFallback, Find: r.extractFallback},
	}
	return r
}

// Strategies returns the chain in evaluation order.
func (r *Resolver) Strategies() []Strategy {
	return r.strategies
}

// Resolve returns the launcher location. It is safe to call repeatedly;
// once a location is established no further extraction happens.
func (r *Resolver) Resolve(ctx context.Context) (common.ExecutableLocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = nil

	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return common.ExecutableLocation{}, common.ErrCancelled
		}
		path, err := s.Find(ctx)
		if err != nil {
			slog.Debug("Resolver strategy failed", "strategy", s.Name, "error", err)
			r.lastErr = err
			continue
		}
		if path == "" {
			slog.Debug("Resolver strategy not applicable", "strategy", s.Name)
			continue
		}
		loc := common.ExecutableLocation{Kind: r.kindFor(s, path), Path: path}
		slog.Debug("Resolved launcher", "strategy", s.Name, "location", loc)
		return loc, nil
	}
	return common.ExecutableLocation{}, r.diagnose()
}

// kindFor reports a marker override that points at our own fallback copy
// as a fallback extraction, so repeated calls agree.
func (r *Resolver) kindFor(s Strategy, path string) common.LocationKind {
	if s.Kind == common.LocationOverride && path == r.fallbackPath() {
		return common.LocationExtractedFallback
	}
	return s.Kind
}

func (r *Resolver) bundledPath() string {
	return filepath.Join(r.cfg.GetNativeLibDir(), bundledName)
}

func (r *Resolver) primaryPath() string {
	return filepath.Join(r.cfg.GetPrimaryBinDir(), binaryName)
}

func (r *Resolver) fallbackPath() string {
	return filepath.Join(r.cfg.GetFallbackBinDir(), binaryName)
}

func (r *Resolver) findOverride(context.Context) (string, error) {
	m := r.Marker()
	if !strings.HasPrefix(m, markerAltPrefix) {
		return "", nil
	}
	p := strings.TrimPrefix(m, markerAltPrefix)
	if !exists(p) {
		return "", nil
	}
	return p, nil
}

func (r *Resolver) findBundled(context.Context) (string, error) {
	p := r.bundledPath()
	if !exists(p) {
		return "", nil
	}
	// The package installer usually set this already; a read-only lib dir
	// refusing chmod is fine.
	_ = os.Chmod(p, 0755)
	if r.Marker() != MarkerBundled {
		if err := r.writeMarker(MarkerBundled); err != nil {
			slog.Warn("Failed to persist launcher marker", "error", err)
		}
	}
	return p, nil
}

func (r *Resolver) findExtracted(context.Context) (string, error) {
	p := r.primaryPath()
	if !exists(p) {
		return "", nil
	}
	_ = os.Chmod(p, 0755)
	return p, nil
}

func (r *Resolver) extractPrimary(ctx context.Context) (string, error) {
	p := r.primaryPath()
	if err := extract(ctx, r.cfg, p); err != nil {
		return "", err
	}
	if err := r.writeMarker(MarkerPrimary); err != nil {
		slog.Warn("Failed to persist launcher marker", "error", err)
	}
	return p, nil
}

func (r *Resolver) extractFallback(ctx context.Context) (string, error) {
	p := r.fallbackPath()
	if err := extract(ctx, r.cfg, p); err != nil {
		return "", err
	}
	if err := r.writeMarker(markerAltPrefix + p); err != nil {
		slog.Warn("Failed to persist launcher marker", "error", err)
	}
	return p, nil
}

// Marker returns the persisted marker, or "" when there is none.
func (r *Resolver) Marker() string {
	b, err := os.ReadFile(r.cfg.GetMarkerFile())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (r *Resolver) writeMarker(v string) error {
	path := r.cfg.GetMarkerFile()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(v+"\n"), 0644)
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

var errNoSource = errors.New("proot not found in assets or package archive")

// diagnose builds the NoExecutable error with enough host detail to tell
// a packaging problem from a storage policy problem.
func (r *Resolver) diagnose() error {
	var names []string
	if entries, err := os.ReadDir(r.cfg.GetNativeLibDir()); err == nil {
		for i, e := range entries {
			if i == 8 {
				break
			}
			names = append(names, e.Name())
		}
	}
	listed := "none"
	if len(names) > 0 {
		listed = strings.Join(names, ", ")
	}
	lastErr := "unknown"
	if r.lastErr != nil {
		lastErr = r.lastErr.Error()
	}

	var sb strings.Builder
	sb.WriteString("proot binary not found.\n")
	fmt.Fprintf(&sb, "nativeLibDir: [%s]\n", listed)
	fmt.Fprintf(&sb, "Expected: %s\n", r.bundledPath())
	fmt.Fprintf(&sb, "extractError: %s\n", lastErr)
	fmt.Fprintf(&sb, "Host: %s\n", hostRelease())
	fmt.Fprintf(&sb, "Arch: %s\n", r.cfg.GetArch())
	fmt.Fprintf(&sb, "Fix: ship lib/%s/%s with the package.", firstABI(r.cfg.GetArch()), bundledName)
	return &common.Error{Kind: common.NoExecutable, Msg: sb.String(), Err: r.lastErr}
}

func firstABI(a config.ArchType) string {
	if abis := a.ABIs(); len(abis) > 0 {
		return abis[0]
	}
	return a.String()
}
