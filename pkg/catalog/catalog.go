// Package catalog turns Starlark recipes into ordered mirror lists. Each
// recipe defines mirrors(ctx); builtin recipes are embedded and a file of
// the same name in the user recipe directory replaces one.
package catalog

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"linuxenv/pkg/common"
	"linuxenv/pkg/config"
)

//go:embed recipes/*.star
var builtinRecipes embed.FS

// Bootstrap bundle names understood by the bootstrap recipe.
const (
	BundleTermux       = "termux"
	BundleStaticPython = "static-python"
)

const bootstrapRecipe = "bootstrap"

// Catalog evaluates recipes for one host architecture.
type Catalog struct {
	recipeDir string
	arch      common.ArchType
	fetch     Fetcher
	builtins  fs.FS
}

type Option func(*Catalog)

// WithFetcher enables download() inside recipes.
func WithFetcher(f Fetcher) Option {
	return func(c *Catalog) { c.fetch = f }
}

// WithRecipeDir overrides where user recipes are looked up.
func WithRecipeDir(dir string) Option {
	return func(c *Catalog) { c.recipeDir = dir }
}

// WithArch overrides the host architecture passed to recipes.
func WithArch(a common.ArchType) Option {
	return func(c *Catalog) { c.arch = a }
}

func New(cfg config.ReadOnly, opts ...Option) *Catalog {
	sub, _ := fs.Sub(builtinRecipes, "recipes")
	c := &Catalog{
		recipeDir: cfg.GetRecipeDir(),
		arch:      cfg.GetArch(),
		builtins:  sub,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Mirrors returns the rootfs mirror list for distro, best first.
func (c *Catalog) Mirrors(ctx context.Context, distro common.Distro) (common.MirrorList, error) {
	if _, err := common.ParseDistro(string(distro)); err != nil {
		return nil, err
	}
	return c.evaluate(ctx, string(distro), c.context(distro, ""))
}

// Bootstrap returns the download URLs for a named interpreter bundle.
func (c *Catalog) Bootstrap(ctx context.Context, name string) (common.MirrorList, error) {
	switch name {
	case BundleTermux, BundleStaticPython:
	default:
		return nil, fmt.Errorf("unknown bootstrap bundle %q", name)
	}
	return c.evaluate(ctx, bootstrapRecipe, c.context("", name))
}

// Source returns the recipe text and whether it came from the user directory.
func (c *Catalog) Source(name string) (string, bool, error) {
	if c.recipeDir != "" {
		b, err := os.ReadFile(filepath.Join(c.recipeDir, name+".star"))
		if err == nil {
			return string(b), true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", false, fmt.Errorf("read recipe %s: %w", name, err)
		}
	}
	b, err := fs.ReadFile(c.builtins, name+".star")
	if err != nil {
		return "", false, fmt.Errorf("no recipe named %q", name)
	}
	return string(b), false, nil
}

func (c *Catalog) context(distro common.Distro, bundle string) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlark.String("ctx"), starlark.StringDict{
		"arch":        starlark.String(c.arch.Machine()),
		"debian_arch": starlark.String(debianArch(c.arch)),
		"distro":      starlark.String(distro),
		"name":        starlark.String(bundle),
	})
}

func (c *Catalog) evaluate(ctx context.Context, name string, rctx starlark.Value) (common.MirrorList, error) {
	src, user, err := c.Source(name)
	if err != nil {
		return nil, err
	}
	slog.Debug("evaluating recipe", "name", name, "user", user, "arch", c.arch)

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			slog.Info(msg, "recipe", name)
		},
	}
	thread.SetLocal(localContext, ctx)
	if c.fetch != nil {
		thread.SetLocal(localFetcher, c.fetch)
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel("cancelled") })
	defer stop()

	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, name+".star", src, predeclared())
	if err != nil {
		return nil, recipeError(ctx, name, err)
	}
	fn, ok := globals["mirrors"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("recipe %s does not define mirrors(ctx)", name)
	}
	ret, err := starlark.Call(thread, fn, starlark.Tuple{rctx}, nil)
	if err != nil {
		return nil, recipeError(ctx, name, err)
	}
	return urlList(name, ret)
}

func urlList(name string, v starlark.Value) (common.MirrorList, error) {
	seq, ok := v.(starlark.Iterable)
	if !ok || v.Type() == "string" {
		return nil, fmt.Errorf("recipe %s: mirrors() returned %s, want a list of strings", name, v.Type())
	}
	var out common.MirrorList
	it := seq.Iterate()
	defer it.Done()
	var item starlark.Value
	for it.Next(&item) {
		s, ok := item.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("recipe %s: mirror entry %s is not a string", name, item)
		}
		if string(s) != "" {
			out = append(out, string(s))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("recipe %s returned no mirrors", name)
	}
	return out, nil
}

func recipeError(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil {
		return common.ErrCancelled
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("recipe %s failed:\n%s", name, evalErr.Backtrace())
	}
	return fmt.Errorf("recipe %s: %w", name, err)
}

func debianArch(a common.ArchType) string {
	switch a {
	case common.ArchArm64:
		return "arm64"
	case common.ArchArm:
		return "armhf"
	case common.ArchX64:
		return "amd64"
	case common.ArchX86:
		return "i386"
	}
	return string(a)
}
