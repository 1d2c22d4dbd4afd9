package resolver

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"linuxenv/pkg/cache"
	"linuxenv/pkg/config"
)

// extract copies the launcher from the bundled asset, or failing that from
// the host package archive, to dest. Concurrent extractions of the same
// dest are serialized through its lock file.
func extract(ctx context.Context, cfg config.ReadOnly, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	return cache.Ensure(ctx, dest, func() error {
		tmp := dest + ".part"
		defer os.Remove(tmp)

		err := copyAsset(cfg, tmp)
		if err != nil {
			if zerr := copyFromPackage(cfg, tmp); zerr != nil {
				return errors.Join(err, zerr)
			}
		}
		makeExecutable(ctx, tmp)
		if err := os.Rename(tmp, dest); err != nil {
			return fmt.Errorf("installing %s: %w", dest, err)
		}
		return nil
	})
}

func copyAsset(cfg config.ReadOnly, dest string) error {
	src := filepath.Join(cfg.GetAssetDir(), "proot-"+cfg.GetArch().String())
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("asset: %w", err)
	}
	defer in.Close()
	return writeTo(dest, in)
}

// copyFromPackage scans the host package (a zip) for a per-ABI library entry.
func copyFromPackage(cfg config.ReadOnly, dest string) error {
	pkg := cfg.GetPackageArchive()
	if pkg == "" {
		return errNoSource
	}
	zr, err := zip.OpenReader(pkg)
	if err != nil {
		return fmt.Errorf("package archive: %w", err)
	}
	defer zr.Close()

	for _, abi := range cfg.GetArch().ABIs() {
		name := "lib/" + abi + "/" + bundledName
		for _, f := range zr.File {
			if f.Name != name {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("package archive %s: %w", name, err)
			}
			err = writeTo(dest, rc)
			rc.Close()
			return err
		}
	}
	return errNoSource
}

func writeTo(dest string, r io.Reader) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// makeExecutable sets 0755 through the API and again through chmod(1).
// Some storage layers only honour one of the two.
func makeExecutable(ctx context.Context, path string) {
	_ = os.Chmod(path, 0755)
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = exec.CommandContext(cctx, "chmod", "755", path).Run()
}
