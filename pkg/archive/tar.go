package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"

	"linuxenv/pkg/common"
)

func extractTar(ctx context.Context, r io.Reader, dest string, opts Options) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return wrapErr(err)
	}
	tr := tar.NewReader(r)
	for {
		if opts.cancelled(ctx) {
			return common.ErrCancelled
		}
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return wrapErr(fmt.Errorf("failed to read tar header: %w", err))
		}
		if err := extractTarEntry(tr, header, dest); err != nil {
			return wrapErr(err)
		}
	}
}

func extractTarEntry(tr *tar.Reader, h *tar.Header, dest string) error {
	switch h.Typeflag {
	case tar.TypeXHeader, tar.TypeXGlobalHeader, tar.TypeGNULongName, tar.TypeGNULongLink:
		return nil
	}

	target, err := safePath(dest, h.Name)
	if err != nil {
		skip(h.Name, err)
		return nil
	}
	if target, err = resolveIn(dest, target); err != nil {
		skip(h.Name, err)
		return nil
	}

	mode := h.FileInfo().Mode()

	switch h.Typeflag {
	case tar.TypeDir:
		if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			// An earlier link entry already names this directory.
			return nil
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", target, err)
		}
		_ = os.Chmod(target, mode.Perm()|0700)
	case tar.TypeSymlink:
		if err := makeSymlink(dest, target, h.Linkname); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", h.Name, h.Linkname, err)
		}
	case tar.TypeLink:
		if err := makeHardlink(dest, target, h.Linkname); err != nil {
			skip(h.Name, err)
		}
	case tar.TypeReg, tar.TypeRegA:
		if err := writeFile(target, tr, mode); err != nil {
			return err
		}
	default:
		// Devices and fifos cannot be created unprivileged; proot binds /dev.
		skip(h.Name, fmt.Errorf("unsupported entry type %c", h.Typeflag))
	}
	return nil
}
