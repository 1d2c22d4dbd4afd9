package archive

import (
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"linuxenv/pkg/common"
)

// ExtractZip unpacks a zip archive with the same safety rules as tar.
func ExtractZip(ctx context.Context, src, dest string, opts Options) error {
	r, err := openZip(src)
	if err != nil {
		return common.Wrap(common.ExtractionFailed, "failed to open zip archive", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return wrapErr(err)
	}
	for _, f := range r.File {
		if opts.cancelled(ctx) {
			return common.ErrCancelled
		}
		if opts.SkipHidden && strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		if err := extractZipEntry(f, f.Name, dest, opts); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

// openZip tolerates ErrInsecurePath; such entries are skipped per entry.
func openZip(src string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(src)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, err
	}
	return r, nil
}

func extractZipEntry(f *zip.File, name, dest string, opts Options) error {
	target, err := safePath(dest, name)
	if err != nil {
		skip(name, err)
		return nil
	}
	if target, err = resolveIn(dest, target); err != nil {
		skip(name, err)
		return nil
	}

	info := f.FileInfo()
	if info.IsDir() {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", target, err)
		}
		return nil
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", name, err)
	}
	defer rc.Close()

	if info.Mode()&os.ModeSymlink != 0 {
		link, err := io.ReadAll(io.LimitReader(rc, 4096))
		if err != nil {
			return err
		}
		return makeSymlink(dest, target, string(link))
	}

	mode := info.Mode().Perm()
	if hasPrefix(name, opts.ExecPrefixes) {
		mode |= 0755
	}
	return writeFile(target, rc, mode)
}

func hasPrefix(name string, prefixes []string) bool {
	name = strings.TrimPrefix(name, "./")
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// symlinksFile lists "target←link" pairs in a Termux bootstrap archive.
const symlinksFile = "SYMLINKS.txt"

// ExtractBootstrap unpacks a Termux-style bootstrap zip into usrDir.
// Entries under bin/ and lib/ become executable, and the links listed in
// SYMLINKS.txt are created afterwards unless something already exists
// at the link path.
func ExtractBootstrap(ctx context.Context, src, usrDir string, opts Options) error {
	r, err := openZip(src)
	if err != nil {
		return common.Wrap(common.ExtractionFailed, "failed to open bootstrap archive", err)
	}
	defer r.Close()

	if err := os.MkdirAll(usrDir, 0755); err != nil {
		return wrapErr(err)
	}
	opts.ExecPrefixes = append([]string{"bin/", "lib/", "libexec/"}, opts.ExecPrefixes...)

	var links [][2]string
	for _, f := range r.File {
		if opts.cancelled(ctx) {
			return common.ErrCancelled
		}
		if f.Name == symlinksFile {
			pairs, err := readSymlinks(f)
			if err != nil {
				return wrapErr(err)
			}
			links = append(links, pairs...)
			continue
		}
		if err := extractZipEntry(f, f.Name, usrDir, opts); err != nil {
			return wrapErr(err)
		}
	}

	for _, l := range links {
		target, link := l[0], l[1]
		dst, err := safePath(usrDir, link)
		if err != nil {
			skip(link, err)
			continue
		}
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return wrapErr(err)
		}
		if err := os.Symlink(target, dst); err != nil {
			skip(link, err)
		}
	}
	return nil
}

func readSymlinks(f *zip.File) ([][2]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out [][2]string
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		target, link, ok := strings.Cut(sc.Text(), "←")
		if !ok || target == "" || link == "" {
			continue
		}
		out = append(out, [2]string{target, link})
	}
	return out, sc.Err()
}
