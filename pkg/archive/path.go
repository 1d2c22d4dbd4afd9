package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var errOutside = errors.New("entry escapes destination")

// safePath maps an archive entry name to a path under root. It rejects
// absolute names and names that resolve outside root.
func safePath(root, name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	clean = strings.TrimPrefix(clean, "./")
	if clean == "." || clean == "" {
		return "", fmt.Errorf("empty entry name %q", name)
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", errOutside, name)
	}
	target := filepath.Join(root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", errOutside, name)
	}
	return target, nil
}

// maxLinks bounds symlink hops while resolving one entry.
const maxLinks = 40

// resolveIn maps target to the host path it names inside the guest. Every
// directory symlink between root and target is followed the way proot
// would see it, with absolute links taken relative to root. Entries whose
// parent leads outside root fail with errOutside. The last component is
// never followed.
func resolveIn(root, target string) (string, error) {
	rel, err := filepath.Rel(root, filepath.Dir(target))
	if err != nil {
		return "", fmt.Errorf("%w: %s", errOutside, target)
	}
	if rel == "." {
		return target, nil
	}
	parts := strings.Split(rel, string(filepath.Separator))
	cur := root
	for hops := 0; len(parts) > 0; {
		next := filepath.Join(cur, parts[0])
		parts = parts[1:]
		fi, err := os.Lstat(next)
		if err != nil {
			// Nothing below a missing directory exists yet.
			cur = filepath.Join(append([]string{next}, parts...)...)
			break
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			cur = next
			continue
		}
		if hops++; hops > maxLinks {
			return "", fmt.Errorf("too many links resolving %s", target)
		}
		link, err := os.Readlink(next)
		if err != nil {
			return "", err
		}
		dst := filepath.Join(cur, link)
		if filepath.IsAbs(link) {
			dst = filepath.Join(root, filepath.Clean(link))
		}
		if !within(root, dst) {
			return "", fmt.Errorf("%w: %s", errOutside, target)
		}
		// Walk the link's target again from root so links inside it are
		// followed too.
		r, _ := filepath.Rel(root, dst)
		cur = root
		if r != "." {
			parts = append(strings.Split(r, string(filepath.Separator)), parts...)
		}
	}
	return filepath.Join(cur, filepath.Base(target)), nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func skip(name string, reason error) {
	slog.Debug("Skipping archive entry", "name", name, "reason", reason)
}

// writeFile copies r to target, replacing whatever was there. Any execute
// bit in mode makes the file 0755|mode.
func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", target, err)
	}
	if fi, err := os.Lstat(target); err == nil && !fi.Mode().IsRegular() {
		os.RemoveAll(target)
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0200)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if perm&0111 != 0 {
		return os.Chmod(target, 0755|perm)
	}
	return os.Chmod(target, perm)
}

// makeSymlink replaces any entry at target with a symlink to linkname. If
// the platform refuses, a regular file referent inside root is copied in
// its place.
func makeSymlink(root, target, linkname string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if _, err := os.Lstat(target); err == nil {
		if err := os.RemoveAll(target); err != nil {
			return err
		}
	}
	serr := os.Symlink(linkname, target)
	if serr == nil {
		return nil
	}

	ref := linkname
	if filepath.IsAbs(ref) {
		ref = filepath.Join(root, ref)
	} else {
		ref = filepath.Join(filepath.Dir(target), ref)
	}
	if rel, err := filepath.Rel(root, ref); err != nil || strings.HasPrefix(rel, "..") {
		return serr
	}
	fi, err := os.Stat(ref)
	if err != nil || !fi.Mode().IsRegular() {
		return serr
	}
	slog.Debug("Symlink failed, copying referent", "link", target, "target", linkname)
	return copyFile(ref, target, fi.Mode())
}

// makeHardlink links target to an existing entry under root, copying when
// the link cannot be made.
func makeHardlink(root, target, linkname string) error {
	src, err := safePath(root, linkname)
	if err != nil {
		return err
	}
	if src, err = resolveIn(root, src); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	os.RemoveAll(target)
	if err := os.Link(src, target); err == nil {
		return nil
	}
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("hardlink %s -> %s: %w", target, linkname, err)
	}
	return copyFile(src, target, fi.Mode())
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(dst, in, mode)
}
