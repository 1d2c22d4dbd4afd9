// Package repair makes an extracted root filesystem usable under proot.
//
// Images built for a real kernel often rely on absolute symlinks or on a
// merged /usr layout the host cannot see. Repair fills the gaps so that
// /bin/sh, /usr/bin/env and a world-writable /tmp exist inside the root.
package repair

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const envShim = "#!/bin/sh\nexec \"$@\"\n"

var (
	secondaryShells = []string{"usr/bin/sh", "usr/bin/bash", "usr/local/bin/sh"}
	busyboxPaths    = []string{"bin/busybox", "usr/bin/busybox", "sbin/busybox", "usr/sbin/busybox"}
	shellCandidates = []string{
		"/bin/bash", "/bin/sh",
		"/usr/bin/bash", "/usr/bin/sh",
		"/usr/local/bin/bash", "/usr/local/bin/sh",
		"/bin/busybox", "/usr/bin/busybox",
	}
)

// Repair fixes up root in place. Every step is best effort; failures are
// logged and the next step still runs.
func Repair(root string) {
	log := slog.With("root", root)

	binDir := filepath.Join(root, "bin")
	if _, err := os.Lstat(binDir); errors.Is(err, fs.ErrNotExist) && isDir(filepath.Join(root, "usr/bin")) {
		if err := os.MkdirAll(binDir, 0755); err != nil {
			log.Debug("Cannot create bin", "error", err)
		}
	}

	if _, ok := lookup(root, "bin/sh"); !ok {
		provideShell(root, log)
	}

	if sh, ok := lookup(root, "bin/sh"); ok {
		if err := makeExecutable(sh); err != nil {
			log.Debug("Cannot chmod bin/sh", "error", err)
		}
		if _, ok := lookup(root, "usr/bin/env"); !ok {
			writeEnvShim(root, log)
		}
	}

	tmp := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmp, 0755); err != nil {
		log.Debug("Cannot create tmp", "error", err)
	} else if err := os.Chmod(tmp, 0777|os.ModeSticky); err != nil {
		log.Debug("Cannot chmod tmp", "error", err)
	}
}

func provideShell(root string, log *slog.Logger) {
	binSh := filepath.Join(root, "bin/sh")
	if err := os.MkdirAll(filepath.Dir(binSh), 0755); err != nil {
		log.Debug("Cannot create bin", "error", err)
		return
	}

	for _, rel := range busyboxPaths {
		src, ok := lookup(root, rel)
		if !ok {
			continue
		}
		bb := filepath.Join(root, "bin/busybox")
		if _, ok := lookup(root, "bin/busybox"); !ok {
			log.Debug("Copying busybox", "from", rel)
			if err := copyExec(src, bb); err != nil {
				report(log, err)
				return
			}
			src = bb
		}
		log.Debug("Using busybox as shell", "from", rel)
		report(log, copyExec(src, binSh))
		return
	}

	for _, rel := range secondaryShells {
		if src, ok := lookup(root, rel); ok {
			log.Debug("Copying shell", "from", rel)
			report(log, copyExec(src, binSh))
			return
		}
	}

	if src := walkFor(root, "sh", "bash", "busybox"); src != "" {
		log.Debug("Using shell found by walk", "path", src)
		report(log, copyExec(src, binSh))
		return
	}
	log.Debug("No shell candidate in root")
}

func writeEnvShim(root string, log *slog.Logger) {
	env := filepath.Join(root, "usr/bin/env")
	if err := os.MkdirAll(filepath.Dir(env), 0755); err != nil {
		log.Debug("Cannot create usr/bin", "error", err)
		return
	}
	// A dangling link would make WriteFile write through it.
	os.Remove(env)
	if err := os.WriteFile(env, []byte(envShim), 0755); err != nil {
		log.Debug("Cannot write env shim", "error", err)
		return
	}
	report(log, os.Chmod(env, 0755))
}

func report(log *slog.Logger, err error) {
	if err != nil {
		log.Debug("Repair step failed", "error", err)
	}
}

// FindShell returns the in-root path of the first usable shell. Dangling
// symlinks count, since proot resolves them against the root.
func FindShell(root string) (string, bool) {
	for _, p := range shellCandidates {
		if _, err := os.Lstat(filepath.Join(root, p)); err == nil {
			return p, true
		}
	}
	if found := walkFor(root, "sh", "bash"); found != "" {
		rel, err := filepath.Rel(root, found)
		if err == nil {
			return "/" + filepath.ToSlash(rel), true
		}
	}
	return "", false
}

// walkFor returns the host path of the first regular file with one of the
// given base names.
func walkFor(root string, names ...string) string {
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			for _, n := range names {
				if d.Name() == n {
					found = path
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	return found
}

// lookup resolves rel inside root, following symlinks the way the guest
// would see them: absolute targets are taken relative to root. It returns
// the host path of the final non-link entry.
func lookup(root, rel string) (string, bool) {
	cur := filepath.Join(root, rel)
	for i := 0; i < 16; i++ {
		fi, err := os.Lstat(cur)
		if err != nil {
			return "", false
		}
		if fi.Mode()&os.ModeSymlink == 0 {
			return cur, true
		}
		target, err := os.Readlink(cur)
		if err != nil {
			return "", false
		}
		if filepath.IsAbs(target) {
			cur = filepath.Join(root, target)
		} else {
			cur = filepath.Join(filepath.Dir(cur), target)
		}
		if r, err := filepath.Rel(root, cur); err != nil || r == ".." || strings.HasPrefix(r, "../") {
			return "", false
		}
	}
	return "", false
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func makeExecutable(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}
	return os.Chmod(p, fi.Mode().Perm()|0755)
}

// copyExec copies src over dst, replacing a link at dst, and marks it
// executable.
func copyExec(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if fi, err := os.Lstat(dst); err == nil && !fi.Mode().IsRegular() {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, 0755)
}
