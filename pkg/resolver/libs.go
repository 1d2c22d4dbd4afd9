package resolver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// support libraries copied next to the launcher, keyed by source name in
// the native lib dir.
var supportLibs = []struct {
	src, dst string
	exec     bool
}{
	{"libtalloc.so.2", "libtalloc.so.2", false},
	{"libproot-loader.so", "proot-loader", true},
}

// SetupLibs copies the launcher's runtime libraries into the data lib dir
// if they are missing there. Missing sources are not an error.
func (r *Resolver) SetupLibs() error {
	libDir := r.cfg.GetLibDir()
	if err := os.MkdirAll(libDir, 0755); err != nil {
		return err
	}
	for _, l := range supportLibs {
		src := filepath.Join(r.cfg.GetNativeLibDir(), l.src)
		dst := filepath.Join(libDir, l.dst)
		if !exists(src) || exists(dst) {
			continue
		}
		if err := copyLib(src, dst); err != nil {
			return fmt.Errorf("copying %s: %w", l.src, err)
		}
		if l.exec {
			_ = os.Chmod(dst, 0755)
		}
	}
	return nil
}

func copyLib(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// hostRelease returns "<sysname> <release>" from uname(2).
func hostRelease() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "unknown"
	}
	return strings.TrimSpace(unix.ByteSliceToString(u.Sysname[:]) + " " + unix.ByteSliceToString(u.Release[:]))
}
