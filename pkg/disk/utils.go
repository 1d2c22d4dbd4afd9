// Package disk reports storage statistics for linuxenv's directories.
package disk

import (
	"io/fs"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// Space is the free and total capacity of the filesystem holding a path.
type Space struct {
	Free  uint64
	Total uint64
}

// SpaceOf statfs's path.
func SpaceOf(path string) (Space, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Space{}, err
	}
	bs := uint64(st.Bsize)
	return Space{Free: st.Bavail * bs, Total: st.Blocks * bs}, nil
}

// DirSize calculates the total size and file count of a directory.
// Symlinks are counted by their own size, not followed.
func DirSize(path string) (int64, int) {
	var size int64
	var count int
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are common inside a rootfs; keep going.
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
			count++
		}
		return nil
	})
	return size, count
}

// FormatSize converts bytes to a human-readable string.
func FormatSize(b int64) string {
	if b < 0 {
		return "?"
	}
	return humanize.IBytes(uint64(b))
}
