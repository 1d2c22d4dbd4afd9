// Package archive unpacks root filesystem images and bootstrap bundles.
// Entries that would land outside the destination are skipped, never
// written.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"linuxenv/pkg/common"
)

// Options tune an extraction.
type Options struct {
	// Cancel is checked once per entry.
	Cancel *atomic.Bool
	// ExecPrefixes marks zip entries under these paths executable, since
	// zip modes are unreliable.
	ExecPrefixes []string
	// SkipHidden drops zip entries whose base name starts with a dot.
	SkipHidden bool
}

func (o Options) cancelled(ctx context.Context) bool {
	return (o.Cancel != nil && o.Cancel.Load()) || ctx.Err() != nil
}

// SupportedExtensions returns a list of all file extensions that the archive module can extract.
func SupportedExtensions() []string {
	return []string{".zip", ".tar", ".tar.gz", ".tgz", ".tar.zst", ".tar.xz", ".txz"}
}

// IsSupported returns true if the filename has a supported archive extension.
func IsSupported(filename string) bool {
	for _, ext := range SupportedExtensions() {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}
	return false
}

// Extract extracts the contents of the archive at src into the directory dest.
// The format is chosen by extension.
func Extract(ctx context.Context, src, dest string, opts Options) error {
	if strings.HasSuffix(src, ".zip") {
		return ExtractZip(ctx, src, dest, opts)
	}

	f, err := os.Open(src)
	if err != nil {
		return common.Wrap(common.ExtractionFailed, "failed to open archive", err)
	}
	defer f.Close()

	var r io.Reader = f

	switch {
	case strings.HasSuffix(src, ".tar.gz") || strings.HasSuffix(src, ".tgz"):
		gzr, err := kgzip.NewReader(f)
		if err != nil {
			return common.Wrap(common.ExtractionFailed, "failed to create gzip reader", err)
		}
		defer gzr.Close()
		r = gzr
	case strings.HasSuffix(src, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return common.Wrap(common.ExtractionFailed, "failed to create zstd reader", err)
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(src, ".tar.xz") || strings.HasSuffix(src, ".txz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return common.Wrap(common.ExtractionFailed, "failed to create xz reader", err)
		}
		r = xr
	case strings.HasSuffix(src, ".tar"):
		// Plain tar, reader is file
	default:
		return common.Errorf(common.ExtractionFailed, "unsupported archive format: %s", src)
	}

	return extractTar(ctx, r, dest, opts)
}

// ExtractTarGz unpacks a gzip-compressed tar regardless of file name.
func ExtractTarGz(ctx context.Context, src, dest string, cancel *atomic.Bool) error {
	f, err := os.Open(src)
	if err != nil {
		return common.Wrap(common.ExtractionFailed, "failed to open archive", err)
	}
	defer f.Close()

	gzr, err := kgzip.NewReader(f)
	if err != nil {
		return common.Wrap(common.ExtractionFailed, "failed to create gzip reader", err)
	}
	defer gzr.Close()

	return extractTar(ctx, gzr, dest, Options{Cancel: cancel})
}

// IsGzip sniffs the gzip magic bytes.
func IsGzip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [2]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return magic[0] == 0x1f && magic[1] == 0x8b
}

func wrapErr(err error) error {
	if err == nil || common.KindOf(err) != common.KindUnknown {
		return err
	}
	return &common.Error{Kind: common.ExtractionFailed, Msg: fmt.Sprintf("extraction failed: %v", err), Err: err}
}
