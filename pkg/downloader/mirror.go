package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"linuxenv/pkg/common"
	"linuxenv/pkg/display"
)

// MinBodySize is the smallest body accepted as a real archive. Captive
// portals and error pages tend to be smaller.
const MinBodySize = 512

// Fetcher downloads one file from an ordered list of mirrors, one at a time.
// Mutable
type Fetcher struct {
	dl     Downloader
	binder NetworkBinder
	cancel *atomic.Bool
}

// NewFetcher wraps dl. binder may be nil; when dl itself is a NetworkBinder
// it is used. cancel may be nil.
func NewFetcher(dl Downloader, binder NetworkBinder, cancel *atomic.Bool) *Fetcher {
	if binder == nil {
		if b, ok := dl.(NetworkBinder); ok {
			binder = b
		}
	}
	if cancel == nil {
		cancel = new(atomic.Bool)
	}
	return &Fetcher{dl: dl, binder: binder, cancel: cancel}
}

// Fetch tries each mirror in order and leaves the first good body at dest.
// A failed attempt never leaves a partial file behind.
func (f *Fetcher) Fetch(ctx context.Context, mirrors []string, dest string, span Span, task display.Task) error {
	if task == nil {
		task = display.Nop
	}
	if len(mirrors) == 0 {
		return common.Errorf(common.AllMirrorsFailed, "no mirrors configured")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating download dir: %w", err)
	}

	var lastErr error
	for i, uri := range mirrors {
		if f.cancelled(ctx) {
			os.Remove(dest)
			return common.ErrCancelled
		}
		task.Progress(span.Start, fmt.Sprintf("Mirror %d/%d…", i+1, len(mirrors)))
		slog.Info("Downloading", "mirror", i+1, "url", uri)

		err := f.attempt(ctx, uri, dest, span, task)
		if err == nil {
			return nil
		}
		os.Remove(dest)
		if f.cancelled(ctx) || common.KindOf(err) == common.Cancelled {
			return common.ErrCancelled
		}

		lastErr = fmt.Errorf("mirror %d (%s): %w", i+1, uri, err)
		slog.Warn("Mirror failed", "mirror", i+1, "url", uri, "error", err)
		task.Progress(span.Start, fmt.Sprintf("Mirror %d failed, trying next…", i+1))
	}
	return common.Wrap(common.AllMirrorsFailed, fmt.Sprintf("all %d mirrors failed", len(mirrors)), lastErr)
}

// FetchOne downloads a single URL with no progress reporting.
func (f *Fetcher) FetchOne(ctx context.Context, uri, dest string) error {
	return f.Fetch(ctx, []string{uri}, dest, Span{}, display.Nop)
}

func (f *Fetcher) cancelled(ctx context.Context) bool {
	return f.cancel.Load() || ctx.Err() != nil
}

func (f *Fetcher) attempt(ctx context.Context, uri, dest string, span Span, task display.Task) error {
	if f.binder != nil {
		f.binder.Bind()
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	cw := &cancelWriter{ctx: ctx, w: out, cancel: f.cancel}
	err = f.dl.Download(ctx, uri, cw, spanTask{task: task, span: span})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if isCancel(ctx, err) {
			return common.ErrCancelled
		}
		return err
	}
	if cw.written < MinBodySize {
		return fmt.Errorf("body too small (%d bytes)", cw.written)
	}
	return nil
}

// cancelWriter checks the cooperative flag before every chunk.
type cancelWriter struct {
	ctx     context.Context
	w       io.Writer
	cancel  *atomic.Bool
	written int64
}

func (c *cancelWriter) Write(p []byte) (int, error) {
	if c.cancel.Load() || c.ctx.Err() != nil {
		return 0, common.ErrCancelled
	}
	n, err := c.w.Write(p)
	c.written += int64(n)
	return n, err
}

// spanTask rescales a single download's 0..1 progress into the span.
type spanTask struct {
	task display.Task
	span Span
}

func (s spanTask) Log(msg string)               { s.task.Log(msg) }
func (s spanTask) SetStage(name, target string) { s.task.SetStage(name, target) }
func (s spanTask) Done()                        {}

func (s spanTask) Progress(fraction float64, message string) {
	s.task.Progress(s.span.At(fraction), message)
}
