// Package downloader retrieves remote resources. It supports multiple
// schemes behind a single Downloader and, on top of that, a sequential
// multi-mirror fetch with cooperative cancellation and throttled progress.
package downloader

import (
	"context"
	"io"

	"linuxenv/pkg/display"
)

// Downloader manages the retrieval of resources from various URIs.
type Downloader interface {
	// Download retrieves the resource at the specified URI and writes it to w.
	// Progress is reported to task as a fraction of this one download.
	Download(ctx context.Context, uri string, w io.Writer, task display.Task) error
}

// SchemeHandler defines the interface for handling specific URI schemes (e.g., "http://").
type SchemeHandler interface {
	// Download executes the download for a URI supported by this handler.
	Download(ctx context.Context, uri string, w io.Writer, task display.Task) error
	// Schemes returns the list of URI schemes (e.g., ["http", "https"]) this handler can process.
	Schemes() []string
}

// NetworkBinder pins subsequent requests to the currently active network.
type NetworkBinder interface {
	Bind()
}

// Span is the slice of overall setup progress a fetch reports into.
type Span struct {
	Start float64
	End   float64
}

// At maps a fraction of this fetch onto the span.
func (s Span) At(ratio float64) float64 {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return s.Start + ratio*(s.End-s.Start)
}
