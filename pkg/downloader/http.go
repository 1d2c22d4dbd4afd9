package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/http/httpproxy"

	"linuxenv/pkg/config"
	"linuxenv/pkg/display"
)

const (
	connectTimeout = 30 * time.Second
	readTimeout    = 120 * time.Second
	maxRedirects   = 10
	chunkSize      = 64 * 1024
	// progressInterval throttles Progress calls during a transfer.
	progressInterval = 900 * time.Millisecond
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "bad status: " + e.Status
}

// Immutable
type httpHandler struct {
	client    *http.Client
	transport *http.Transport
}

// NewHTTPHandler builds a handler with its own transport. Proxies come from
// the standard environment variables.
func NewHTTPHandler() *httpHandler {
	proxy := httpproxy.FromEnvironment().ProxyFunc()
	tr := &http.Transport{
		Proxy: func(r *http.Request) (*url.URL, error) {
			return proxy(r.URL)
		},
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
	}
	return &httpHandler{
		transport: tr,
		client: &http.Client{
			Transport: tr,
			Timeout:   0, // Handled by context
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

func (h *httpHandler) Schemes() []string {
	return []string{"http", "https"}
}

// Bind drops pooled connections so the next request dials on whatever
// network is active now.
func (h *httpHandler) Bind() {
	h.transport.CloseIdleConnections()
}

func (h *httpHandler) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", config.UserAgent())

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	return copyWithProgress(w, resp.Body, resp.ContentLength, task)
}

// copyWithProgress streams src to dst in fixed chunks. total < 0 means
// unknown length.
func copyWithProgress(dst io.Writer, src io.Reader, total int64, task display.Task) error {
	pw := &progressWriter{
		task:  task,
		total: total,
		start: time.Now(),
	}
	buf := make([]byte, chunkSize)
	_, err := io.CopyBuffer(io.MultiWriter(dst, pw), onlyReader{src}, buf)
	if err != nil {
		return err
	}
	pw.finish()
	return nil
}

// onlyReader hides WriterTo/ReaderFrom so CopyBuffer really uses buf.
type onlyReader struct{ io.Reader }

// Mutable
type progressWriter struct {
	task     display.Task
	total    int64
	written  int64
	start    time.Time
	lastEmit time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.written += int64(n)
	if time.Since(pw.lastEmit) >= progressInterval {
		pw.emit()
	}
	return n, nil
}

func (pw *progressWriter) emit() {
	pw.lastEmit = time.Now()
	if pw.total > 0 {
		elapsed := time.Since(pw.start).Seconds()
		speed := 0.0
		if elapsed > 0 {
			speed = float64(pw.written) / elapsed
		}
		msg := fmt.Sprintf("%s / %s (%s/s)",
			humanize.Bytes(uint64(pw.written)),
			humanize.Bytes(uint64(pw.total)),
			humanize.Bytes(uint64(speed)))
		pw.task.Progress(float64(pw.written)/float64(pw.total), msg)
	} else {
		pw.task.Progress(0.4, fmt.Sprintf("%s downloaded", humanize.Bytes(uint64(pw.written))))
	}
}

func (pw *progressWriter) finish() {
	if pw.total > 0 && pw.written >= pw.total {
		pw.task.Progress(1, fmt.Sprintf("%s done", humanize.Bytes(uint64(pw.written))))
	}
}

// isCancel reports whether err came from context cancellation.
func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
