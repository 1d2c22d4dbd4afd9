package downloader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"linuxenv/pkg/display"
)

// fileHandler serves file:// URIs, used for local mirrors.
// Immutable
type fileHandler struct{}

func NewFileHandler() SchemeHandler {
	return fileHandler{}
}

func (fileHandler) Schemes() []string {
	return []string{"file"}
}

func (fileHandler) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid uri: %w", err)
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	var total int64 = -1
	if st, err := f.Stat(); err == nil {
		total = st.Size()
	}
	return copyWithProgress(w, ctxReader{ctx, f}, total, task)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
