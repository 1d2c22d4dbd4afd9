package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"linuxenv/pkg/display"
	"linuxenv/pkg/downloader"
)

// MaxDocumentSize caps what a recipe may pull with download().
const MaxDocumentSize = 5 << 20

// Fetcher returns the body of a URL.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

var errTooLarge = errors.New("document exceeds 5 MiB")

type cappedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.Len()+len(p) > b.limit {
		return 0, errTooLarge
	}
	return b.Buffer.Write(p)
}

// NewFetcher adapts a Downloader into a size-capped Fetcher.
func NewFetcher(dl downloader.Downloader) Fetcher {
	return func(ctx context.Context, url string) ([]byte, error) {
		buf := &cappedBuffer{limit: MaxDocumentSize}
		if err := dl.Download(ctx, url, buf, display.Nop); err != nil {
			return nil, fmt.Errorf("download %s: %w", url, err)
		}
		return buf.Bytes(), nil
	}
}
