package downloader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"linuxenv/pkg/display"
)

// Mutable
type Manager struct {
	handlers map[string]SchemeHandler
}

// NewDefaultDownloader returns a Downloader for http, https and file URIs.
func NewDefaultDownloader() Downloader {
	m := NewManager()
	m.Register(NewHTTPHandler())
	m.Register(NewFileHandler())
	return m
}

// NewManager returns an empty scheme registry.
func NewManager() *Manager {
	return &Manager{
		handlers: make(map[string]SchemeHandler),
	}
}

func (m *Manager) Register(h SchemeHandler) {
	for _, scheme := range h.Schemes() {
		m.handlers[scheme] = h
	}
}

// Bind forwards to every registered handler that holds network state.
func (m *Manager) Bind() {
	seen := map[SchemeHandler]bool{}
	for _, h := range m.handlers {
		if seen[h] {
			continue
		}
		seen[h] = true
		if b, ok := h.(NetworkBinder); ok {
			b.Bind()
		}
	}
}

func (m *Manager) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid uri: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	handler, ok := m.handlers[scheme]
	if !ok {
		return fmt.Errorf("unsupported scheme: %s", scheme)
	}

	return handler.Download(ctx, uri, w, task)
}
