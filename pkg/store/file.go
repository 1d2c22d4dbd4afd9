// Package store keeps small JSON records on disk. Loads are lazy, writes
// go through a temp file and a rename so readers never see half a record.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when a record file does not exist and the store
// was told not to create it.
var ErrNotFound = errors.New("record not found")

// File is one JSON document on disk, loaded on first use.
type File[T any] struct {
	path   string
	data   *T
	loaded bool
	dirty  bool
	mu     sync.RWMutex
	opts   *options[T]
}

// NewFile creates a File backed by path. Nothing is read until Get or Modify.
func NewFile[T any](path string, opts ...Option[T]) *File[T] {
	f := &File[T]{
		path: path,
		opts: defaultOptions[T](),
	}
	for _, opt := range opts {
		opt(f.opts)
	}
	return f
}

// Path returns the backing file.
func (f *File[T]) Path() string { return f.path }

// Get returns the current data, loading it lazily if needed.
func (f *File[T]) Get() (*T, error) {
	f.mu.RLock()
	if f.loaded {
		defer f.mu.RUnlock()
		return f.data, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded {
		return f.data, nil
	}
	return f.data, f.loadLocked()
}

// Modify runs fn against the loaded data and marks it dirty.
func (f *File[T]) Modify(fn func(*T) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.loaded {
		if err := f.loadLocked(); err != nil {
			return err
		}
	}
	if err := fn(f.data); err != nil {
		return err
	}
	f.dirty = true
	return nil
}

// Set replaces the data without loading the old content.
func (f *File[T]) Set(v *T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = v
	f.loaded = true
	f.dirty = true
}

// Save writes the data to disk if it's dirty.
func (f *File[T]) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirty {
		return nil
	}
	if !f.loaded {
		return errors.New("cannot save: data not loaded")
	}
	return f.saveLocked()
}

// Reload forces a reload from disk, discarding any unsaved changes.
func (f *File[T]) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loaded = false
	f.dirty = false
	f.data = nil
	return f.loadLocked()
}

// Remove deletes the backing file and forgets the cached data.
func (f *File[T]) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loaded = false
	f.dirty = false
	f.data = nil
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsDirty returns true if the data has been modified since the last load/save.
func (f *File[T]) IsDirty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dirty
}

// Must hold the write lock.
func (f *File[T]) loadLocked() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", f.path, err)
		}
		if !f.opts.createIfMissing {
			return fmt.Errorf("%w: %s", ErrNotFound, f.path)
		}
		if f.opts.defaultValue != nil {
			f.data = f.opts.defaultValue()
		} else {
			var zero T
			f.data = &zero
		}
		f.loaded = true
		f.dirty = true
		return nil
	}

	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", f.path, err)
	}
	f.data = &result
	f.loaded = true
	f.dirty = false
	return nil
}

// Must hold the write lock.
func (f *File[T]) saveLocked() error {
	var (
		raw []byte
		err error
	)
	if f.opts.indent != "" {
		raw, err = json.MarshalIndent(f.data, "", f.opts.indent)
	} else {
		raw, err = json.Marshal(f.data)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := writeAtomic(f.path, raw, f.opts.fileMode); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, mode); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
