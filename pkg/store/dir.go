package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const ext = ".json"

// Dir is a directory of records of one type, one file per key.
type Dir[T any] struct {
	root string
	opts []Option[T]
}

// NewDir returns a record directory rooted at root. It is created on the
// first Put.
func NewDir[T any](root string, opts ...Option[T]) *Dir[T] {
	return &Dir[T]{root: root, opts: opts}
}

func (d *Dir[T]) file(key string) (*File[T], error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return nil, fmt.Errorf("invalid record key %q", key)
	}
	opts := append([]Option[T]{WithCreateIfMissing[T](false)}, d.opts...)
	return NewFile[T](filepath.Join(d.root, key+ext), opts...), nil
}

// Get loads the record for key. A missing record returns ErrNotFound.
func (d *Dir[T]) Get(key string) (*T, error) {
	f, err := d.file(key)
	if err != nil {
		return nil, err
	}
	return f.Get()
}

// Put atomically writes the record for key.
func (d *Dir[T]) Put(key string, v *T) error {
	f, err := d.file(key)
	if err != nil {
		return err
	}
	f.Set(v)
	return f.Save()
}

// Delete removes the record for key. Deleting a missing record is not an
// error.
func (d *Dir[T]) Delete(key string) error {
	f, err := d.file(key)
	if err != nil {
		return err
	}
	return f.Remove()
}

// Keys lists stored keys in sorted order.
func (d *Dir[T]) Keys() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ext))
	}
	sort.Strings(keys)
	return keys, nil
}
