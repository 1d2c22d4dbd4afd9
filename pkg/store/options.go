package store

import "os"

// Option is a functional option for configuring a File or Dir.
type Option[T any] func(*options[T])

type options[T any] struct {
	indent          string
	fileMode        os.FileMode
	createIfMissing bool
	defaultValue    func() *T
}

func defaultOptions[T any]() *options[T] {
	return &options[T]{
		indent:          "  ",
		fileMode:        0644,
		createIfMissing: true,
	}
}

// WithIndent sets the indentation string for JSON output.
// Use "" for compact JSON.
func WithIndent[T any](indent string) Option[T] {
	return func(o *options[T]) {
		o.indent = indent
	}
}

// WithFileMode sets the file permissions for the JSON file.
func WithFileMode[T any](mode os.FileMode) Option[T] {
	return func(o *options[T]) {
		o.fileMode = mode
	}
}

// WithCreateIfMissing controls whether a missing file loads as the default
// value (true, the default) or fails with ErrNotFound.
func WithCreateIfMissing[T any](create bool) Option[T] {
	return func(o *options[T]) {
		o.createIfMissing = create
	}
}

// WithDefaultValue provides the value used for a missing file.
func WithDefaultValue[T any](fn func() *T) Option[T] {
	return func(o *options[T]) {
		o.defaultValue = fn
	}
}
