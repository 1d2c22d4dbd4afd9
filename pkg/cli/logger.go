package cli

import (
	"io"
	"log/slog"
	"os"
)

// debugEnv turns on debug logging without --verbose.
const debugEnv = "LINUXENV_DEBUG"

// newLogger returns the process logger. Terminals get slog's text format;
// pipes and files get JSON lines.
func newLogger(w io.Writer, verbose, tty bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose || os.Getenv(debugEnv) != "" {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if tty {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}
