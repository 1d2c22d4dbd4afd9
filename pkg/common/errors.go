package common

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so callers can react without parsing
// messages.
type Kind int

const (
	KindUnknown Kind = iota
	NoExecutable
	NoNetwork
	AllMirrorsFailed
	Cancelled
	ExtractionFailed
	NoShellFound
	NoEnvironment
	ProcessTimeout
	ProcessSpawnFailed
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	NoExecutable:       "no-executable",
	NoNetwork:          "no-network",
	AllMirrorsFailed:   "all-mirrors-failed",
	Cancelled:          "cancelled",
	ExtractionFailed:   "extraction-failed",
	NoShellFound:       "no-shell",
	NoEnvironment:      "no-environment",
	ProcessTimeout:     "process-timeout",
	ProcessSpawnFailed: "process-spawn-failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// Errorf builds a classified error. A %w verb in format is honoured.
func Errorf(kind Kind, format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// Wrap classifies err under kind, prefixing msg.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return &Error{Kind: kind, Msg: msg}
	}
	return &Error{Kind: kind, Msg: msg + ": " + err.Error(), Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrNoExecutable       = &Error{Kind: NoExecutable}
	ErrNoNetwork          = &Error{Kind: NoNetwork}
	ErrAllMirrorsFailed   = &Error{Kind: AllMirrorsFailed}
	ErrCancelled          = &Error{Kind: Cancelled}
	ErrExtractionFailed   = &Error{Kind: ExtractionFailed}
	ErrNoShellFound       = &Error{Kind: NoShellFound}
	ErrNoEnvironment      = &Error{Kind: NoEnvironment}
	ErrProcessTimeout     = &Error{Kind: ProcessTimeout}
	ErrProcessSpawnFailed = &Error{Kind: ProcessSpawnFailed}

	ErrUnknownDistro = errors.New("unknown distro")
)

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
