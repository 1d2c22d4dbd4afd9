// Package common provides shared types used across linuxenv.
// It includes the environment model, resolver outcomes, progress events
// and command results passed between components.
package common

import (
	"fmt"
	"regexp"
	"strings"
)

// Distro identifies a supported root filesystem distribution.
type Distro string

const (
	DistroAlpine Distro = "alpine"
	DistroUbuntu Distro = "ubuntu"
)

// Distros lists every supported distribution in display order.
var Distros = []Distro{DistroAlpine, DistroUbuntu}

// ParseDistro converts a user supplied name into a Distro.
func ParseDistro(s string) (Distro, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "alpine":
		return DistroAlpine, nil
	case "ubuntu":
		return DistroUbuntu, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDistro, s)
	}
}

func (d Distro) String() string { return string(d) }

var envIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateEnvID reports whether id is usable as a directory name under the
// environment root.
func ValidateEnvID(id string) error {
	if id == "" || id == "." || id == ".." || !envIDPattern.MatchString(id) {
		return fmt.Errorf("invalid environment id %q", id)
	}
	return nil
}

// Environment is a provisioned root filesystem.
type Environment struct {
	ID                 string `json:"id"`
	Distro             Distro `json:"distro"`
	RootPath           string `json:"-"`
	InstalledAtEpochMs int64  `json:"installedAtEpochMs"`
}

// LocationKind tells which resolver strategy produced the launcher binary.
type LocationKind string

const (
	LocationBundled           LocationKind = "bundled"
	LocationExtracted         LocationKind = "extracted"
	LocationExtractedFallback LocationKind = "extractedFallback"
	LocationOverride          LocationKind = "override"
)

// ExecutableLocation is the outcome of a successful launcher resolution.
type ExecutableLocation struct {
	Kind LocationKind
	Path string
}

func (l ExecutableLocation) String() string {
	return fmt.Sprintf("%s(%s)", l.Kind, l.Path)
}

// MirrorList is an ordered list of URLs serving the same file.
// The first successful mirror wins.
type MirrorList []string

// Progress is a single setup progress event.
type Progress struct {
	Message  string  `json:"message"`
	Fraction float64 `json:"progress"`
}

// Stream identifies the channel a line of command output came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// OutputLine is one line of live command output.
type OutputLine struct {
	Text   string
	Stream Stream
}

// String renders the line the way live subscribers display it.
func (l OutputLine) String() string {
	if l.Stream == Stderr {
		return "[err] " + l.Text
	}
	return l.Text
}

// CommandResult is the uniform outcome of a one-shot command.
// Spawn failures and timeouts are encoded with ExitCode -1.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Failed builds a result for a command that never produced an exit code.
func Failed(msg string) CommandResult {
	return CommandResult{Stderr: msg, ExitCode: -1}
}
