// Package sandbox builds proot invocations.
//
// proot is never exec'd directly. App-writable storage may be mounted
// noexec, and only the host's system shell is guaranteed to be allowed to
// exec from there, so every launch is "<system shell> -c <inline script>"
// where the script exports proot's variables and then execs proot.
package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"
)

const (
	// GuestPath is PATH inside the guest.
	GuestPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

	guestShell     = "/bin/sh"
	interactiveDir = "/root"
	oneShotDir     = "/"
)

// bind is one -b host[:guest] mount.
type bind struct {
	host  string
	guest string
	quote bool
}

type export struct {
	name  string
	value string
}

// Builder collects a proot command line. Order of binds and exports is the
// order they were added, since proot applies binds in sequence.
type Builder struct {
	proot   string
	root    string
	workdir string
	flags   []string
	binds   []bind
	exports []export
	shell   string
	command *string
}

// NewBuilder starts a command line for the proot binary at path.
func NewBuilder(proot string) *Builder {
	return &Builder{proot: proot, shell: guestShell}
}

func (b *Builder) AddFlag(flags ...string) *Builder {
	b.flags = append(b.flags, flags...)
	return b
}

// Export adds "export name=value" ahead of the exec. An empty value
// exports the variable as empty.
func (b *Builder) Export(name, value string) *Builder {
	b.exports = append(b.exports, export{name, value})
	return b
}

// AddBind mounts a fixed host path. guest may be empty to reuse host.
func (b *Builder) AddBind(host, guest string) *Builder {
	b.binds = append(b.binds, bind{host: host, guest: guest})
	return b
}

// AddPathBind mounts a caller supplied host path, which gets quoted.
func (b *Builder) AddPathBind(host, guest string) *Builder {
	b.binds = append(b.binds, bind{host: host, guest: guest, quote: true})
	return b
}

func (b *Builder) SetRoot(root string) *Builder {
	b.root = root
	return b
}

func (b *Builder) SetWorkDir(dir string) *Builder {
	b.workdir = dir
	return b
}

// SetCommand sets the guest command. nil means an interactive shell.
func (b *Builder) SetCommand(cmd *string) *Builder {
	b.command = cmd
	return b
}

// Inline renders the script handed to the system shell's -c.
func (b *Builder) Inline() string {
	var sb strings.Builder
	for _, e := range b.exports {
		if e.value == "" {
			fmt.Fprintf(&sb, "export %s=; ", e.name)
		} else {
			fmt.Fprintf(&sb, "export %s=%s; ", e.name, ShellQuote(e.value))
		}
	}
	fmt.Fprintf(&sb, "exec %s", ShellQuote(b.proot))
	for _, f := range b.flags {
		sb.WriteString(" " + f)
	}
	if b.root != "" {
		fmt.Fprintf(&sb, " -r %s", ShellQuote(b.root))
	}
	for _, m := range b.binds {
		spec := m.host
		if m.guest != "" {
			spec += ":" + m.guest
		}
		if m.quote {
			spec = ShellQuote(spec)
		}
		sb.WriteString(" -b " + spec)
	}
	if b.workdir != "" {
		fmt.Fprintf(&sb, " -w %s", ShellQuote(b.workdir))
	}
	sb.WriteString(" " + b.shell)
	if b.command != nil {
		fmt.Fprintf(&sb, " -c %s", ShellQuote(*b.command))
	}
	return sb.String()
}

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Invocation is a fully resolved launch: what to exec, with which argv,
// directory and environment. Env is the complete environment.
type Invocation struct {
	ShellPath string   `json:"shellPath"`
	Args      []string `json:"args"`
	Cwd       string   `json:"cwd"`
	Env       []string `json:"env"`
}

// Clone returns a deep copy.
func (inv Invocation) Clone() Invocation {
	inv.Args = slices.Clone(inv.Args)
	inv.Env = slices.Clone(inv.Env)
	return inv
}

// Cmd returns an *exec.Cmd for the invocation. Callers wire stdio.
func (inv Invocation) Cmd() *exec.Cmd {
	cmd := &exec.Cmd{
		Path: inv.ShellPath,
		Args: slices.Clone(inv.Args),
		Dir:  inv.Cwd,
		Env:  slices.Clone(inv.Env),
	}
	if len(cmd.Args) == 0 {
		cmd.Args = []string{inv.ShellPath}
	}
	return cmd
}

// Exec replaces the current process with the invocation.
func (inv Invocation) Exec() error {
	if inv.ShellPath == "" {
		return fmt.Errorf("shell path is empty")
	}
	if inv.Cwd != "" {
		if err := os.Chdir(inv.Cwd); err != nil {
			return err
		}
	}
	return syscall.Exec(inv.ShellPath, inv.Args, inv.Env)
}
