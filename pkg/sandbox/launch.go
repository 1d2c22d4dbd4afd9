package sandbox

import "path/filepath"

// Params is everything needed to launch a shell or command in a root.
type Params struct {
	ProotPath    string
	RootPath     string
	NativeLibDir string
	TmpDir       string
	HostCwd      string
	SystemShell  string
	HostsFile    string
	// WorkingDir is the guest directory. Empty picks /root for an
	// interactive shell and / for a command.
	WorkingDir string
	// Command nil means an interactive shell.
	Command *string
}

// NewProotBuilder applies the flags, exports and binds every launch uses.
func NewProotBuilder(p Params) *Builder {
	b := NewBuilder(p.ProotPath)
	b.Export("PROOT_NO_SECCOMP", "1").
		Export("PROOT_TMP_DIR", p.TmpDir).
		Export("PROOT_LOADER", filepath.Join(p.NativeLibDir, "libproot-loader.so")).
		Export("PROOT_LOADER_32", filepath.Join(p.NativeLibDir, "libproot-loader32.so")).
		Export("LD_LIBRARY_PATH", p.NativeLibDir).
		Export("LD_PRELOAD", "")

	b.AddFlag("--link2symlink", "-0").SetRoot(p.RootPath)

	b.AddBind("/dev", "").
		AddBind("/dev/urandom", "/dev/random").
		AddBind("/proc", "").
		AddPathBind(p.HostsFile, "/etc/hosts").
		AddBind("/proc/stat", "/proc/stat").
		AddBind("/proc/version", "/proc/version").
		AddBind("/sys", "")
	return b
}

// BuildInvocation renders p into an Invocation. The result shares no
// memory with p or any builder.
func BuildInvocation(p Params) Invocation {
	wd := p.WorkingDir
	if wd == "" {
		wd = oneShotDir
		if p.Command == nil {
			wd = interactiveDir
		}
	}
	b := NewProotBuilder(p).SetWorkDir(wd)
	if p.Command != nil {
		cmd := *p.Command
		b.SetCommand(&cmd)
	}

	inv := Invocation{
		ShellPath: p.SystemShell,
		Args:      []string{p.SystemShell, "-c", b.Inline()},
		Cwd:       p.HostCwd,
		Env:       GuestEnv(p.TmpDir),
	}
	return inv.Clone()
}

// GuestEnv is the environment handed to the system shell.
func GuestEnv(tmpDir string) []string {
	return []string{
		"PROOT_NO_SECCOMP=1",
		"PROOT_TMP_DIR=" + tmpDir,
		"HOME=/root",
		"TERM=xterm-256color",
		"LANG=C.UTF-8",
		"LD_PRELOAD=",
		"PATH=" + GuestPath,
	}
}
