package environment

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"linuxenv/pkg/common"
	"linuxenv/pkg/repair"
	"linuxenv/pkg/sandbox"
)

// ExecuteCommand runs command with /bin/sh -c inside id, or inside the
// installed environment when id is empty. An empty workingDir means "/"
// and a zero timeout means five minutes. Failures come back in the
// result, never as a Go error.
func (m *Manager) ExecuteCommand(ctx context.Context, id, command, workingDir string, timeout time.Duration) common.CommandResult {
	if id == "" {
		if info, ok := m.GetInstalledEnvironment(); ok {
			id = info.ID
		}
	}
	if id == "" {
		return common.Failed("No Linux environment found.")
	}
	if err := common.ValidateEnvID(id); err != nil {
		return common.Failed(err.Error())
	}
	if err := m.acquire(ctx); err != nil {
		return common.Failed("Cancelled")
	}
	defer m.sem.Release(1)

	env := common.Environment{ID: id, RootPath: m.rootOf(id)}
	return m.runIn(ctx, env, command, workingDir, timeout)
}

// runIn is ExecuteCommand without the worker slot, for use from inside a
// setup that already holds one.
func (m *Manager) runIn(ctx context.Context, env common.Environment, command, workingDir string, timeout time.Duration) common.CommandResult {
	if workingDir == "" {
		workingDir = defaultWorkingDir
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	loc, err := m.resolver.Resolve(ctx)
	if err != nil {
		return common.Failed(err.Error())
	}
	if fi, err := os.Stat(env.RootPath); err != nil || !fi.IsDir() {
		return common.Failed("Env not found: " + env.RootPath)
	}
	if _, ok := repair.FindShell(env.RootPath); !ok {
		return common.Failed("No shell in rootfs. Delete env and reinstall.")
	}

	p := m.launchParams(loc.Path, env.RootPath)
	p.WorkingDir = workingDir
	p.Command = &command
	inv := sandbox.BuildInvocation(p)

	slog.Debug("Executing", "env", env.ID, "cwd", workingDir, "timeout", timeout)
	return m.exec.Run(ctx, inv, timeout, m.publish)
}

// GetSessionLaunchArgs describes how to start an interactive shell in id,
// or in the installed environment when id is empty.
func (m *Manager) GetSessionLaunchArgs(ctx context.Context, id string) (sandbox.Invocation, error) {
	if id == "" {
		info, ok := m.GetInstalledEnvironment()
		if !ok {
			return sandbox.Invocation{}, common.Errorf(common.NoEnvironment, "No environment installed")
		}
		id = info.ID
	}
	if err := common.ValidateEnvID(id); err != nil {
		return sandbox.Invocation{}, common.Wrap(common.NoEnvironment, "invalid environment", err)
	}
	root := m.rootOf(id)
	if !exists(root) {
		return sandbox.Invocation{}, common.Errorf(common.NoEnvironment, "Env not found: %s", root)
	}

	loc, err := m.resolver.Resolve(ctx)
	if err != nil {
		return sandbox.Invocation{}, err
	}
	if _, ok := repair.FindShell(root); !ok {
		return sandbox.Invocation{}, common.Errorf(common.NoShellFound, "No shell found in rootfs")
	}
	return sandbox.BuildInvocation(m.launchParams(loc.Path, root)), nil
}

func (m *Manager) launchParams(proot, root string) sandbox.Params {
	tmp := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmp, 0777); err == nil {
		_ = os.Chmod(tmp, 0777|os.ModeSticky)
	}
	return sandbox.Params{
		ProotPath:    proot,
		RootPath:     root,
		NativeLibDir: m.cfg.GetNativeLibDir(),
		TmpDir:       tmp,
		HostCwd:      nearestExisting(m.cfg.GetDataDir()),
		SystemShell:  m.cfg.GetSystemShell(),
		HostsFile:    m.cfg.GetHostsFile(),
	}
}
