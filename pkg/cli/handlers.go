package cli

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"linuxenv/pkg/catalog"
	"linuxenv/pkg/common"
	"linuxenv/pkg/config"
	"linuxenv/pkg/display"
	"linuxenv/pkg/downloader"
	"linuxenv/pkg/environment"
)

// exitCancelled is what a shell reports for a command ended by SIGINT.
const exitCancelled = 130

func ok() (*ExecutionResult, error) { return &ExecutionResult{}, nil }

func oneArg(name string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: expected exactly one argument, got %d", name, len(args))
	}
	return args[0], nil
}

func setupCommand() *Command {
	var distro string
	return &Command{
		Name:    "setup",
		Summary: "Download and prepare a new environment",
		Usage:   "setup [--distro alpine|ubuntu] <id>",
		Examples: []string{
			"linuxenv setup dev",
			"linuxenv setup --distro ubuntu jammy",
		},
		Flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&distro, "distro", string(common.DistroAlpine), "Distribution to install")
		},
		Run: func(ctx context.Context, app *App, args []string) (*ExecutionResult, error) {
			id, err := oneArg("setup", args)
			if err != nil {
				return nil, err
			}
			d, err := common.ParseDistro(distro)
			if err != nil {
				return nil, err
			}

			var mgr *environment.Manager
			var disp display.Display
			if app.tty && !app.json {
				title := fmt.Sprintf("%s Setting up %s (%s)", app.theme.IconEnv, id, d)
				disp = newTeaDisplay(app.stderr, title, app.theme, func() { mgr.CancelSetup() })
			} else {
				disp = newLineDisplay(app.stderr)
			}
			disp.SetVerbose(app.verbose)
			mgr = app.manager(environment.WithDisplay(disp))

			res, err := mgr.Setup(ctx, d, id)
			// Shutdown flushes queued progress before the display goes away.
			mgr.Shutdown()
			disp.Close()
			if err != nil {
				if errors.Is(err, common.ErrCancelled) {
					fmt.Fprintln(app.stderr, app.theme.Styled(app.theme.Yellow, "stopped"))
					return &ExecutionResult{ExitCode: exitCancelled}, nil
				}
				return nil, err
			}

			if app.json {
				return finish(writeJSON(app.stdout, res, app.jq))
			}
			t := app.theme
			if res.AlreadyInstalled {
				app.printf("%s Environment %s is already installed\n", t.IconOK, t.Styled(t.Cyan, id))
				return ok()
			}
			app.printf("%s Environment %s ready (%s)\n", t.IconOK, t.Styled(t.Cyan, id), res.Environment.Distro)
			app.printf("   %s %s\n", t.Arrow, t.Styled(t.Dim, res.Environment.RootPath))
			return ok()
		},
	}
}

// finish turns an output error into a command result.
func finish(err error) (*ExecutionResult, error) {
	if err != nil {
		return nil, err
	}
	return ok()
}

func installedAt(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return humanize.Time(time.UnixMilli(ms))
}

func listCommand() *Command {
	return &Command{
		Name:    "list",
		Summary: "List environments with their size",
		Usage:   "list",
		Run: func(ctx context.Context, app *App, args []string) (*ExecutionResult, error) {
			envs := app.manager().ListEnvironmentsWithSize()
			if app.json {
				if envs == nil {
					envs = []environment.EnvironmentInfo{}
				}
				return finish(writeJSON(app.stdout, envs, app.jq))
			}
			t := app.theme
			if len(envs) == 0 {
				app.printf("No environments. Run '%s' to create one.\n", t.Styled(t.Yellow, programName+" setup <id>"))
				return ok()
			}
			tw := tabwriter.NewWriter(app.stdout, 2, 0, 3, ' ', 0)
			var header []string
			for _, h := range []string{"ID", "DISTRO", "STATUS", "SIZE", "INSTALLED"} {
				header = append(header, t.Styled(t.Bold, h))
			}
			fmt.Fprintln(tw, strings.Join(header, "\t"))
			for _, e := range envs {
				status := t.Styled(t.Green, "installed")
				if !e.Exists {
					status = t.Styled(t.Red, "incomplete")
				}
				distro := string(e.Distro)
				if distro == "" {
					distro = "?"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, distro, status,
					humanize.IBytes(uint64(e.SizeBytes)), installedAt(e.InstalledAtEpochMs))
			}
			return finish(tw.Flush())
		},
	}
}

func statusCommand() *Command {
	return &Command{
		Name:    "status",
		Summary: "Show one environment; exits 1 unless it is installed",
		Usage:   "status <id>",
		Run: func(ctx context.Context, app *App, args []string) (*ExecutionResult, error) {
			id, err := oneArg("status", args)
			if err != nil {
				return nil, err
			}
			if err := common.ValidateEnvID(id); err != nil {
				return nil, err
			}
			var info *environment.EnvironmentInfo
			for _, e := range app.manager().ListEnvironmentsWithSize() {
				if e.ID == id {
					info = &e
					break
				}
			}
			if info == nil {
				return nil, common.Errorf(common.NoEnvironment, "Env not found: %s", id)
			}
			code := 0
			if !info.Exists {
				code = 1
			}
			if app.json {
				if err := writeJSON(app.stdout, info, app.jq); err != nil {
					return nil, err
				}
				return &ExecutionResult{ExitCode: code}, nil
			}

			t := app.theme
			mark := t.IconOK
			if !info.Exists {
				mark = t.IconFail
			}
			rows := [][2]string{
				{"Path", info.Path},
				{"Distro", string(info.Distro)},
				{"Installed", installedAt(info.InstalledAtEpochMs)},
				{"Size", humanize.IBytes(uint64(info.SizeBytes))},
			}
			app.printf("%s %s\n", mark, t.Styled(t.Cyan, info.ID))
			for i, r := range rows {
				app.printf("  %s %s %s\n", t.Tree(i, len(rows)), t.Styled(t.Bold, r[0]+":"), r[1])
			}
			return &ExecutionResult{ExitCode: code}, nil
		},
	}
}

func deleteCommand() *Command {
	return &Command{
		Name:    "delete",
		Summary: "Remove an environment and its record",
		Usage:   "delete <id>",
		Run: func(ctx context.Context, app *App, args []string) (*ExecutionResult, error) {
			id, err := oneArg("delete", args)
			if err != nil {
				return nil, err
			}
			if !app.manager().DeleteEnvironment(id) {
				return nil, common.Errorf(common.NoEnvironment, "Env not found: %s", id)
			}
			if app.json {
				return finish(writeJSON(app.stdout, map[string]any{"id": id, "deleted": true}, app.jq))
			}
			app.printf("%s Deleted %s\n", app.theme.IconOK, app.theme.Styled(app.theme.Cyan, id))
			return ok()
		},
	}
}

func execCommand() *Command {
	var env, cwd string
	var timeout time.Duration
	return &Command{
		Name:    "exec",
		Summary: "Run a command inside an environment",
		Usage:   "exec [--env id] [--cwd dir] [--timeout 5m] -- <command...>",
		Examples: []string{
			"linuxenv exec -- cat /etc/os-release",
			"linuxenv exec --env dev --cwd /root --timeout 30s -- python3 -V",
		},
		Flags: func(fs *pflag.FlagSet) {
			fs.SetInterspersed(false)
			fs.StringVar(&env, "env", "", "Environment id (default: the first installed one)")
			fs.StringVar(&cwd, "cwd", "", "Working directory inside the environment (default /)")
			fs.DurationVar(&timeout, "timeout", environment.DefaultTimeout, "Kill the command after this long")
		},
		Run: func(ctx context.Context, app *App, args []string) (*ExecutionResult, error) {
			if len(args) == 0 {
				return nil, errors.New("exec: no command given")
			}
			command := strings.Join(args, " ")
			mgr := app.manager()

			var wg sync.WaitGroup
			unsubscribe := func() {}
			if !app.json {
				lines, cancel := mgr.Subscribe()
				unsubscribe = cancel
				wg.Add(1)
				go func() {
					defer wg.Done()
					for l := range lines {
						if l.Stream == common.Stderr {
							fmt.Fprintln(app.stderr, l.Text)
						} else {
							fmt.Fprintln(app.stdout, l.Text)
						}
					}
				}()
			}
			stop := context.AfterFunc(ctx, func() { mgr.KillCurrent() })
			res := mgr.ExecuteCommand(ctx, env, command, cwd, timeout)
			stop()
			unsubscribe()
			wg.Wait()

			code := res.ExitCode
			if code == -1 {
				code = 255
			}
			if app.json {
				if err := writeJSON(app.stdout, res, app.jq); err != nil {
					return nil, err
				}
				return &ExecutionResult{ExitCode: code}, nil
			}
			if res.ExitCode == -1 {
				// Timeouts and launch failures never reach the stream.
				fmt.Fprintln(app.stderr, app.theme.Styled(app.theme.Red, lastLine(res.Stderr)))
			}
			return &ExecutionResult{ExitCode: code}, nil
		},
	}
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func shellCommand() *Command {
	var env string
	return &Command{
		Name:    "shell",
		Summary: "Open an interactive login shell in an environment",
		Usage:   "shell [--env id]",
		Flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&env, "env", "", "Environment id (default: the first installed one)")
		},
		Run: func(ctx context.Context, app *App, args []string) (*ExecutionResult, error) {
			inv, err := app.manager().GetSessionLaunchArgs(ctx, env)
			if err != nil {
				return nil, err
			}
			if app.json {
				return finish(writeJSON(app.stdout, inv, app.jq))
			}
			return &ExecutionResult{Exec: &inv}, nil
		},
	}
}

func infoCommand() *Command {
	return &Command{
		Name:    "info",
		Summary: "Show storage and launcher status",
		Usage:   "info",
		Run: func(ctx context.Context, app *App, args []string) (*ExecutionResult, error) {
			info := app.manager().GetStorageInfo(ctx)
			if app.json {
				return finish(writeJSON(app.stdout, info, app.jq))
			}

			t := app.theme
			app.printf("%s %s\n", t.IconDisk, t.Styled(t.Bold, "Storage"))
			app.printf("  %s Root: %s\n", t.BoxTree, info.RootPath)
			app.printf("  %s Free: %s of %s\n", t.BoxLast,
				humanize.IBytes(info.FreeSpaceBytes), humanize.IBytes(info.TotalSpaceBytes))

			app.printf("\n%s %s\n", t.Bullet, t.Styled(t.Bold, "Launcher"))
			if info.ExecutableOK {
				app.printf("  %s %s %s\n", t.BoxTree, t.Styled(t.Green, "ok"), info.ResolvedExecutablePath)
			} else {
				app.printf("  %s %s %s\n", t.BoxTree, t.Styled(t.Red, "unavailable"), info.ExecutableError)
			}
			marker := info.Marker
			if marker == "" {
				marker = "none"
			}
			app.printf("  %s Marker: %s\n", t.BoxLast, marker)

			if len(info.Usage) > 0 {
				app.printf("\n%s %s (%s)\n", t.Bullet, t.Styled(t.Bold, "Usage"), humanize.IBytes(uint64(info.UsageTotal)))
				tw := tabwriter.NewWriter(app.stdout, 2, 0, 2, ' ', 0)
				for i, u := range info.Usage {
					fmt.Fprintf(tw, "  %s %s\t%s\t%s\n", t.Tree(i, len(info.Usage)), u.Label,
						humanize.IBytes(uint64(u.Size)), humanize.Comma(int64(u.Items))+" items")
				}
				return finish(tw.Flush())
			}
			return ok()
		},
	}
}

func mirrorsCommand() *Command {
	return &Command{
		Name:    "mirrors",
		Summary: "Evaluate the recipe for a distro and print its mirror list",
		Usage:   "mirrors <distro>",
		Examples: []string{
			"linuxenv mirrors alpine",
			"linuxenv --jq '.[0]' mirrors ubuntu",
		},
		Run: func(ctx context.Context, app *App, args []string) (*ExecutionResult, error) {
			name, err := oneArg("mirrors", args)
			if err != nil {
				return nil, err
			}
			d, err := common.ParseDistro(name)
			if err != nil {
				return nil, err
			}
			cat := catalog.New(app.cfg, catalog.WithFetcher(catalog.NewFetcher(downloader.NewDefaultDownloader())))
			mirrors, err := cat.Mirrors(ctx, d)
			if err != nil {
				return nil, err
			}
			if app.json {
				return finish(writeJSON(app.stdout, mirrors, app.jq))
			}
			t := app.theme
			app.printf("%s %s\n", t.IconWorld, t.Styled(t.Bold, string(d)))
			for i, m := range mirrors {
				app.printf("  %s %s\n", t.Tree(i, len(mirrors)), m)
			}
			return ok()
		},
	}
}

func versionCommand() *Command {
	return &Command{
		Name:    "version",
		Summary: "Print build information",
		Usage:   "version",
		Run: func(ctx context.Context, app *App, args []string) (*ExecutionResult, error) {
			if app.json {
				return finish(writeJSON(app.stdout, map[string]string{
					"version":   config.BuildVersion,
					"timestamp": config.BuildTimestamp,
					"os":        runtime.GOOS,
					"arch":      runtime.GOARCH,
				}, app.jq))
			}
			app.printf("%s\n", config.GetBuildInfo())
			return ok()
		},
	}
}
