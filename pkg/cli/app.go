// Package cli is the command-line front end over the environment manager.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"linuxenv/pkg/config"
	"linuxenv/pkg/environment"
)

const programName = "linuxenv"

// App carries the global flags and lazily built services for one run.
type App struct {
	stdout io.Writer
	stderr io.Writer
	theme  *Theme
	tty    bool

	json    bool
	jq      string
	verbose bool

	cfg  config.ReadOnly
	opts []environment.Option
	mgr  *environment.Manager
}

// manager builds the environment manager on first use. extra options only
// take effect on that first call.
func (a *App) manager(extra ...environment.Option) *environment.Manager {
	if a.mgr == nil {
		opts := append(append([]environment.Option{}, a.opts...), extra...)
		a.mgr = environment.New(a.cfg, opts...)
	}
	return a.mgr
}

func (a *App) close() {
	if a.mgr != nil {
		a.mgr.Shutdown()
	}
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}

func commands() []*Command {
	return []*Command{
		setupCommand(),
		listCommand(),
		statusCommand(),
		deleteCommand(),
		execCommand(),
		shellCommand(),
		infoCommand(),
		mirrorsCommand(),
		versionCommand(),
	}
}

func lookup(cmds []*Command, name string) *Command {
	for _, c := range cmds {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Run parses args and executes the selected command. opts are passed to
// the environment manager.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...environment.Option) (*ExecutionResult, error) {
	app := &App{
		stdout: stdout,
		stderr: stderr,
		theme:  DefaultTheme(),
		tty:    isTerminal(stderr),
		opts:   opts,
	}

	var configPath string
	global := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	global.SetOutput(io.Discard)
	global.SetInterspersed(false)
	global.BoolVarP(&app.verbose, "verbose", "v", false, "Enable debug logging")
	global.BoolVar(&app.json, "json", false, "Print machine-readable JSON")
	global.StringVar(&app.jq, "jq", "", "Filter JSON output through a jq expression (implies --json)")
	global.StringVar(&configPath, "config", "", "Path to a YAML config file")

	cmds := commands()
	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stdout, app.theme, global, cmds)
			return &ExecutionResult{}, nil
		}
		return nil, err
	}
	if app.jq != "" {
		app.json = true
	}
	slog.SetDefault(newLogger(stderr, app.verbose, app.tty))

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stdout, app.theme, global, cmds)
		return &ExecutionResult{}, nil
	}

	name := rest[0]
	if name == "help" {
		if len(rest) > 1 {
			if c := lookup(cmds, rest[1]); c != nil {
				c.printHelp(stdout, app.theme)
				return &ExecutionResult{}, nil
			}
			return nil, unknownCommand(rest[1], cmds)
		}
		printUsage(stdout, app.theme, global, cmds)
		return &ExecutionResult{}, nil
	}

	cmd := lookup(cmds, name)
	if cmd == nil {
		return nil, unknownCommand(name, cmds)
	}
	fs := cmd.flagSet()
	if err := fs.Parse(rest[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			cmd.printHelp(stdout, app.theme)
			return &ExecutionResult{}, nil
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	cfg, err := config.Init(configPath)
	if err != nil {
		return nil, err
	}
	app.cfg = cfg
	defer app.close()

	slog.Debug("Running command", "command", name, "args", fs.Args())
	return cmd.Run(ctx, app, fs.Args())
}

func unknownCommand(name string, cmds []*Command) error {
	if s := suggest(name, cmds); s != "" {
		return fmt.Errorf("unknown command %q (did you mean %q?)", name, s)
	}
	return fmt.Errorf("unknown command %q, run '%s help' for a list", name, programName)
}
