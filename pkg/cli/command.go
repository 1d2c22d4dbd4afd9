package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"linuxenv/pkg/sandbox"
)

// ExecutionResult tells main how to finish: exit with ExitCode, or replace
// the process with Exec when it is set.
type ExecutionResult struct {
	ExitCode int
	Exec     *sandbox.Invocation
}

// Command is one verb of the CLI.
type Command struct {
	Name     string
	Summary  string
	Usage    string
	Examples []string

	// Flags registers the command's flags on fs.
	Flags func(fs *pflag.FlagSet)
	Run   func(ctx context.Context, app *App, args []string) (*ExecutionResult, error)
}

func (c *Command) flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(c.Name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if c.Flags != nil {
		c.Flags(fs)
	}
	return fs
}

func (c *Command) printHelp(w io.Writer, t *Theme) {
	fmt.Fprintf(w, "\n%s %s\n", t.Styled(t.Bold, "Command:"), t.Styled(t.Cyan, c.Name))
	fmt.Fprintf(w, "%s %s\n\n", t.Styled(t.Bold, "Description:"), t.Styled(t.Dim, c.Summary))
	fmt.Fprintf(w, "%s\n  %s %s\n", t.Styled(t.Bold, "Usage:"), programName, c.Usage)

	fs := c.flagSet()
	if fs.HasFlags() {
		fmt.Fprintf(w, "\n%s\n%s", t.Styled(t.Bold, "Flags:"), fs.FlagUsages())
	}
	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\n%s\n", t.Styled(t.Bold, "Examples:"))
		for _, ex := range c.Examples {
			fmt.Fprintf(w, "  %s %s\n", t.Styled(t.Green, "$"), ex)
		}
	}
	fmt.Fprintln(w)
}

func printUsage(w io.Writer, t *Theme, global *pflag.FlagSet, cmds []*Command) {
	fmt.Fprintf(w, "%s %s\n\n", t.IconEnv, t.Styled(t.Bold, "linuxenv: Linux root filesystems under proot, no root required"))
	fmt.Fprintf(w, "%s\n  %s %s\n", t.Styled(t.Bold, "Usage:"), programName, t.Styled(t.Yellow, "[flags] <command>"))
	fmt.Fprintf(w, "\n%s\n%s", t.Styled(t.Bold, "Global Flags:"), global.FlagUsages())

	fmt.Fprintf(w, "\n%s\n", t.Styled(t.Bold, "Commands:"))
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	for i, c := range cmds {
		fmt.Fprintf(tw, "  %s %s\t%s\n", t.Tree(i, len(cmds)), c.Name, c.Summary)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%s Type '%s' for more details.\n", t.IconHelp, t.Styled(t.Yellow, programName+" help <command>"))
}

// suggest returns the command whose name shares the longest prefix with
// name, if any share at least two characters.
func suggest(name string, cmds []*Command) string {
	best, bestLen := "", 1
	for _, c := range cmds {
		n := 0
		for n < len(name) && n < len(c.Name) && name[n] == c.Name[n] {
			n++
		}
		if n > bestLen {
			best, bestLen = c.Name, n
		}
	}
	return best
}
