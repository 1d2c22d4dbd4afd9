package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// consoleDisplay renders tasks as a single status line each, redrawn in
// place with ANSI cursor movement.
type consoleDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	tasks   []*consoleTask
}

// NewConsole creates a Display that writes to standard error.
func NewConsole() Display {
	return &consoleDisplay{
		out: os.Stderr,
	}
}

// NewWriterDisplay creates a Display that writes to the provided io.Writer.
func NewWriterDisplay(w io.Writer) Display {
	return &consoleDisplay{
		out: w,
	}
}

func (d *consoleDisplay) StartTask(name string) Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &consoleTask{d: d, name: name}
	d.tasks = append(d.tasks, t)
	fmt.Fprintln(d.out, t.line())
	return t
}

func (d *consoleDisplay) Log(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.printAbove(msg)
}

// Print writes a message directly to the output writer.
func (d *consoleDisplay) Print(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.out, msg)
}

func (d *consoleDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	d.verbose = v
	d.mu.Unlock()
}

func (d *consoleDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = nil
}

// clear erases the task lines currently on screen.
func (d *consoleDisplay) clear() {
	fmt.Fprint(d.out, strings.Repeat("\x1b[1A\x1b[2K", len(d.tasks)))
}

func (d *consoleDisplay) redraw() {
	for _, t := range d.tasks {
		fmt.Fprintln(d.out, t.line())
	}
}

func (d *consoleDisplay) printAbove(msg string) {
	d.clear()
	fmt.Fprintln(d.out, msg)
	d.redraw()
}

func (d *consoleDisplay) remove(t *consoleTask) {
	d.clear()
	for i, x := range d.tasks {
		if x == t {
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			break
		}
	}
	fmt.Fprintf(d.out, "[%s] Done\n", t.name)
	d.redraw()
}

type consoleTask struct {
	d        *consoleDisplay
	name     string
	stage    string
	target   string
	fraction float64
	message  string
}

func (t *consoleTask) line() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]", t.name)
	if t.stage != "" {
		fmt.Fprintf(&sb, " %s", t.stage)
	}
	if t.target != "" {
		fmt.Fprintf(&sb, " %s", t.target)
	}
	fmt.Fprintf(&sb, " %3d%%", int(t.fraction*100+0.5))
	if t.message != "" {
		fmt.Fprintf(&sb, " %s", t.message)
	}
	return sb.String()
}

func (t *consoleTask) Log(msg string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if !t.d.verbose {
		return
	}
	t.d.printAbove(fmt.Sprintf("[%s] %s", t.name, msg))
}

func (t *consoleTask) SetStage(name, target string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.stage, t.target = name, target
	t.d.clear()
	t.d.redraw()
}

func (t *consoleTask) Progress(fraction float64, message string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.fraction, t.message = Clamp(fraction), message
	t.d.clear()
	t.d.redraw()
}

func (t *consoleTask) Done() {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.d.remove(t)
}
