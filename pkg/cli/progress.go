package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"linuxenv/pkg/display"
)

const (
	barPadding  = 2
	barMaxWidth = 60
)

type progressMsg struct {
	fraction float64
	message  string
}

type logMsg string

type quitMsg struct{}

// setupModel draws one progress bar with the latest status line under it.
type setupModel struct {
	title       string
	bar         progress.Model
	fraction    float64
	message     string
	stopping    bool
	onInterrupt func()
	theme       *Theme
}

func newSetupModel(title string, theme *Theme, onInterrupt func()) setupModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = barMaxWidth
	return setupModel{title: title, bar: bar, onInterrupt: onInterrupt, theme: theme}
}

func (m setupModel) Init() tea.Cmd { return nil }

func (m setupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC && !m.stopping {
			m.stopping = true
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-barPadding*2, barMaxWidth), 10)
	case progressMsg:
		m.fraction = display.Clamp(msg.fraction)
		m.message = msg.message
	case logMsg:
		return m, tea.Println(string(msg))
	case quitMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m setupModel) View() string {
	pad := strings.Repeat(" ", barPadding)
	status := m.message
	if m.stopping {
		status = m.theme.Styled(m.theme.Yellow, "stopping…")
	}
	return fmt.Sprintf("%s%s\n%s%s\n%s%s\n",
		pad, m.theme.Styled(m.theme.Bold, m.title),
		pad, m.bar.ViewAs(m.fraction),
		pad, m.theme.Styled(m.theme.Dim, status))
}

// teaDisplay is a display.Display backed by a running bubbletea program.
type teaDisplay struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	verbose bool
}

func newTeaDisplay(w io.Writer, title string, theme *Theme, onInterrupt func()) *teaDisplay {
	d := &teaDisplay{done: make(chan struct{})}
	d.program = tea.NewProgram(newSetupModel(title, theme, onInterrupt),
		tea.WithOutput(w),
		tea.WithoutSignalHandler())
	go func() {
		defer close(d.done)
		if _, err := d.program.Run(); err != nil {
			fmt.Fprintf(w, "progress display: %v\n", err)
		}
	}()
	return d
}

func (d *teaDisplay) StartTask(string) display.Task { return teaTask{d} }

func (d *teaDisplay) Log(msg string) {
	d.mu.Lock()
	verbose := d.verbose
	d.mu.Unlock()
	if verbose {
		d.program.Send(logMsg(msg))
	}
}

func (d *teaDisplay) Print(msg string) { d.program.Send(logMsg(strings.TrimRight(msg, "\n"))) }

func (d *teaDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	d.verbose = v
	d.mu.Unlock()
}

// Close stops the program and waits until the terminal is restored.
func (d *teaDisplay) Close() {
	d.once.Do(func() {
		d.program.Send(quitMsg{})
		<-d.done
	})
}

type teaTask struct{ d *teaDisplay }

func (t teaTask) Log(msg string)          { t.d.Log(msg) }
func (t teaTask) SetStage(string, string) {}
func (t teaTask) Done()                   {}

func (t teaTask) Progress(fraction float64, message string) {
	t.d.program.Send(progressMsg{fraction: fraction, message: message})
}

// lineDisplay prints one line per status change. It is used when the
// output is not a terminal.
type lineDisplay struct {
	mu       sync.Mutex
	w        io.Writer
	lastKey  string
	lastStep int
	verbose  bool
}

func newLineDisplay(w io.Writer) *lineDisplay { return &lineDisplay{w: w} }

func (d *lineDisplay) StartTask(name string) display.Task { return lineTask{d: d, name: name} }

func (d *lineDisplay) Log(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.verbose {
		fmt.Fprintln(d.w, msg)
	}
}

func (d *lineDisplay) Print(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.w, msg)
}

func (d *lineDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	d.verbose = v
	d.mu.Unlock()
}

func (d *lineDisplay) Close() {}

type lineTask struct {
	d    *lineDisplay
	name string
}

func (t lineTask) Log(msg string)          { t.d.Log(fmt.Sprintf("[%s] %s", t.name, msg)) }
func (t lineTask) SetStage(string, string) {}
func (t lineTask) Done()                   {}

// Progress prints when the message changes shape or the fraction crosses
// a five percent step, so byte counters do not flood the output.
func (t lineTask) Progress(fraction float64, message string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	pct := int(display.Clamp(fraction)*100 + 0.5)
	key := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return -1
		}
		return r
	}, message)
	if key == t.d.lastKey && pct/5 == t.d.lastStep {
		return
	}
	t.d.lastKey, t.d.lastStep = key, pct/5
	fmt.Fprintf(t.d.w, "[%s] %3d%% %s\n", t.name, pct, message)
}
