// Package display carries setup progress from long-running work to
// whatever is watching it.
package display

// Task represents a unit of work that can be monitored.
type Task interface {
	// Log adds a log message associated with this task.
	Log(msg string)
	// SetStage updates the current stage of the task (e.g. "Download", "Extract")
	// and the target file/folder being worked on.
	SetStage(name string, target string)
	// Progress updates the completion fraction (0.0-1.0) and status message.
	Progress(fraction float64, message string)
	// Done marks the task as completed and removes it from the display.
	// It is the responsibility of the caller who created the task via StartTask.
	Done()
}

// Display handles the visualization of tasks and logs.
type Display interface {
	// StartTask creates and returns a new tracked Task.
	StartTask(name string) Task
	// Log adds a direct log message to the display.
	Log(msg string)
	// Print adds a primary output message (e.g. table, info) to the display.
	Print(msg string)
	// SetVerbose enables or disables verbose logging.
	SetVerbose(v bool)
	// Close cleans up any resources and ensures final output is rendered.
	Close()
}

// Clamp limits a progress fraction to [0,1].
func Clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

type nopTask struct{}

func (nopTask) Log(string)               {}
func (nopTask) SetStage(string, string)  {}
func (nopTask) Progress(float64, string) {}
func (nopTask) Done()                    {}

// Nop is a Task that discards everything.
var Nop Task = nopTask{}

// FuncTask adapts a progress callback to a Task. Log and SetStage are
// dropped; Done is a no-op.
type FuncTask func(fraction float64, message string)

func (f FuncTask) Log(string)              {}
func (f FuncTask) SetStage(string, string) {}
func (f FuncTask) Done()                   {}

func (f FuncTask) Progress(fraction float64, message string) {
	if f != nil {
		f(Clamp(fraction), message)
	}
}
