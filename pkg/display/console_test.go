package display

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestConsoleDisplay(t *testing.T) {
	buf := &bytes.Buffer{}
	d := NewWriterDisplay(buf)
	d.SetVerbose(true)

	task := d.StartTask("TestTask")

	output := buf.String()
	if !strings.Contains(output, "[TestTask]") {
		t.Errorf("Expected output to contain task name, got: %q", output)
	}

	buf.Reset()
	task.SetStage("Download", "/tmp/file")
	task.Progress(0.5, "Working")
	// Output should contain move up + clear line + new status
	output = buf.String()
	if !strings.Contains(output, "\x1b[1A\x1b[2K") {
		t.Errorf("Expected ANSI clear codes, got: %q", output)
	}
	if !strings.Contains(output, "Download") {
		t.Errorf("Expected Download stage, got: %q", output)
	}
	if !strings.Contains(output, "50%") {
		t.Errorf("Expected 50%%, got: %q", output)
	}

	buf.Reset()
	task.Log("Hello")
	output = buf.String()
	if !strings.Contains(output, "Hello") {
		t.Errorf("Expected log message, got: %q", output)
	}
	if !strings.Contains(output, "50%") {
		t.Errorf("Expected task reprint, got: %q", output)
	}

	buf.Reset()
	task.Done()
	output = buf.String()
	if !strings.Contains(output, "Done") {
		t.Errorf("Expected Done message, got: %q", output)
	}

	d.Close()
}

func TestProgressClamped(t *testing.T) {
	buf := &bytes.Buffer{}
	d := NewWriterDisplay(buf)
	task := d.StartTask("x")
	task.Progress(3, "over")
	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("expected clamp to 100%%, got %q", buf.String())
	}
}

type recordTask struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordTask) Log(string)              {}
func (r *recordTask) SetStage(string, string) {}
func (r *recordTask) Done()                   {}
func (r *recordTask) Progress(_ float64, msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func TestDispatcherPreservesOrder(t *testing.T) {
	d := NewDispatcher()
	rec := &recordTask{}
	task := d.Task(rec)
	for _, m := range []string{"a", "b", "c", "d"} {
		task.Progress(0, m)
	}
	d.Close()

	if got := strings.Join(rec.msgs, ""); got != "abcd" {
		t.Errorf("got %q, want abcd", got)
	}

	// Posting after close is dropped, not a panic.
	task.Progress(0, "late")
	d.Close()
}

func TestDispatcherPostReportsQueued(t *testing.T) {
	d := NewDispatcher()
	ran := make(chan struct{})
	if !d.Post(func() { close(ran) }) {
		t.Fatal("open dispatcher refused a callback")
	}
	<-ran
	d.Close()
	if d.Post(func() { t.Error("callback ran after Close") }) {
		t.Error("closed dispatcher reported the callback queued")
	}
}

func TestFuncTask(t *testing.T) {
	var got float64
	FuncTask(func(f float64, _ string) { got = f }).Progress(-1, "")
	if got != 0 {
		t.Errorf("expected clamp to 0, got %v", got)
	}
}
