// Package executor runs sandbox invocations to completion, streaming their
// output line by line and enforcing a wall-clock timeout.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"linuxenv/pkg/common"
	"linuxenv/pkg/sandbox"
)

const (
	maxLine = 1 << 20
	// drainGrace bounds how long readers get after a kill.
	drainGrace = time.Second
)

// Sink receives each output line as it is read. It is called from the
// reader goroutines and must not block for long.
type Sink func(common.OutputLine)

// Executor runs one-shot commands.
type Executor struct {
	tracker *Tracker
}

// New returns an Executor recording running processes in tracker, which
// may be nil.
func New(tracker *Tracker) *Executor {
	if tracker == nil {
		tracker = &Tracker{}
	}
	return &Executor{tracker: tracker}
}

// Tracker returns the tracker this executor reports to.
func (e *Executor) Tracker() *Tracker { return e.tracker }

// Run executes inv and waits at most timeout. Failures never surface as
// errors: spawn problems, timeouts and cancellation all come back as a
// CommandResult with ExitCode -1.
func (e *Executor) Run(ctx context.Context, inv sandbox.Invocation, timeout time.Duration, sink Sink) common.CommandResult {
	cmd := inv.Cmd()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return common.Failed("Process error: " + err.Error())
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return common.Failed("Process error: " + err.Error())
	}
	if err := cmd.Start(); err != nil {
		return common.Failed("Process error: " + err.Error())
	}
	pid := cmd.Process.Pid
	e.tracker.set(pid)
	defer e.tracker.clear(pid)
	slog.Debug("Process started", "pid", pid, "shell", inv.ShellPath)

	var outBuf, errBuf strings.Builder
	var g errgroup.Group
	g.Go(func() error { return drain(stdout, &outBuf, common.Stdout, sink) })
	g.Go(func() error { return drain(stderr, &errBuf, common.Stderr, sink) })

	readersDone := make(chan struct{})
	go func() {
		if err := g.Wait(); err != nil {
			slog.Debug("Output reader stopped", "pid", pid, "error", err)
		}
		close(readersDone)
	}()

	var state *os.ProcessState
	exited := make(chan struct{})
	go func() {
		state, _ = cmd.Process.Wait()
		close(exited)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var reason string
	select {
	case <-exited:
		settle(pid, readersDone, stdout, stderr)
		res := common.CommandResult{Stdout: outBuf.String(), Stderr: errBuf.String(), ExitCode: -1}
		if state != nil {
			res.ExitCode = state.ExitCode()
		}
		slog.Debug("Process exited", "pid", pid, "code", res.ExitCode)
		return res
	case <-timer.C:
		reason = fmt.Sprintf("Timed out after %dms", timeout.Milliseconds())
	case <-ctx.Done():
		reason = "Cancelled"
	}

	killGroup(pid)
	<-exited
	settle(pid, readersDone, stdout, stderr)

	slog.Debug("Process killed", "pid", pid, "reason", reason)
	msg := errBuf.String()
	if msg != "" && !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	return common.CommandResult{Stdout: outBuf.String(), Stderr: msg + reason, ExitCode: -1}
}

// drain copies r into buf one line at a time, newline terminated, and
// forwards each line to sink.
func drain(r io.Reader, buf *strings.Builder, stream common.Stream, sink Sink) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if sink != nil {
			sink(common.OutputLine{Text: line, Stream: stream})
		}
	}
	return sc.Err()
}

// settle gives the readers drainGrace to reach EOF. A descendant that
// escaped the group can hold the pipes open, so after that the group is
// killed and our read ends are closed under the readers.
func settle(pid int, readersDone <-chan struct{}, pipes ...io.Closer) {
	select {
	case <-readersDone:
		return
	case <-time.After(drainGrace):
	}
	killGroup(pid)
	for _, p := range pipes {
		p.Close()
	}
	<-readersDone
}

func killGroup(pid int) {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		// Not a group leader after all; kill the process itself.
		_ = unix.Kill(pid, unix.SIGKILL)
	}
}

// Tracker remembers the most recently started process so it can be killed
// from outside the goroutine that runs it.
type Tracker struct {
	mu  sync.Mutex
	pid int
}

func (t *Tracker) set(pid int) {
	t.mu.Lock()
	t.pid = pid
	t.mu.Unlock()
}

// clear forgets pid if it is still the current process.
func (t *Tracker) clear(pid int) {
	t.mu.Lock()
	if t.pid == pid {
		t.pid = 0
	}
	t.mu.Unlock()
}

// Current returns the PID of the running process, or 0.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pid
}

// KillCurrent kills the current process group. It reports whether there
// was one.
func (t *Tracker) KillCurrent() bool {
	t.mu.Lock()
	pid := t.pid
	t.mu.Unlock()
	if pid == 0 {
		return false
	}
	killGroup(pid)
	return true
}
