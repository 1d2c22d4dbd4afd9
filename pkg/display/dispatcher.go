package display

import "sync"

// Dispatcher runs callbacks one at a time on a single goroutine, in the
// order they were posted. Posting never blocks on the callback itself.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewDispatcher starts the delivery goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.loop()
	return d
}

// Post queues fn and reports whether it did. After Close fn is dropped
// and Post returns false.
func (d *Dispatcher) Post(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.mu.Unlock()
	return true
}

// Close drains what is queued and stops the goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.wake)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for range d.wake {
		d.drain()
	}
	d.drain()
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
	}
}

// Task wraps inner so every call is delivered through the dispatcher.
func (d *Dispatcher) Task(inner Task) Task {
	return &dispatchedTask{d: d, inner: inner}
}

type dispatchedTask struct {
	d     *Dispatcher
	inner Task
}

func (t *dispatchedTask) Log(msg string) {
	t.d.Post(func() { t.inner.Log(msg) })
}

func (t *dispatchedTask) SetStage(name, target string) {
	t.d.Post(func() { t.inner.SetStage(name, target) })
}

func (t *dispatchedTask) Progress(fraction float64, message string) {
	t.d.Post(func() { t.inner.Progress(fraction, message) })
}

func (t *dispatchedTask) Done() {
	t.d.Post(t.inner.Done)
}
