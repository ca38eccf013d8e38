// Package corectx wires the certifier, consistency coordinator,
// hold-transactions gate, member-actions store, GCS adapter, view
// plumbing, and observer surface into one lifecycle: the per-member
// CoreContext a plugin's init/deinit functions create and tear down.
//
// Grounded on the teacher's cluster bootstrap (src/cluster/cluster.go):
// a single struct that owns every subsystem's handle and is the one
// thing the outer server process constructs and shuts down, plus the
// teacher's cooperative-cancellation idiom generalized here into Worker,
// a small dedicated-thread task queue standing in for "threaded dispatch
// into a blocking server API" (§9 design notes): a submitted task runs
// on the worker's own goroutine and the submitter can wait on it with a
// deadline. CoreContext starts one Worker and stops it in Finalize; none
// of the core's own components submit tasks to it.
package corectx

import (
	"fmt"
	"sync"
	"time"
)

// task is one unit of work submitted to a Worker, paired with a channel
// closed once fn has run so callers can wait on it with a deadline.
type task struct {
	fn   func()
	done chan struct{}
}

// Handle lets a submitter wait for its task to finish without blocking
// the Worker's own goroutine.
type Handle struct {
	done chan struct{}
}

// Wait blocks until the task completes or timeout elapses, reporting
// which happened first.
func (h *Handle) Wait(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Worker is a single dedicated goroutine draining a bounded task queue,
// the abortable-queue half of the design note: Submit never blocks
// indefinitely once the queue is full, and Stop drains nothing further,
// cooperatively cancelling exactly like broadcast.Ticker's quit channel.
type Worker struct {
	tasks chan task
	quit  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewWorker returns a worker with the given task queue depth.
func NewWorker(queueDepth int) *Worker {
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Worker{
		tasks: make(chan task, queueDepth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run drains the task queue until Stop is called. Intended to be
// launched as `go worker.Run()`.
func (w *Worker) Run() {
	defer close(w.done)
	for {
		select {
		case t := <-w.tasks:
			t.fn()
			close(t.done)
		case <-w.quit:
			return
		}
	}
}

// Submit enqueues fn for the worker goroutine to run, returning a Handle
// the caller can Wait on. It fails fast (rather than blocking forever)
// once the worker has been stopped or its queue is full.
func (w *Worker) Submit(fn func()) (*Handle, error) {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return nil, fmt.Errorf("corectx: worker stopped")
	}

	t := task{fn: fn, done: make(chan struct{})}
	select {
	case w.tasks <- t:
		return &Handle{done: t.done}, nil
	default:
		return nil, fmt.Errorf("corectx: worker queue full")
	}
}

// Stop cooperatively cancels the worker: queued-but-undrained tasks are
// abandoned, matching the "abortable queue" half of the design note —
// shutdown must not wait out a backlog of session work.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	close(w.quit)
	<-w.done
}
