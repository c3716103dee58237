// Package sched provides the process-wide shared runtime: a small pool of
// worker goroutines draining a task queue, plus self-rescheduling periodic
// timers that clock file-backed devices and user taps.
//
// Device goroutines (portaudio callbacks) never run work here directly; they
// only hand off. Everything that may block — file reads, user callbacks,
// socket setup — executes on the workers.
package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// queueDepth bounds the task queue. Posts beyond it are dropped rather than
// blocking the caller; audio paths must not stall on a slow worker.
const queueDepth = 256

// Runner is a fixed pool of workers executing posted tasks and timer bodies.
type Runner struct {
	tasks   chan func()
	quit    chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
	dropped atomic.Uint64

	timerMu sync.Mutex
	timers  map[*Timer]struct{}
}

// New starts a Runner with the given worker count (minimum 2).
func New(workers int) *Runner {
	if workers < 2 {
		workers = 2
	}
	r := &Runner{
		tasks:  make(chan func(), queueDepth),
		quit:   make(chan struct{}),
		timers: make(map[*Timer]struct{}),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer r.wg.Done()
			for {
				select {
				case f := <-r.tasks:
					f()
				case <-r.quit:
					return
				}
			}
		}()
	}
	return r
}

// Post queues f for execution on a worker and reports whether it was
// accepted. Never blocks: when the queue is full the task is dropped and
// counted.
func (r *Runner) Post(f func()) bool {
	if r.stopped.Load() {
		return false
	}
	select {
	case r.tasks <- f:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Dropped returns and resets the count of tasks discarded on a full queue.
func (r *Runner) Dropped() uint64 {
	return r.dropped.Swap(0)
}

// Stop cancels all timers, stops the workers and waits for them to exit.
// A worker may still run a queued task before it sees the stop signal;
// tasks left in the queue once all workers have exited are discarded.
func (r *Runner) Stop() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	r.timerMu.Lock()
	for t := range r.timers {
		t.cancel()
	}
	r.timers = map[*Timer]struct{}{}
	r.timerMu.Unlock()

	close(r.quit)
	r.wg.Wait()
}

// Timer is a periodic task produced by Every. The body runs on a worker at a
// fixed cadence until it returns false or Cancel is called.
type Timer struct {
	r         *Runner
	interval  time.Duration
	body      func() bool
	next      time.Time
	t         *time.Timer
	busy      atomic.Bool
	cancelled atomic.Bool
}

// Every schedules body to run every interval, starting one interval from
// now. Expiry times advance by the interval, not by when the body finished,
// so the cadence does not drift with execution time. A body still running
// when the next expiry fires loses that slot.
func (r *Runner) Every(interval time.Duration, body func() bool) *Timer {
	t := &Timer{r: r, interval: interval, body: body}
	if r.stopped.Load() {
		t.cancelled.Store(true)
		return t
	}
	t.next = time.Now().Add(interval)
	t.t = time.AfterFunc(interval, t.fire)

	r.timerMu.Lock()
	r.timers[t] = struct{}{}
	r.timerMu.Unlock()
	return t
}

// fire re-arms first so cadence never depends on the body's run time, then
// hands the body to a worker.
func (t *Timer) fire() {
	if t.cancelled.Load() || t.r.stopped.Load() {
		return
	}
	t.next = t.next.Add(t.interval)
	d := time.Until(t.next)
	if d < 0 {
		d = 0
	}
	t.t.Reset(d)

	if !t.busy.CompareAndSwap(false, true) {
		return
	}
	posted := t.r.Post(func() {
		defer t.busy.Store(false)
		if t.cancelled.Load() {
			return
		}
		if !t.body() {
			t.Cancel()
		}
	})
	if !posted {
		t.busy.Store(false)
	}
}

// Cancel stops the timer. The body never runs again after Cancel returns,
// except for an invocation already in flight.
func (t *Timer) Cancel() {
	t.cancel()
	t.r.timerMu.Lock()
	delete(t.r.timers, t)
	t.r.timerMu.Unlock()
}

func (t *Timer) cancel() {
	if !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	if t.t != nil {
		t.t.Stop()
	}
}
