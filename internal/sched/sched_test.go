package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPostExecutes(t *testing.T) {
	r := New(2)
	defer r.Stop()

	done := make(chan struct{})
	if !r.Post(func() { close(done) }) {
		t.Fatal("Post rejected")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("posted task never ran")
	}
}

func TestPostAfterStopRejected(t *testing.T) {
	r := New(2)
	r.Stop()
	if r.Post(func() {}) {
		t.Error("Post accepted after Stop")
	}
}

func TestEveryFiresRepeatedly(t *testing.T) {
	r := New(2)
	defer r.Stop()

	var fired atomic.Int32
	timer := r.Every(10*time.Millisecond, func() bool {
		fired.Add(1)
		return true
	})
	defer timer.Cancel()

	deadline := time.After(2 * time.Second)
	for fired.Load() < 5 {
		select {
		case <-deadline:
			t.Fatalf("only %d firings in 2s", fired.Load())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestEveryStopsOnFalse(t *testing.T) {
	r := New(2)
	defer r.Stop()

	var fired atomic.Int32
	r.Every(5*time.Millisecond, func() bool {
		return fired.Add(1) < 3
	})

	time.Sleep(200 * time.Millisecond)
	if got := fired.Load(); got != 3 {
		t.Errorf("fired %d times, want exactly 3", got)
	}
}

func TestCancelStopsTimer(t *testing.T) {
	r := New(2)
	defer r.Stop()

	var fired atomic.Int32
	timer := r.Every(5*time.Millisecond, func() bool {
		fired.Add(1)
		return true
	})

	time.Sleep(40 * time.Millisecond)
	timer.Cancel()
	after := fired.Load()
	time.Sleep(50 * time.Millisecond)
	// One in-flight invocation may still land; more means Cancel failed.
	if got := fired.Load(); got > after+1 {
		t.Errorf("timer kept firing after Cancel: %d -> %d", after, got)
	}
}

func TestStopCancelsTimers(t *testing.T) {
	r := New(2)
	var fired atomic.Int32
	r.Every(5*time.Millisecond, func() bool {
		fired.Add(1)
		return true
	})
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	after := fired.Load()
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got > after {
		t.Errorf("timer fired after Stop: %d -> %d", after, got)
	}
}

func TestEveryBodyDoesNotOverlap(t *testing.T) {
	r := New(4)
	defer r.Stop()

	var inBody atomic.Int32
	var overlapped atomic.Bool
	timer := r.Every(5*time.Millisecond, func() bool {
		if inBody.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(20 * time.Millisecond) // slower than the interval
		inBody.Add(-1)
		return true
	})
	defer timer.Cancel()

	time.Sleep(150 * time.Millisecond)
	if overlapped.Load() {
		t.Error("timer body ran concurrently with itself")
	}
}
