package patchbay

import (
	"errors"
	"log"
	"sync"

	"github.com/gordonklaus/portaudio"

	"patchbay/internal/sched"
)

// serviceWorkers is the size of the shared worker pool.
const serviceWorkers = 2

var service struct {
	mu      sync.Mutex
	runner  *sched.Runner
	started bool
	paReady bool
}

// ErrServiceStopped is returned by stream constructors called outside a
// StartService/StopService bracket.
var ErrServiceStopped = errors.New("patchbay: service not started")

// StartService initializes the host audio library and launches the shared
// worker pool. It must precede any stream construction. Safe to call twice;
// the second call is a no-op.
//
// A host audio failure is not fatal: file, pipe and network paths keep
// working, only physical devices will refuse to open.
func StartService() {
	service.mu.Lock()
	defer service.mu.Unlock()
	if service.started {
		return
	}
	if err := portaudio.Initialize(); err != nil {
		log.Printf("[service] portaudio init: %v", err)
	} else {
		service.paReady = true
	}
	service.runner = sched.New(serviceWorkers)
	service.started = true
	log.Printf("[service] started")
}

// StopService cancels all pending timers, joins the workers and terminates
// the host audio library. Every stream must be stopped before this is
// called; the runner outlives all streams.
func StopService() {
	service.mu.Lock()
	defer service.mu.Unlock()
	if !service.started {
		return
	}
	service.runner.Stop()
	if service.paReady {
		if err := portaudio.Terminate(); err != nil {
			log.Printf("[service] portaudio terminate: %v", err)
		}
		service.paReady = false
	}
	service.started = false
	log.Printf("[service] stopped")
}

// currentRunner hands streams the shared runner, or an error outside the
// service bracket.
func currentRunner() (*sched.Runner, error) {
	service.mu.Lock()
	defer service.mu.Unlock()
	if !service.started {
		return nil, ErrServiceStopped
	}
	return service.runner, nil
}
