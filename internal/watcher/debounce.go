package watcher

import (
	"sync"
	"time"
)

// debouncer collects paths from event bursts and flushes the deduplicated
// set once no new event has arrived for the window.
type debouncer struct {
	window time.Duration
	flush  func([]string)

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, flush func([]string)) *debouncer {
	return &debouncer{
		window:  window,
		flush:   flush,
		pending: make(map[string]struct{}),
	}
}

// add records a path and (re)arms the settle timer.
func (d *debouncer) add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending[path] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()

	if len(d.pending) == 0 {
		d.mu.Unlock()

		return
	}

	batch := make([]string, 0, len(d.pending))
	for path := range d.pending {
		batch = append(batch, path)
	}

	d.pending = make(map[string]struct{})
	d.mu.Unlock()

	d.flush(batch)
}

// stop disarms the timer and drops pending paths.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = make(map[string]struct{})

	if d.timer != nil {
		d.timer.Stop()
	}
}
