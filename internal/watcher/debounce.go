package watcher

import (
	"sync"
	"time"
)

// Debouncer collapses bursts of signals per key. Each Trigger restarts the
// key's timer; fn runs only once the key has been quiet for the full delay.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// NewDebouncer returns a Debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay, pending: make(map[string]*time.Timer)}
}

// Trigger schedules fn for key, replacing any pending call for the same key.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.pending[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A newer Trigger may have replaced this timer after it fired.
		if cur, ok := d.pending[key]; !ok || cur != t || d.stopped {
			d.mu.Unlock()
			return
		}
		delete(d.pending, key)
		d.mu.Unlock()
		fn()
	})
	d.pending[key] = t
}

// Pending returns the number of keys waiting to fire.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending call without running it. Later Triggers are
// ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, t := range d.pending {
		t.Stop()
		delete(d.pending, key)
	}
}
