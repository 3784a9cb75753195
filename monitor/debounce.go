package monitor

import (
	"sync"
	"time"
)

// DefaultWindow is the trailing-edge debounce window for change signals.
const DefaultWindow = 500 * time.Millisecond

// DebounceRegistry coalesces bursts of triggers per key: each new trigger
// for a pending key restarts its timer, so only the trailing edge fires.
// All timer state lives inside the registry; Dispose cancels everything and
// guarantees no callback runs afterwards.
type DebounceRegistry struct {
	window time.Duration

	mu       sync.Mutex
	timers   map[string]*time.Timer
	disposed bool
}

// NewDebounceRegistry creates a registry with the given window; zero or
// negative means DefaultWindow.
func NewDebounceRegistry(window time.Duration) *DebounceRegistry {
	if window <= 0 {
		window = DefaultWindow
	}
	return &DebounceRegistry{
		window: window,
		timers: make(map[string]*time.Timer),
	}
}

// Trigger schedules fn to run after the window, replacing any pending run
// for the same key. fn executes on a timer goroutine.
func (r *DebounceRegistry) Trigger(key string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	if t, ok := r.timers[key]; ok {
		t.Stop()
	}
	r.timers[key] = time.AfterFunc(r.window, func() {
		r.mu.Lock()
		if r.disposed {
			r.mu.Unlock()
			return
		}
		delete(r.timers, key)
		r.mu.Unlock()
		fn()
	})
}

// Cancel drops a pending key without firing it.
func (r *DebounceRegistry) Cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[key]; ok {
		t.Stop()
		delete(r.timers, key)
	}
}

// Pending reports the number of keys awaiting their trailing edge.
func (r *DebounceRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Dispose cancels every pending timer. The registry is unusable afterwards;
// no callback fires once Dispose returns.
func (r *DebounceRegistry) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
}
