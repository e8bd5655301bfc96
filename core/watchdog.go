package core

import "sync/atomic"

// Watchdog is a software countdown fed by a periodic loop and checked by
// an independent one. A zero reload disables it.
type Watchdog struct {
	reload  uint32
	current atomic.Uint32
	enabled atomic.Bool
}

// NewWatchdog builds a disabled watchdog that expires after reload checks
// without a feed.
func NewWatchdog(reload uint32) *Watchdog {
	w := &Watchdog{reload: reload}
	w.current.Store(reload)
	return w
}

// Enable arms the watchdog with a full countdown.
func (w *Watchdog) Enable() {
	w.current.Store(w.reload)
	w.enabled.Store(true)
}

// Disable stops expiry checks.
func (w *Watchdog) Disable() {
	w.enabled.Store(false)
}

// Enabled reports whether checks can expire.
func (w *Watchdog) Enabled() bool {
	return w.enabled.Load()
}

// Feed restarts the countdown.
func (w *Watchdog) Feed() {
	w.current.Store(w.reload)
}

// Check counts down once and reports false once the count is exhausted.
func (w *Watchdog) Check() bool {
	if !w.enabled.Load() || w.reload == 0 {
		return true
	}
	for {
		n := w.current.Load()
		if n == 0 {
			return false
		}
		if w.current.CompareAndSwap(n, n-1) {
			return true
		}
	}
}
