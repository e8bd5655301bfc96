//go:build !tinygo

package core

import "sync"

// State is the token returned by disableInterrupts.
type State uintptr

// irqMu stands in for the interrupt mask on regular Go, where goroutines
// play the part of interrupt handlers. Sections must not nest.
var irqMu sync.Mutex

// disableInterrupts enters the process-wide critical section.
func disableInterrupts() State {
	irqMu.Lock()
	return 0
}

// restoreInterrupts leaves the critical section.
func restoreInterrupts(state State) {
	irqMu.Unlock()
}
