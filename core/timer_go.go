//go:build !tinygo

package core

import (
	"sync/atomic"
	"time"
)

var (
	clockStart  = time.Now()
	manualClock atomic.Bool
	manualTicks atomic.Uint32
)

// getSystemTicks follows the monotonic clock until SetTime pins it
func getSystemTicks() uint32 {
	if manualClock.Load() {
		return manualTicks.Load()
	}
	return uint32(time.Since(clockStart) / (time.Second / TimerFreq))
}

// setSystemTicks switches to a manual clock so tests can step time
func setSystemTicks(ticks uint32) {
	manualTicks.Store(ticks)
	manualClock.Store(true)
}
