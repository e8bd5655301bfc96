//go:build tinygo

package core

import (
	"sync/atomic"
	"time"
)

var (
	clockStart  = time.Now()
	clockOffset uint32
)

// getSystemTicks derives ticks from the runtime's monotonic SysTick clock
func getSystemTicks() uint32 {
	return uint32(time.Since(clockStart)/time.Microsecond) + atomic.LoadUint32(&clockOffset)
}

// setSystemTicks shifts the clock so that it reads ticks now
func setSystemTicks(ticks uint32) {
	raw := uint32(time.Since(clockStart) / time.Microsecond)
	atomic.StoreUint32(&clockOffset, ticks-raw)
}
