//go:build rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"linewatch/core"
)

// RP2350 TIMER0. The RP2040 timer sits at 0x40054000 instead.
//
//	timeRawH @ 0x24  raw read of the upper 32 bits
//	timeRawL @ 0x28  raw read of the lower 32 bits
const (
	timerBase     = 0x400B0000
	timerTimeRawH = timerBase + 0x24
	timerTimeRawL = timerBase + 0x28
)

var (
	timerRawH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTimeRawH)))
	timerRawL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTimeRawL)))
)

// InitClock discards the first timer reads after the runtime starts the
// tick generators.
func InitClock() {
	_ = timerRawL.Get()
	_ = timerRawL.Get()
	_ = timerRawL.Get()
}

// GetHardwareTime returns the low 32 bits of the 1MHz timer.
func GetHardwareTime() uint32 {
	return timerRawL.Get()
}

// GetHardwareUptime reads the full 64-bit timer.
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRawH.Get()
		low := timerRawL.Get()
		high2 := timerRawH.Get()
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}

// UpdateSystemTime pins core time to the hardware timer.
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
