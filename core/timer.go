package core

import "time"

// TimerFreq is the tick rate of GetTime: one tick per microsecond.
const TimerFreq = 1000000

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime pins the system time (tests and hardware bring-up)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// TimerFromDuration converts a duration to timer ticks, at least one
func TimerFromDuration(d time.Duration) uint32 {
	ticks := uint64(d) * TimerFreq / uint64(time.Second)
	if ticks == 0 {
		return 1
	}
	if ticks > 1<<31 {
		return 1 << 31
	}
	return uint32(ticks)
}

// timerBefore compares tick values across counter wrap
func timerBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ProcessTimers runs every timer that is due
func ProcessTimers() {
	now := GetTime()
	state := disableInterrupts()
	currentTime = now
	restoreInterrupts(state)
	TimerDispatch()
}
