package core

// Timer is a scheduled callback, kept in a list sorted by WakeTime
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

// Handler results
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// ScheduleTimer adds t to the schedule. t must not already be scheduled.
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	insertTimer(t)
}

// DelTimer removes t from the schedule if present
func DelTimer(t *Timer) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for p := &timerList; *p != nil; p = &(*p).Next {
		if *p == t {
			*p = t.Next
			t.Next = nil
			return true
		}
	}
	return false
}

// insertTimer inserts a timer in sorted order by WakeTime; interrupts must be off
func insertTimer(t *Timer) {
	if timerList == nil || timerBefore(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && !timerBefore(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// TimerDispatch runs due timers. Handlers run with interrupts enabled so they
// may take locks or schedule other timers.
func TimerDispatch() {
	for {
		state := disableInterrupts()
		timer := timerList
		if timer == nil || timerBefore(currentTime, timer.WakeTime) {
			restoreInterrupts(state)
			return
		}
		timerList = timer.Next
		timer.Next = nil
		restoreInterrupts(state)

		if timer.Handler(timer) == SF_RESCHEDULE {
			state = disableInterrupts()
			insertTimer(timer)
			restoreInterrupts(state)
		}
	}
}

// ResetTimers drops every scheduled timer
func ResetTimers() {
	state := disableInterrupts()
	timerList = nil
	restoreInterrupts(state)
}
