package core

import (
	"testing"
	"time"
)

func TestTimerOrdering(t *testing.T) {
	ResetTimers()
	defer ResetTimers()

	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}}
	}
	ScheduleTimer(mk(3, 300))
	ScheduleTimer(mk(1, 100))
	ScheduleTimer(mk(2, 200))
	late := mk(4, 400)
	ScheduleTimer(late)

	SetTime(250)
	ProcessTimers()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}

	if !DelTimer(late) {
		t.Error("DelTimer did not find a scheduled timer")
	}
	if DelTimer(late) {
		t.Error("DelTimer removed a timer twice")
	}

	SetTime(1000)
	ProcessTimers()
	if len(order) != 3 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestTimerReschedule(t *testing.T) {
	ResetTimers()
	defer ResetTimers()

	runs := 0
	tm := &Timer{WakeTime: 10, Handler: func(t *Timer) uint8 {
		runs++
		t.WakeTime += 10
		if runs == 3 {
			return SF_DONE
		}
		return SF_RESCHEDULE
	}}
	ScheduleTimer(tm)

	SetTime(100)
	ProcessTimers()
	if runs != 3 {
		t.Errorf("runs = %d, want 3", runs)
	}
}

func TestTimerAcrossWrap(t *testing.T) {
	ResetTimers()
	defer ResetTimers()

	var order []int
	before := &Timer{WakeTime: 0xFFFFFFF0, Handler: func(*Timer) uint8 {
		order = append(order, 1)
		return SF_DONE
	}}
	after := &Timer{WakeTime: 0x10, Handler: func(*Timer) uint8 {
		order = append(order, 2)
		return SF_DONE
	}}
	ScheduleTimer(after)
	ScheduleTimer(before)

	SetTime(0xFFFFFFF8)
	ProcessTimers()
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("order = %v, want [1]", order)
	}
	SetTime(0x20)
	ProcessTimers()
	if len(order) != 2 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}

func TestTimerConversions(t *testing.T) {
	if TimerFromDuration(250*time.Microsecond) != 250 {
		t.Error("1MHz tick conversion")
	}
	if TimerFromDuration(0) != 1 {
		t.Error("zero duration must round up to one tick")
	}
	if !timerBefore(0xFFFFFFFF, 1) || timerBefore(1, 0xFFFFFFFF) {
		t.Error("timerBefore across wrap")
	}
}
