package core

import (
	"context"
	"testing"
	"time"
)

func newPolledTask(t *testing.T, drv *fakeDriver, capacity int) (*Table, *DebounceTask) {
	t.Helper()
	table, err := NewTable(StrategyPolled, drv, make([]Slot[Subscription], capacity))
	if err != nil {
		t.Fatal(err)
	}
	task, err := NewDebounceTask(table, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	return table, task
}

func TestDebounceTaskEndToEnd(t *testing.T) {
	drv := newFakeDriver()
	table, task := newPolledTask(t, drv, 4)
	line := Line{Port: 1, Pin: 3}

	calls := 0
	if err := table.Subscribe(line, PullUp, func(ctx any) { calls += ctx.(int) }, 1); err != nil {
		t.Fatal(err)
	}
	if cfg, _ := drv.config(line); cfg.mode != ModeInput {
		t.Errorf("polled line configured as %v", cfg.mode)
	}

	drv.set(line, true)
	for i := 0; i < DebounceWindow-1; i++ {
		task.Poll()
	}
	if calls != 0 || task.IsAsserted(line) {
		t.Fatalf("edge after %d samples", DebounceWindow-1)
	}

	if n := task.Poll(); n != 1 || calls != 1 {
		t.Fatalf("Poll fired %d, calls=%d, want 1 1", n, calls)
	}
	if !task.IsAsserted(line) {
		t.Error("IsAsserted false after the edge")
	}

	drv.set(line, false)
	task.Poll()
	if task.IsDeasserted(line) || !task.State(line) {
		t.Error("single low sample deasserted the line")
	}
	for i := 0; i < DebounceWindow-1; i++ {
		task.Poll()
	}
	if !task.IsDeasserted(line) || task.State(line) {
		t.Error("no deassert after a full low window")
	}
	if calls != 1 || task.IsAsserted(line) {
		t.Errorf("asserted edge refired: calls=%d", calls)
	}
	if task.Polls() != 2*DebounceWindow {
		t.Errorf("Polls = %d", task.Polls())
	}
}

func TestDebounceTaskUnsubscribeResetsLine(t *testing.T) {
	drv := newFakeDriver()
	table, task := newPolledTask(t, drv, 2)
	line := Line{Port: 0, Pin: 4}
	drv.set(line, true)

	calls := 0
	cb := func(any) { calls++ }
	table.Subscribe(line, PullNone, cb, nil)
	for i := 0; i < DebounceWindow; i++ {
		task.Poll()
	}
	table.Unsubscribe(line)
	table.Subscribe(line, PullNone, cb, nil)

	task.Poll()
	if calls != 1 {
		t.Errorf("re-subscribed line fired without a fresh window: calls=%d", calls)
	}
	for i := 0; i < DebounceWindow-1; i++ {
		task.Poll()
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDebounceTaskCallbackMayUnsubscribe(t *testing.T) {
	drv := newFakeDriver()
	table, task := newPolledTask(t, drv, 2)
	a := Line{Port: 0, Pin: 1}
	b := Line{Port: 0, Pin: 2}
	drv.set(a, true)

	table.Subscribe(a, PullNone, func(any) {
		table.Unsubscribe(a)
		table.Subscribe(b, PullNone, func(any) {}, nil)
	}, nil)
	for i := 0; i < DebounceWindow; i++ {
		task.Poll()
	}

	if _, ok := table.Lookup(a); ok {
		t.Error("callback failed to unsubscribe its own line")
	}
	if _, ok := table.Lookup(b); !ok {
		t.Error("callback failed to subscribe another line")
	}
}

func TestDebounceTaskRequiresPolledTable(t *testing.T) {
	table := newEdgeTable(t, newFakeDriver(), 2)
	if _, err := NewDebounceTask(table, time.Millisecond); err != ErrStrategy {
		t.Errorf("err = %v, want ErrStrategy", err)
	}
}

func TestDebounceTaskRun(t *testing.T) {
	drv := newFakeDriver()
	table, task := newPolledTask(t, drv, 1)
	line := Line{Port: 0, Pin: 0}
	drv.set(line, true)

	fired := make(chan struct{}, 1)
	table.Subscribe(line, PullNone, func(any) { fired <- struct{}{} }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never fired the callback")
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run returned %v", err)
	}
}

func TestDebounceTaskSchedule(t *testing.T) {
	ResetTimers()
	defer ResetTimers()

	drv := newFakeDriver()
	table, task := newPolledTask(t, drv, 1)
	line := Line{Port: 0, Pin: 0}
	drv.set(line, true)

	calls := 0
	table.Subscribe(line, PullNone, func(any) { calls++ }, nil)

	wd := NewWatchdog(3)
	wd.Enable()
	task.SetWatchdog(wd)

	period := TimerFromDuration(task.Period())
	SetTime(1000)
	task.Schedule(1000)
	for i := 0; i < DebounceWindow; i++ {
		ProcessTimers()
		SetTime(GetTime() + period)
	}
	if calls != 1 {
		t.Errorf("calls = %d after %d scheduled polls", calls, task.Polls())
	}
	if task.Polls() != DebounceWindow {
		t.Errorf("Polls = %d, want %d", task.Polls(), DebounceWindow)
	}

	task.Stop()
	ProcessTimers()
	if task.Polls() != DebounceWindow {
		t.Error("stopped task still polled")
	}

	// The poll loop has stopped feeding the watchdog.
	for i := 0; i < 3; i++ {
		if !wd.Check() {
			t.Fatalf("watchdog expired early at check %d", i)
		}
	}
	if wd.Check() {
		t.Error("watchdog did not expire")
	}
}
