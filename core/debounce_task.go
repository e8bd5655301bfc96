package core

import (
	"context"
	"sync/atomic"
	"time"
)

// DebounceTask samples every line of a polled table once per period, feeds
// the table's Debouncer and runs the callback of each line that settled high.
type DebounceTask struct {
	table    *Table
	period   time.Duration
	timer    Timer
	watchdog *Watchdog
	polls    atomic.Uint32
}

// NewDebounceTask builds a task over a StrategyPolled table.
func NewDebounceTask(table *Table, period time.Duration) (*DebounceTask, error) {
	if table == nil || table.strategy != StrategyPolled {
		return nil, ErrStrategy
	}
	if period <= 0 {
		period = DefaultPollPeriod
	}
	return &DebounceTask{table: table, period: period}, nil
}

// DefaultPollPeriod gives a DebounceWindow latency of 10ms.
const DefaultPollPeriod = time.Millisecond

// Period returns the polling period.
func (d *DebounceTask) Period() time.Duration {
	return d.period
}

// SetWatchdog makes every Poll feed w.
func (d *DebounceTask) SetWatchdog(w *Watchdog) {
	d.watchdog = w
}

// Polls returns the number of completed poll cycles.
func (d *DebounceTask) Polls() uint32 {
	return d.polls.Load()
}

type firing struct {
	cb  Callback
	ctx any
}

// Poll runs one sampling cycle and returns the number of callbacks invoked.
// Callbacks run after the table lock is released and may subscribe or
// unsubscribe, including their own line.
func (d *DebounceTask) Poll() int {
	var (
		fire [MaxPolledLines]firing
		n    int
	)

	t := d.table
	t.mu.Lock()
	var sample, live uint32
	t.pool.Each(func(h Handle, s *Subscription) bool {
		bit := uint32(1) << h.index
		live |= bit
		if t.driver.ReadLine(s.Line) {
			sample |= bit
		}
		return true
	})
	rose, _ := t.debounce.Update(sample)
	rose &= live
	if rose != 0 {
		t.pool.Each(func(h Handle, s *Subscription) bool {
			if rose&(1<<h.index) != 0 {
				fire[n] = firing{cb: s.Callback, ctx: s.Context}
				n++
				RecordTrace(TraceEdge, s.Line, uint32(h.index))
			}
			return true
		})
	}
	t.mu.Unlock()

	if d.watchdog != nil {
		d.watchdog.Feed()
	}
	d.polls.Add(1)

	for i := 0; i < n; i++ {
		fire[i].cb(fire[i].ctx)
	}
	return n
}

// Run polls every period until ctx is cancelled.
func (d *DebounceTask) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Poll()
		}
	}
}

// Schedule drives Poll from the timer list, first at start and then every
// period. ProcessTimers must be called by the main loop.
func (d *DebounceTask) Schedule(start uint32) {
	ticks := TimerFromDuration(d.period)
	d.timer = Timer{
		WakeTime: start,
		Handler: func(t *Timer) uint8 {
			d.Poll()
			t.WakeTime += ticks
			if now := GetTime(); timerBefore(t.WakeTime, now) {
				// Overran; skip the missed cycles.
				t.WakeTime = now + ticks
			}
			return SF_RESCHEDULE
		},
	}
	ScheduleTimer(&d.timer)
}

// Stop removes the task from the timer list.
func (d *DebounceTask) Stop() {
	DelTimer(&d.timer)
}

// IsAsserted reports, once, that line settled high since the last call.
func (d *DebounceTask) IsAsserted(line Line) bool {
	return d.query(line, (*Debouncer).IsAsserted)
}

// IsDeasserted reports, once, that line settled low since the last call.
func (d *DebounceTask) IsDeasserted(line Line) bool {
	return d.query(line, (*Debouncer).IsDeasserted)
}

// State returns the settled level of line.
func (d *DebounceTask) State(line Line) bool {
	return d.query(line, (*Debouncer).State)
}

func (d *DebounceTask) query(line Line, fn func(*Debouncer, int) bool) bool {
	t := d.table
	t.mu.Lock()
	defer t.mu.Unlock()
	h, _, ok := t.find(line)
	if !ok {
		return false
	}
	return fn(t.debounce, int(h.index))
}
