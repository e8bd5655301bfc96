package core

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Strategy selects how a table's lines are configured and dispatched.
type Strategy uint8

const (
	// StrategyEdge configures lines as rising-edge interrupt sources.
	// Dispatch happens from the interrupt path via Table.Dispatch.
	StrategyEdge Strategy = iota + 1

	// StrategyPolled configures lines as plain inputs sampled by a DebounceTask.
	StrategyPolled
)

func (s Strategy) String() string {
	switch s {
	case StrategyEdge:
		return "edge"
	case StrategyPolled:
		return "polled"
	default:
		return "invalid"
	}
}

// ParseStrategy maps "edge" or "polled" to a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "edge":
		return StrategyEdge, true
	case "polled":
		return StrategyPolled, true
	}
	return 0, false
}

// Callback is invoked when a subscribed line fires.
// Edge tables call it from interrupt context: it must not block.
type Callback func(ctx any)

// Subscription is one table entry.
type Subscription struct {
	Line     Line
	Pull     Pull
	Callback Callback
	Context  any

	channel Channel
}

// binding is the interrupt-visible part of a subscription.
// Never modified after publication; replaced or cleared as a whole.
type binding struct {
	line Line
	cb   Callback
	ctx  any
}

// LineError wraps a driver failure with the operation and line involved.
type LineError struct {
	Op   string
	Line Line
	Err  error
}

func (e *LineError) Error() string {
	return e.Op + " " + e.Line.String() + ": " + e.Err.Error()
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// MaxPolledLines is the largest polled table a Debouncer can track.
const MaxPolledLines = 32

// Table binds lines to callbacks and owns their hardware lifecycle.
// Subscribe and Unsubscribe are task-context only; Dispatch may run in an
// interrupt handler and never takes the lock.
type Table struct {
	mu       sync.Mutex
	strategy Strategy
	driver   LineDriver
	pool     *Pool[Subscription]
	bindings []atomic.Pointer[binding]
	refs     [MaxChannels]uint16
	debounce *Debouncer
}

// NewTable builds a table whose entries live in backing.
// Capacity is len(backing); polled tables hold at most MaxPolledLines.
func NewTable(strategy Strategy, driver LineDriver, backing []Slot[Subscription]) (*Table, error) {
	if driver == nil {
		return nil, errors.New("core: nil line driver")
	}
	t := &Table{
		strategy: strategy,
		driver:   driver,
	}
	switch strategy {
	case StrategyEdge:
	case StrategyPolled:
		if len(backing) > MaxPolledLines {
			return nil, errors.New("core: polled table capacity above " + itoa(MaxPolledLines))
		}
		t.debounce = &Debouncer{}
	default:
		return nil, ErrStrategy
	}
	t.pool = NewPool(backing)
	t.bindings = make([]atomic.Pointer[binding], t.pool.MaxSlots())
	return t, nil
}

// Strategy returns the table's configuration strategy.
func (t *Table) Strategy() Strategy {
	return t.strategy
}

// Capacity returns the maximum number of entries.
func (t *Table) Capacity() int {
	return t.pool.MaxSlots()
}

// Count returns the number of active entries.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pool.InUse()
}

// Subscribe binds cb and ctx to line.
// An existing entry for the same line is updated in place; otherwise a new
// entry is allocated, or ErrTableFull returned with the table untouched.
func (t *Table) Subscribe(line Line, pull Pull, cb Callback, ctx any) error {
	if cb == nil {
		return ErrNoCallback
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if h, sub, ok := t.find(line); ok {
		return t.resubscribe(h, sub, pull, cb, ctx)
	}

	var ch Channel
	if t.strategy == StrategyEdge {
		ch = t.driver.Channel(line)
		if ch >= MaxChannels {
			return ErrChannelRange
		}
	}

	h, ok := t.pool.Allocate()
	if !ok {
		return ErrTableFull
	}
	idx := int(h.index)

	if err := t.driver.ConfigureLine(line, t.mode(), pull); err != nil {
		t.pool.Release(h)
		return &LineError{Op: "configure", Line: line, Err: err}
	}

	sub, _ := t.pool.Get(h)
	*sub = Subscription{Line: line, Pull: pull, Callback: cb, Context: ctx, channel: ch}

	switch t.strategy {
	case StrategyEdge:
		// Publish before arming so the first interrupt sees a full binding.
		t.bindings[idx].Store(&binding{line: line, cb: cb, ctx: ctx})
		if t.refs[ch] == 0 {
			if err := t.driver.ArmInterrupt(ch); err != nil {
				t.bindings[idx].Store(nil)
				t.driver.DeconfigureLine(line)
				t.pool.Release(h)
				return &LineError{Op: "arm", Line: line, Err: err}
			}
			RecordTrace(TraceArm, line, uint32(ch))
		}
		t.refs[ch]++
	case StrategyPolled:
		t.debounce.Reset(idx)
		t.bindings[idx].Store(&binding{line: line, cb: cb, ctx: ctx})
	}

	RecordTrace(TraceSubscribe, line, uint32(idx))
	return nil
}

func (t *Table) resubscribe(h Handle, sub *Subscription, pull Pull, cb Callback, ctx any) error {
	// On failure the previous binding keeps firing.
	if err := t.driver.ConfigureLine(sub.Line, t.mode(), pull); err != nil {
		return &LineError{Op: "configure", Line: sub.Line, Err: err}
	}
	if t.strategy == StrategyEdge {
		// Reconfiguring may have reset the channel enable on some parts.
		if err := t.driver.ArmInterrupt(sub.channel); err != nil {
			return &LineError{Op: "arm", Line: sub.Line, Err: err}
		}
	}
	sub.Pull = pull
	sub.Callback = cb
	sub.Context = ctx
	t.bindings[h.index].Store(&binding{line: sub.Line, cb: cb, ctx: ctx})
	RecordTrace(TraceResubscribe, sub.Line, uint32(h.index))
	return nil
}

// Unsubscribe removes the entry for line.
// The binding is cleared first so a late interrupt finds no callback. The
// channel is disarmed only once its last subscriber is gone.
func (t *Table) Unsubscribe(line Line) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, sub, ok := t.find(line)
	if !ok {
		return ErrNotSubscribed
	}
	idx := int(h.index)
	t.bindings[idx].Store(nil)

	var firstErr error
	switch t.strategy {
	case StrategyEdge:
		ch := sub.channel
		t.refs[ch]--
		if t.refs[ch] == 0 {
			if err := t.driver.DisarmInterrupt(ch); err != nil {
				firstErr = &LineError{Op: "disarm", Line: line, Err: err}
			}
			RecordTrace(TraceDisarm, line, uint32(ch))
		}
	case StrategyPolled:
		t.debounce.Reset(idx)
	}

	if err := t.driver.DeconfigureLine(line); err != nil && firstErr == nil {
		firstErr = &LineError{Op: "deconfigure", Line: line, Err: err}
	}
	t.pool.Release(h)

	RecordTrace(TraceUnsubscribe, line, uint32(idx))
	return firstErr
}

// Dispatch runs the callback bound to line, if any.
// Lock free; safe from interrupt context.
func (t *Table) Dispatch(line Line) bool {
	for i := range t.bindings {
		b := t.bindings[i].Load()
		if b == nil || b.line != line {
			continue
		}
		b.cb(b.ctx)
		return true
	}
	return false
}

// Binding returns the callback and context published for slot index.
func (t *Table) Binding(index int) (Callback, any, bool) {
	if index < 0 || index >= len(t.bindings) {
		return nil, nil, false
	}
	b := t.bindings[index].Load()
	if b == nil {
		return nil, nil, false
	}
	return b.cb, b.ctx, true
}

// Lookup returns a copy of the entry for line.
func (t *Table) Lookup(line Line) (Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, sub, ok := t.find(line)
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// Each visits a copy of every active entry in slot order.
// fn runs under the table lock and must not call back into the table.
func (t *Table) Each(fn func(index int, sub Subscription) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pool.Each(func(h Handle, s *Subscription) bool {
		return fn(int(h.index), *s)
	})
}

// ChannelRefs returns how many entries currently hold ch armed.
func (t *Table) ChannelRefs(ch Channel) int {
	if ch >= MaxChannels {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.refs[ch])
}

// Clear unsubscribes every entry.
func (t *Table) Clear() error {
	var lines []Line
	t.Each(func(_ int, sub Subscription) bool {
		lines = append(lines, sub.Line)
		return true
	})
	var firstErr error
	for _, line := range lines {
		if err := t.Unsubscribe(line); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Table) mode() LineMode {
	switch t.strategy {
	case StrategyEdge:
		return ModeInterruptRising
	default:
		return ModeInput
	}
}

// find must be called with t.mu held.
func (t *Table) find(line Line) (Handle, *Subscription, bool) {
	var (
		found Handle
		sub   *Subscription
	)
	t.pool.Each(func(h Handle, s *Subscription) bool {
		if s.Line == line {
			found, sub = h, s
			return false
		}
		return true
	})
	return found, sub, sub != nil
}
