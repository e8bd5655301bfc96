package core

import (
	"sync/atomic"

	"linewatch/protocol"
)

// MaxOIDs bounds the object ids a host may assign to watched lines.
const MaxOIDs = 32

// EventRingSize is the number of line events buffered between Flush calls.
const EventRingSize = 32

// Wire values of config_line_watch mode.
const (
	WireModeEdge   = 0
	WireModePolled = 1
)

type lineEvent struct {
	oid   uint8
	clock uint32
	count uint32
}

// eventQueue is filled from callbacks (interrupt or task context) and
// drained by Flush. Full means drop newest.
type eventQueue struct {
	slots   [EventRingSize]Slot[Node[lineEvent]]
	list    *List[lineEvent]
	dropped uint32
}

func (q *eventQueue) init() {
	q.list = NewList(q.slots[:])
}

func (q *eventQueue) push(e lineEvent) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	if _, err := q.list.PushBack(e); err != nil {
		q.dropped++
		return false
	}
	return true
}

func (q *eventQueue) peek() (lineEvent, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	ref, ok := q.list.Front()
	if !ok {
		return lineEvent{}, false
	}
	return q.list.Value(ref)
}

func (q *eventQueue) drop() {
	state := disableInterrupts()
	q.list.PopFront()
	restoreInterrupts(state)
}

func (q *eventQueue) len() int {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return q.list.Count()
}

func (q *eventQueue) droppedCount() uint32 {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return q.dropped
}

// watch is one host-assigned oid bound to a line.
type watch struct {
	lw     *LineWatch
	oid    uint8
	line   Line
	table  *Table
	active bool
	count  atomic.Uint32
}

// LineWatch exposes the subscription tables to a host over the command
// protocol. Each fired line is counted and queued as a line_event.
type LineWatch struct {
	edge     *Table
	polled   *Table
	task     *DebounceTask
	reg      *CommandRegistry
	watches  [MaxOIDs]watch
	events   eventQueue
	stepdir  *StepDir
	dict     []byte
	shutdown atomic.Bool
}

// NewLineWatch serves the given tables; either may be nil. task must poll
// the polled table when one is given.
func NewLineWatch(edge, polled *Table, task *DebounceTask) *LineWatch {
	lw := &LineWatch{edge: edge, polled: polled, task: task}
	lw.events.init()
	for i := range lw.watches {
		lw.watches[i].lw = lw
		lw.watches[i].oid = uint8(i)
	}
	return lw
}

// Register adds the whole Messages dictionary to r, in order. r must be
// empty so that ids match MessageIDs.
func (lw *LineWatch) Register(r *CommandRegistry) {
	lw.reg = r
	handlers := map[string]CommandHandler{
		"get_clock":         lw.handleGetClock,
		"emergency_stop":    lw.handleEmergencyStop,
		"get_trace":         lw.handleGetTrace,
		"get_line_config":   lw.handleGetLineConfig,
		"config_line_watch": lw.handleConfigLineWatch,
		"line_watch_remove": lw.handleLineWatchRemove,
		"line_watch_query":  lw.handleLineWatchQuery,
		"config_step_dir":   lw.handleConfigStepDir,
		"step_dir_enable":   lw.handleStepDirEnable,
		"step_dir_query":    lw.handleStepDirQuery,
		"get_dictionary":    lw.handleGetDictionary,
	}
	for _, m := range Messages {
		if m.Response {
			r.RegisterResponse(m.Name, m.Format)
			continue
		}
		r.Register(m.Name, m.Format, handlers[m.Name])
	}
	lw.dict = []byte(r.GetDictionary())
}

// Flush sends queued line_event responses and returns how many were sent.
// An event stays queued if its send fails.
func (lw *LineWatch) Flush() int {
	sent := 0
	for {
		e, ok := lw.events.peek()
		if !ok {
			return sent
		}
		err := lw.reg.SendResponse("line_event", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(e.oid))
			protocol.EncodeVLQUint(output, e.clock)
			protocol.EncodeVLQUint(output, e.count)
		})
		if err != nil {
			return sent
		}
		lw.events.drop()
		sent++
	}
}

// Pending returns the number of queued events.
func (lw *LineWatch) Pending() int {
	return lw.events.len()
}

// Dropped returns the number of events lost to a full queue.
func (lw *LineWatch) Dropped() uint32 {
	return lw.events.droppedCount()
}

// Count returns how many times oid has fired since it was configured.
func (lw *LineWatch) Count(oid uint8) uint32 {
	if int(oid) >= MaxOIDs {
		return 0
	}
	return lw.watches[oid].count.Load()
}

// IsShutdown reports whether an emergency stop was received.
func (lw *LineWatch) IsShutdown() bool {
	return lw.shutdown.Load()
}

// Shutdown empties both tables, whoever owns their entries, then tells
// the host.
func (lw *LineWatch) Shutdown() {
	if lw.shutdown.Swap(true) {
		return
	}
	for i := range lw.watches {
		lw.watches[i].active = false
	}
	if lw.stepdir != nil {
		lw.stepdir.SetActive(false)
	}
	for _, t := range []*Table{lw.edge, lw.polled} {
		if t != nil {
			t.Clear()
		}
	}
	DebugPrintln("[LINE] emergency stop")
	if lw.reg != nil {
		now := GetTime()
		lw.reg.SendResponse("is_shutdown", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, now)
		})
	}
}

// Reset clears the shutdown state; lines stay released.
func (lw *LineWatch) Reset() {
	lw.shutdown.Store(false)
}

func lineFired(ctx any) {
	w := ctx.(*watch)
	n := w.count.Add(1)
	if !w.lw.events.push(lineEvent{oid: w.oid, clock: GetTime(), count: n}) {
		RecordTrace(TraceOverflow, w.line, uint32(w.oid))
	}
}

func (lw *LineWatch) release(w *watch) error {
	if !w.active {
		return nil
	}
	w.active = false
	return w.table.Unsubscribe(w.line)
}

func (lw *LineWatch) watchFor(oid uint32) (*watch, error) {
	if oid >= MaxOIDs {
		return nil, ErrBadArgument
	}
	return &lw.watches[oid], nil
}

// handleConfigLineWatch binds an oid to a line.
// Format: config_line_watch oid=%c port=%c pin=%c pull=%c mode=%c
func (lw *LineWatch) handleConfigLineWatch(data *[]byte) error {
	var oid, port, pin, pull, mode uint32
	if err := protocol.DecodeVLQArgs(data, &oid, &port, &pin, &pull, &mode); err != nil {
		return err
	}
	if lw.IsShutdown() {
		return ErrShutdown
	}
	w, err := lw.watchFor(oid)
	if err != nil {
		return err
	}
	if port > 0xFF || pin >= PinsPerPort || pull > uint32(PullDown) {
		return ErrBadArgument
	}

	var table *Table
	switch mode {
	case WireModeEdge:
		table = lw.edge
	case WireModePolled:
		table = lw.polled
	}
	if table == nil {
		return ErrStrategy
	}

	line := Line{Port: Port(port), Pin: Pin(pin)}
	if lw.ownedElsewhere(table, line) {
		return ErrLineBusy
	}
	if w.active && (w.line != line || w.table != table) {
		if err := lw.release(w); err != nil {
			return err
		}
	}
	if !w.active {
		w.count.Store(0)
	}
	if err := table.Subscribe(line, Pull(pull), lineFired, w); err != nil {
		DebugPrintln("[LINE] subscribe " + line.String() + " failed: " + err.Error())
		return err
	}
	for i := range lw.watches {
		// The table entry now belongs to w.
		o := &lw.watches[i]
		if o != w && o.active && o.line == line && o.table == table {
			o.active = false
		}
	}
	w.line = line
	w.table = table
	w.active = true
	return nil
}

// ownedElsewhere reports whether line is held by something other than an
// oid: the step input or a table entry bound by another module.
func (lw *LineWatch) ownedElsewhere(table *Table, line Line) bool {
	if lw.stepdir != nil && lw.stepdir.Active() && lw.stepdir.Uses(line) {
		return true
	}
	sub, ok := table.Lookup(line)
	if !ok {
		return false
	}
	_, isWatch := sub.Context.(*watch)
	return !isWatch
}

// watched reports whether an active oid holds line in either table.
func (lw *LineWatch) watched(line Line) bool {
	for i := range lw.watches {
		if w := &lw.watches[i]; w.active && w.line == line {
			return true
		}
	}
	return false
}

// handleLineWatchRemove releases an oid.
// Format: line_watch_remove oid=%c
func (lw *LineWatch) handleLineWatchRemove(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	w, err := lw.watchFor(oid)
	if err != nil {
		return err
	}
	if !w.active {
		return ErrNotSubscribed
	}
	return lw.release(w)
}

// handleLineWatchQuery reports the level and fire count of an oid.
// Polled lines report their settled level, edge lines the raw level.
// Format: line_watch_query oid=%c
func (lw *LineWatch) handleLineWatchQuery(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	w, err := lw.watchFor(oid)
	if err != nil {
		return err
	}
	if !w.active {
		return ErrNotSubscribed
	}

	var level bool
	if w.table == lw.polled && lw.task != nil {
		level = lw.task.State(w.line)
	} else {
		level = w.table.driver.ReadLine(w.line)
	}
	count := w.count.Load()
	return lw.reg.SendResponse("line_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQBool(output, level)
		protocol.EncodeVLQUint(output, count)
	})
}

// handleConfigStepDir sets up the step/direction input on the edge table.
// Format: config_step_dir step=%u dir=%u invert=%c
func (lw *LineWatch) handleConfigStepDir(data *[]byte) error {
	var step, dir, invert uint32
	if err := protocol.DecodeVLQArgs(data, &step, &dir, &invert); err != nil {
		return err
	}
	if lw.IsShutdown() {
		return ErrShutdown
	}
	if lw.stepdir != nil && lw.stepdir.Active() {
		if err := lw.stepdir.SetActive(false); err != nil {
			return err
		}
	}
	sd, err := NewStepDir(lw.edge, GPIOPin(step), GPIOPin(dir))
	if err != nil {
		return err
	}
	sd.SetInvertDir(invert != 0)
	lw.stepdir = sd
	return nil
}

// handleStepDirEnable subscribes or releases the step line.
// Format: step_dir_enable enable=%c
func (lw *LineWatch) handleStepDirEnable(data *[]byte) error {
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if lw.stepdir == nil {
		return ErrNotSubscribed
	}
	if enable == 0 {
		return lw.stepdir.SetActive(false)
	}
	if lw.IsShutdown() {
		return ErrShutdown
	}
	if lw.watched(lw.stepdir.step) || lw.watched(lw.stepdir.dir) {
		return ErrLineBusy
	}
	return lw.stepdir.SetActive(true)
}

// handleStepDirQuery reports the step counter.
// Format: step_dir_query
func (lw *LineWatch) handleStepDirQuery(data *[]byte) error {
	var (
		active bool
		count  int32
	)
	if lw.stepdir != nil {
		active = lw.stepdir.Active()
		count = lw.stepdir.Count()
	}
	return lw.reg.SendResponse("step_dir_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQBool(output, active)
		protocol.EncodeVLQInt(output, count)
	})
}
