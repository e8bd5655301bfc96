package mcu

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"linewatch/core"
	"linewatch/protocol"
)

// pinDriver is a LineDriver over a level map.
type pinDriver struct {
	mu     sync.Mutex
	levels map[core.Line]bool
}

func (d *pinDriver) ConfigureLine(core.Line, core.LineMode, core.Pull) error { return nil }
func (d *pinDriver) DeconfigureLine(core.Line) error                        { return nil }
func (d *pinDriver) ArmInterrupt(core.Channel) error                        { return nil }
func (d *pinDriver) DisarmInterrupt(core.Channel) error                     { return nil }
func (d *pinDriver) Channel(l core.Line) core.Channel                       { return core.STM32Channel(l) }

func (d *pinDriver) ReadLine(l core.Line) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[l]
}

func (d *pinDriver) set(l core.Line, v bool) {
	d.mu.Lock()
	d.levels[l] = v
	d.mu.Unlock()
}

type firmware struct {
	drv    *pinDriver
	edge   *core.Table
	polled *core.Table
	task   *core.DebounceTask
	lw     *core.LineWatch
}

// startFirmware serves a real LineWatch on conn, flushing events every few
// milliseconds like the firmware main loop.
func startFirmware(t *testing.T, conn net.Conn) *firmware {
	t.Helper()
	f := &firmware{drv: &pinDriver{levels: make(map[core.Line]bool)}}
	var err error
	if f.edge, err = core.NewTable(core.StrategyEdge, f.drv, make([]core.Slot[core.Subscription], 4)); err != nil {
		t.Fatal(err)
	}
	if f.polled, err = core.NewTable(core.StrategyPolled, f.drv, make([]core.Slot[core.Subscription], 4)); err != nil {
		t.Fatal(err)
	}
	if f.task, err = core.NewDebounceTask(f.polled, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	f.lw = core.NewLineWatch(f.edge, f.polled, f.task)

	reg := core.NewCommandRegistry()
	f.lw.Register(reg)
	out := protocol.NewScratchOutput()
	tr := protocol.NewTransport(out, reg.Dispatch)
	reg.SetSender(tr.SendCommand)
	in := protocol.NewFifoBuffer(1024)

	go func() {
		buf := make([]byte, 128)
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Millisecond))
			n, err := conn.Read(buf)
			if n > 0 {
				in.Write(buf[:n])
				tr.Receive(in)
			}
			if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
				return
			}
			f.lw.Flush()
			if out.CurPosition() > 0 {
				if _, err := conn.Write(out.Result()); err != nil {
					return
				}
				out.Reset()
			}
		}
	}()
	return f
}

func newTestMCU(t *testing.T) (*MCU, *firmware, context.Context) {
	t.Helper()
	hostEnd, mcuEnd := net.Pipe()
	f := startFirmware(t, mcuEnd)
	m := New(hostEnd, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(func() {
		cancel()
		m.Close()
		mcuEnd.Close()
	})
	return m, f, ctx
}

func TestConfigAndEvents(t *testing.T) {
	m, f, ctx := newTestMCU(t)
	line := core.Line{Port: 1, Pin: 3}

	if err := m.ConfigLineWatch(ctx, 2, line, core.PullDown, core.StrategyEdge); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.edge.Lookup(line); !ok {
		t.Fatal("line not subscribed on the MCU")
	}

	f.edge.Dispatch(line)
	f.edge.Dispatch(line)
	for want := uint32(1); want <= 2; want++ {
		select {
		case ev := <-m.Events():
			if ev.OID != 2 || ev.Count != want {
				t.Errorf("event = %+v, want oid 2 count %d", ev, want)
			}
		case <-ctx.Done():
			t.Fatal("no line_event")
		}
	}

	st, err := m.QueryLine(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if st.OID != 2 || st.Count != 2 {
		t.Errorf("state = %+v", st)
	}

	if err := m.RemoveLineWatch(ctx, 2); err != nil {
		t.Fatal(err)
	}
	cfg, err := m.LineConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Count != 0 || cfg.Capacity != 8 || cfg.Shutdown {
		t.Errorf("line config = %+v", cfg)
	}
}

func TestIdentify(t *testing.T) {
	m, _, ctx := newTestMCU(t)
	if err := m.Identify(ctx); err != nil {
		t.Fatal(err)
	}
	// Ids stay usable after the dictionary exchange.
	if _, err := m.LineConfig(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestPolledQuery(t *testing.T) {
	m, f, ctx := newTestMCU(t)
	line := core.Line{Port: 0, Pin: 9}

	if err := m.ConfigLineWatch(ctx, 0, line, core.PullUp, core.StrategyPolled); err != nil {
		t.Fatal(err)
	}
	f.drv.set(line, true)
	for i := 0; i < core.DebounceWindow; i++ {
		f.task.Poll()
	}

	select {
	case ev := <-m.Events():
		if ev.OID != 0 || ev.Count != 1 {
			t.Errorf("event = %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no line_event")
	}
	st, err := m.QueryLine(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Level {
		t.Error("settled level low")
	}
}

func TestQueryUnknownOidTimesOut(t *testing.T) {
	m, _, ctx := newTestMCU(t)
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := m.QueryLine(short, 7); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	// A late reply must not reach a cancelled waiter.
	if _, err := m.GetClock(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestEmergencyStop(t *testing.T) {
	m, f, ctx := newTestMCU(t)
	m.ConfigLineWatch(ctx, 1, core.Line{Pin: 1}, core.PullNone, core.StrategyEdge)

	if err := m.EmergencyStop(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-m.Shutdowns():
	case <-ctx.Done():
		t.Fatal("no is_shutdown")
	}
	if !f.lw.IsShutdown() || f.edge.Count() != 0 {
		t.Error("MCU did not release its lines")
	}
}

func TestTraceAndClock(t *testing.T) {
	m, _, ctx := newTestMCU(t)
	core.ClearTrace()
	core.SetTime(777)

	clock, err := m.GetClock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if clock != 777 {
		t.Errorf("clock = %d", clock)
	}

	m.ConfigLineWatch(ctx, 0, core.Line{Port: 2, Pin: 4}, core.PullNone, core.StrategyEdge)
	events, err := m.Trace(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Kind != core.TraceArm || events[1].Kind != core.TraceSubscribe {
		t.Fatalf("trace = %+v", events)
	}
	if events[1].Port != 2 || events[1].Pin != 4 {
		t.Errorf("trace line = %d/%d", events[1].Port, events[1].Pin)
	}
}

func TestStepDir(t *testing.T) {
	m, f, ctx := newTestMCU(t)
	step := core.Line{Port: 0, Pin: 10}
	dir := core.Line{Port: 0, Pin: 11}

	if err := m.ConfigStepDir(ctx, step, dir, false); err != nil {
		t.Fatal(err)
	}
	if err := m.EnableStepDir(ctx, true); err != nil {
		t.Fatal(err)
	}
	f.drv.set(dir, false)
	f.edge.Dispatch(step)
	f.edge.Dispatch(step)

	st, err := m.QueryStepDir(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Active || st.Count != -2 {
		t.Errorf("state = %+v, want active count -2", st)
	}
}
