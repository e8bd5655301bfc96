// Package mcu is the host-side client of a linewatch MCU. Command ids come
// from core.Messages, which the firmware registers in the same order.
package mcu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"linewatch/core"
	"linewatch/host/logging"
	"linewatch/host/serial"
	"linewatch/protocol"
)

// LineEvent reports that a watched line fired.
type LineEvent struct {
	OID   uint8
	Clock uint32
	Count uint32
}

// LineState answers QueryLine.
type LineState struct {
	OID   uint8
	Level bool
	Count uint32
}

// LineConfig answers LineConfig.
type LineConfig struct {
	Count    int
	Capacity int
	Shutdown bool
}

// StepDirState answers QueryStepDir.
type StepDirState struct {
	Active bool
	Count  int32
}

// ErrDictionaryMismatch is returned by Identify when the MCU serves a
// different message dictionary than this build.
var ErrDictionaryMismatch = errors.New("mcu: message dictionary mismatch")

// reply is one decoded response handed to a waiter.
type reply struct {
	args []uint32
	data []byte
}

// MCU is a connection to one linewatch MCU.
type MCU struct {
	transport *protocol.HostTransport
	log       *logging.Logger

	ids    map[string]uint16
	names  map[uint16]string
	nargs  map[uint16]int
	events chan LineEvent
	stops  chan uint32

	mu      sync.Mutex
	waiters map[string][]chan reply
	trace   []core.TraceEvent
}

// New starts a client on port. log may be nil.
func New(port io.ReadWriteCloser, log *logging.Logger) *MCU {
	m := &MCU{
		transport: protocol.NewHostTransport(port, log),
		log:       log,
		ids:       core.MessageIDs(),
		names:     make(map[uint16]string, len(core.Messages)),
		nargs:     make(map[uint16]int, len(core.Messages)),
		events:    make(chan LineEvent, 64),
		stops:     make(chan uint32, 1),
		waiters:   make(map[string][]chan reply),
	}
	for i, msg := range core.Messages {
		m.names[uint16(i)] = msg.Name
		m.nargs[uint16(i)] = strings.Count(msg.Format, "%")
	}
	m.transport.SetResponseHandler(m.handleResponse)
	return m
}

// Connect opens the serial port described by cfg.
func Connect(cfg *serial.Config, log *logging.Logger) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(port, log), nil
}

// Close stops the transport and closes the port.
func (m *MCU) Close() error {
	return m.transport.Close()
}

// Events delivers line_event responses. Events arriving while the channel
// is full are dropped and logged.
func (m *MCU) Events() <-chan LineEvent {
	return m.events
}

// Shutdowns delivers the MCU clock of each is_shutdown response.
func (m *MCU) Shutdowns() <-chan uint32 {
	return m.stops
}

// ConfigLineWatch binds oid to line on the MCU.
func (m *MCU) ConfigLineWatch(ctx context.Context, oid uint8, line core.Line, pull core.Pull, strategy core.Strategy) error {
	mode := uint32(core.WireModeEdge)
	switch strategy {
	case core.StrategyEdge:
	case core.StrategyPolled:
		mode = core.WireModePolled
	default:
		return core.ErrStrategy
	}
	return m.send(ctx, "config_line_watch", uint32(oid), uint32(line.Port), uint32(line.Pin), uint32(pull), mode)
}

// RemoveLineWatch releases oid.
func (m *MCU) RemoveLineWatch(ctx context.Context, oid uint8) error {
	return m.send(ctx, "line_watch_remove", uint32(oid))
}

// QueryLine reads the level and fire count of oid.
func (m *MCU) QueryLine(ctx context.Context, oid uint8) (LineState, error) {
	r, err := m.request(ctx, "line_state", "line_watch_query", uint32(oid))
	if err != nil {
		return LineState{}, err
	}
	return LineState{OID: uint8(r.args[0]), Level: r.args[1] != 0, Count: r.args[2]}, nil
}

// GetClock returns the MCU tick counter.
func (m *MCU) GetClock(ctx context.Context) (uint32, error) {
	r, err := m.request(ctx, "clock", "get_clock")
	if err != nil {
		return 0, err
	}
	return r.args[0], nil
}

// Identify reads the message dictionary from the MCU and checks it
// against core.Messages. Command ids are only valid after it succeeds.
func (m *MCU) Identify(ctx context.Context) error {
	var dict []byte
	for {
		r, err := m.request(ctx, "dictionary", "get_dictionary", uint32(len(dict)), core.DictionaryChunk)
		if err != nil {
			return err
		}
		if r.args[0] != uint32(len(dict)) {
			return fmt.Errorf("get_dictionary: chunk at %d, asked for %d", r.args[0], len(dict))
		}
		if len(r.data) == 0 {
			break
		}
		dict = append(dict, r.data...)
	}
	if want := core.MessageDictionary(); string(dict) != want {
		m.log.Err().Int("got_bytes", len(dict)).Int("want_bytes", len(want)).Log("dictionary mismatch")
		return ErrDictionaryMismatch
	}
	m.log.Debug().Int("bytes", len(dict)).Log("dictionary verified")
	return nil
}

// LineConfig returns table occupancy and the shutdown flag.
func (m *MCU) LineConfig(ctx context.Context) (LineConfig, error) {
	r, err := m.request(ctx, "line_config", "get_line_config")
	if err != nil {
		return LineConfig{}, err
	}
	return LineConfig{Count: int(r.args[0]), Capacity: int(r.args[1]), Shutdown: r.args[2] != 0}, nil
}

// EmergencyStop releases every line on the MCU.
func (m *MCU) EmergencyStop(ctx context.Context) error {
	return m.send(ctx, "emergency_stop")
}

// Trace fetches the MCU trace ring, oldest first. get_line_config is sent
// behind get_trace so its reply marks the end of the stream.
func (m *MCU) Trace(ctx context.Context) ([]core.TraceEvent, error) {
	m.mu.Lock()
	m.trace = m.trace[:0]
	m.mu.Unlock()

	if err := m.send(ctx, "get_trace"); err != nil {
		return nil, err
	}
	if _, err := m.LineConfig(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.TraceEvent, len(m.trace))
	copy(out, m.trace)
	return out, nil
}

// ConfigStepDir sets up the step/direction input.
func (m *MCU) ConfigStepDir(ctx context.Context, step, dir core.Line, invert bool) error {
	var inv uint32
	if invert {
		inv = 1
	}
	return m.send(ctx, "config_step_dir", uint32(step.GPIO()), uint32(dir.GPIO()), inv)
}

// EnableStepDir starts or stops step counting.
func (m *MCU) EnableStepDir(ctx context.Context, enable bool) error {
	var v uint32
	if enable {
		v = 1
	}
	return m.send(ctx, "step_dir_enable", v)
}

// QueryStepDir reads the step counter.
func (m *MCU) QueryStepDir(ctx context.Context) (StepDirState, error) {
	r, err := m.request(ctx, "step_dir_state", "step_dir_query")
	if err != nil {
		return StepDirState{}, err
	}
	return StepDirState{Active: r.args[0] != 0, Count: int32(r.args[1])}, nil
}

func (m *MCU) send(ctx context.Context, name string, args ...uint32) error {
	id, ok := m.ids[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	err := m.transport.SendCommand(ctx, id, func(output protocol.OutputBuffer) {
		for _, a := range args {
			protocol.EncodeVLQUint(output, a)
		}
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// request sends a command and waits for the named reply.
func (m *MCU) request(ctx context.Context, response, name string, args ...uint32) (reply, error) {
	ch := make(chan reply, 1)
	m.mu.Lock()
	m.waiters[response] = append(m.waiters[response], ch)
	m.mu.Unlock()

	if err := m.send(ctx, name, args...); err != nil {
		m.cancel(response, ch)
		return reply{}, err
	}
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		m.cancel(response, ch)
		return reply{}, fmt.Errorf("%s: waiting for %s: %w", name, response, ctx.Err())
	}
}

func (m *MCU) cancel(response string, ch chan reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.waiters[response]
	for i, w := range ws {
		if w == ch {
			m.waiters[response] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	name, ok := m.names[cmdID]
	if !ok {
		return fmt.Errorf("unknown response id %d", cmdID)
	}
	if name == "dictionary" {
		offset, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		chunk, err := protocol.DecodeVLQBytes(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		// chunk aliases the transport's receive buffer.
		m.deliver(name, reply{args: []uint32{offset}, data: append([]byte(nil), chunk...)})
		return nil
	}
	args := make([]uint32, m.nargs[cmdID])
	ptrs := make([]*uint32, len(args))
	for i := range args {
		ptrs[i] = &args[i]
	}
	if err := protocol.DecodeVLQArgs(data, ptrs...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	switch name {
	case "line_event":
		ev := LineEvent{OID: uint8(args[0]), Clock: args[1], Count: args[2]}
		select {
		case m.events <- ev:
		default:
			m.log.Warning().Int("oid", int(ev.OID)).Log("event channel full, dropping line_event")
		}
		return nil
	case "is_shutdown":
		m.log.Warning().Int64("clock", int64(args[0])).Log("mcu shut down")
		select {
		case m.stops <- args[0]:
		default:
		}
		return nil
	case "trace_event":
		m.mu.Lock()
		m.trace = append(m.trace, core.TraceEvent{
			Kind:  uint8(args[0]),
			Port:  uint8(args[1]),
			Pin:   uint8(args[2]),
			Clock: args[3],
			Value: args[4],
		})
		m.mu.Unlock()
		return nil
	}

	m.deliver(name, reply{args: args})
	return nil
}

// deliver hands r to the oldest waiter for name.
func (m *MCU) deliver(name string, r reply) {
	m.mu.Lock()
	ws := m.waiters[name]
	var ch chan reply
	if len(ws) > 0 {
		ch = ws[0]
		m.waiters[name] = ws[1:]
	}
	m.mu.Unlock()
	if ch == nil {
		m.log.Debug().Str("response", name).Log("unsolicited response")
		return
	}
	ch <- r
}
