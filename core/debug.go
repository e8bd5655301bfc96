package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures one subscription lifecycle event for post-mortem analysis
type TraceEvent struct {
	Kind  uint8  // Trace* code
	Port  uint8  // Line port
	Pin   uint8  // Line pin
	Clock uint32 // System clock at event
	Value uint32 // Slot index or channel, depending on Kind
}

// Trace kinds
const (
	TraceSubscribe   = 1 // new entry, Value = slot
	TraceResubscribe = 2 // entry updated in place, Value = slot
	TraceUnsubscribe = 3 // entry released, Value = slot
	TraceArm         = 4 // channel armed, Value = channel
	TraceDisarm      = 5 // channel disarmed, Value = channel
	TraceEdge        = 6 // debounced rising edge, Value = slot
	TraceOverflow    = 7 // event ring dropped an event, Value = oid
)

const (
	TraceRingSize = 32 // Keep last 32 events
)

var (
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled gates DebugPrintln; the trace ring records regardless.
	debugEnabled bool = false

	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordTrace appends an event to the trace ring, overwriting the oldest
func RecordTrace(kind uint8, line Line, value uint32) {
	state := disableInterrupts()
	idx := traceRingHead
	traceRing[idx] = TraceEvent{
		Kind:  kind,
		Port:  uint8(line.Port),
		Pin:   uint8(line.Pin),
		Clock: GetTime(),
		Value: value,
	}
	traceRingHead = (idx + 1) % TraceRingSize
	restoreInterrupts(state)
}

// TraceSnapshot returns the recorded events, oldest first
func TraceSnapshot() []TraceEvent {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	out := make([]TraceEvent, 0, TraceRingSize)
	start := traceRingHead
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(start+i)%TraceRingSize]
		if evt.Kind == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// DumpTrace writes the trace ring through the debug writer, oldest first
func DumpTrace() {
	if debugPrintln == nil {
		return
	}
	events := TraceSnapshot()

	debugPrintln("[TRACE] === Trace Ring Dump ===")
	for _, evt := range events {
		debugPrintln("[TRACE] " + traceName(evt.Kind) +
			" line=" + Line{Port: Port(evt.Port), Pin: Pin(evt.Pin)}.String() +
			" clock=" + utoa(evt.Clock) +
			" v=" + utoa(evt.Value))
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTrace empties the trace ring
func ClearTrace() {
	state := disableInterrupts()
	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
	restoreInterrupts(state)
}

func traceName(kind uint8) string {
	switch kind {
	case TraceSubscribe:
		return "SUBSCRIBE"
	case TraceResubscribe:
		return "RESUBSCRIBE"
	case TraceUnsubscribe:
		return "UNSUBSCRIBE"
	case TraceArm:
		return "ARM"
	case TraceDisarm:
		return "DISARM"
	case TraceEdge:
		return "EDGE"
	case TraceOverflow:
		return "OVERFLOW!"
	default:
		return "UNKNOWN"
	}
}
