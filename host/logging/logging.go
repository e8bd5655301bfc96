// Package logging builds the structured JSON logger shared by the host tools
// and routes firmware debug output into it.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"linewatch/core"
)

// Logger is the logger type passed around the host packages.
type Logger = logiface.Logger[*stumpy.Event]

// New returns a stumpy JSON logger writing to w at the given level.
func New(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	)
}

// ParseLevel accepts the syslog keywords logiface prints ("err", "info", ...)
// plus "error", "warn" and "off".
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "disabled":
		return logiface.LevelDisabled, nil
	case "emerg":
		return logiface.LevelEmergency, nil
	case "alert":
		return logiface.LevelAlert, nil
	case "crit":
		return logiface.LevelCritical, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "warning", "warn":
		return logiface.LevelWarning, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "", "info":
		return logiface.LevelInformational, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "trace":
		return logiface.LevelTrace, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}

// BridgeDebug sends core.DebugPrintln output to log at debug level, and
// enables it when level admits debug messages.
func BridgeDebug(log *Logger, level logiface.Level) {
	core.SetDebugWriter(func(msg string) {
		log.Debug().Str("src", "core").Log(msg)
	})
	core.SetDebugEnabled(level >= logiface.LevelDebug)
}

// DumpTrace logs every event in the core trace ring.
func DumpTrace(log *Logger) {
	for _, evt := range core.TraceSnapshot() {
		line := core.Line{Port: core.Port(evt.Port), Pin: core.Pin(evt.Pin)}
		log.Info().
			Str("kind", TraceKind(evt.Kind)).
			Str("line", line.String()).
			Int64("clock", int64(evt.Clock)).
			Int64("value", int64(evt.Value)).
			Log("trace")
	}
}

// TraceKind names a core trace event kind.
func TraceKind(kind uint8) string {
	switch kind {
	case core.TraceSubscribe:
		return "subscribe"
	case core.TraceResubscribe:
		return "resubscribe"
	case core.TraceUnsubscribe:
		return "unsubscribe"
	case core.TraceArm:
		return "arm"
	case core.TraceDisarm:
		return "disarm"
	case core.TraceEdge:
		return "edge"
	case core.TraceOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}
