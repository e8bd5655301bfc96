//go:build stm32f405

// Firmware entry for STM32F405 boards: edge and polled line tables served
// to a host over the framed command protocol on machine.Serial.
package main

import (
	"machine"
	"time"

	"linewatch/core"
	"linewatch/protocol"
)

const (
	edgeCapacity   = 10
	polledCapacity = 10

	// Watchdog checks run every checkPeriod; a poll loop silent for
	// watchdogReload checks triggers an emergency stop. Both run from
	// ProcessTimers, so this catches a debounce task that stops
	// rescheduling, not a main loop that stops calling ProcessTimers.
	checkPeriod    = 10 * time.Millisecond
	watchdogReload = 5
)

var (
	edgeSlots   [edgeCapacity]core.Slot[core.Subscription]
	polledSlots [polledCapacity]core.Slot[core.Subscription]

	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	watchdogTimer core.Timer

	msgerrors uint32
)

func main() {
	machine.Serial.Configure(machine.UARTConfig{BaudRate: 250000})

	core.SetDebugWriter(func(s string) {
		machine.Serial.Write([]byte(s + "\r\n"))
	})

	driver := NewSTM32LineDriver()
	edge, err := core.NewTable(core.StrategyEdge, driver, edgeSlots[:])
	if err != nil {
		panic(err)
	}
	driver.SetEdgeTable(edge)
	polled, err := core.NewTable(core.StrategyPolled, driver, polledSlots[:])
	if err != nil {
		panic(err)
	}
	task, err := core.NewDebounceTask(polled, core.DefaultPollPeriod)
	if err != nil {
		panic(err)
	}

	lw := core.NewLineWatch(edge, polled, task)
	registry := core.GetGlobalRegistry()
	lw.Register(registry)

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()
	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		lw.Reset()
	})
	transport.SetFlushCallback(writeSerial)
	transport.SetErrorCallback(func(cmdID uint16, err error) {
		msgerrors++
		core.DebugPrintln("[CMD] " + err.Error())
	})
	registry.SetSender(transport.SendCommand)

	watchdog := core.NewWatchdog(watchdogReload)
	task.SetWatchdog(watchdog)
	startWatchdog(watchdog, lw)
	watchdog.Enable()

	task.Schedule(core.GetTime() + core.TimerFromDuration(task.Period()))

	var rx [64]byte
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			n := 0
			for n < len(rx) && machine.Serial.Buffered() > 0 {
				b, err := machine.Serial.ReadByte()
				if err != nil {
					break
				}
				rx[n] = b
				n++
			}
			if n > 0 {
				inputBuffer.Write(rx[:n])
			}

			if inputBuffer.Available() > 0 {
				transport.Receive(inputBuffer)
			}

			core.ProcessTimers()
			lw.Flush()
			writeSerial()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// startWatchdog schedules the check loop that trips an emergency stop when
// the debounce task stops feeding w.
func startWatchdog(w *core.Watchdog, lw *core.LineWatch) {
	ticks := core.TimerFromDuration(checkPeriod)
	watchdogTimer = core.Timer{
		WakeTime: core.GetTime() + ticks,
		Handler: func(t *core.Timer) uint8 {
			if !w.Check() {
				core.DebugPrintln("[WDT] debounce task stalled")
				core.DumpTrace()
				w.Disable()
				lw.Shutdown()
				return core.SF_DONE
			}
			t.WakeTime += ticks
			return core.SF_RESCHEDULE
		},
	}
	core.ScheduleTimer(&watchdogTimer)
}

func writeSerial() {
	out := outputBuffer.Result()
	if len(out) == 0 {
		return
	}
	machine.Serial.Write(out)
	outputBuffer.Reset()
}
