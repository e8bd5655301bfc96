//go:build rp2350

// Firmware entry for RP2350 boards: the line tables served over USB CDC.
// USB is read on its own goroutine; the main loop runs the transport, the
// timer list and the event flush.
package main

import (
	"machine"
	"time"

	"linewatch/core"
	"linewatch/protocol"
)

const (
	edgeCapacity   = 16
	polledCapacity = 16

	checkPeriod    = 10 * time.Millisecond
	watchdogReload = 5

	// The hardware watchdog resets the chip when the main loop itself
	// stalls, which the timer-driven check cannot see.
	hardwareWatchdogMillis = 100
)

var (
	edgeSlots   [edgeCapacity]core.Slot[core.Subscription]
	polledSlots [polledCapacity]core.Slot[core.Subscription]

	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport
	lw           *core.LineWatch

	watchdogTimer core.Timer

	msgerrors                uint32
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	if err := InitUSB(); err != nil {
		return
	}
	// A watchdog left running by a previous image would reset us mid-boot.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	InitClock()
	UpdateSystemTime()
	if InitDebugUART() == nil {
		core.SetDebugWriter(DebugPrintln)
		core.SetDebugEnabled(true)
	}

	driver := NewRPLineDriver()
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

	lw = core.NewLineWatch(edge, polled, task)
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
	// The host waits for the ACK before it reads responses.
	transport.SetFlushCallback(writeUSB)
	transport.SetErrorCallback(func(cmdID uint16, err error) {
		msgerrors++
		core.DebugPrintln("[CMD] " + err.Error())
	})
	registry.SetSender(transport.SendCommand)

	watchdog := core.NewWatchdog(watchdogReload)
	task.SetWatchdog(watchdog)
	startWatchdog(watchdog)
	watchdog.Enable()

	task.Schedule(core.GetTime() + core.TimerFromDuration(task.Period()))

	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: hardwareWatchdogMillis}); err != nil {
		core.DebugPrintln("[WDT] configure: " + err.Error())
	} else if err := machine.Watchdog.Start(); err != nil {
		core.DebugPrintln("[WDT] start: " + err.Error())
	}

	go usbReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			machine.Watchdog.Update()
			UpdateSystemTime()
			if inputBuffer.Available() > 0 {
				transport.Receive(inputBuffer)
			}
			core.ProcessTimers()
			lw.Flush()
			writeUSB()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop moves USB bytes into inputBuffer. After a disconnect the
// first byte received resets the link state.
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(time.Millisecond)
				continue
			}
			if usbWasDisconnected {
				usbWasDisconnected = false
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
				consecutiveWriteFailures = 0
			}
			if inputBuffer.Write([]byte{b}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func startWatchdog(w *core.Watchdog) {
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

// writeUSB drains outputBuffer. Repeated write failures mean the host is
// gone: stale output is dropped and the link resets on the next byte in.
func writeUSB() {
	out := outputBuffer.Result()
	written := 0
	for written < len(out) {
		n, err := USBWriteBytes(out[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
