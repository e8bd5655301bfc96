//go:build stm32f405

package main

import (
	"errors"
	"machine"
	"sync/atomic"

	"linewatch/core"
)

var errLineRange = errors.New("line out of range")

// lastPin is PI15; the F405 has ports A-I.
const lastPin = 9*core.PinsPerPort - 1

// STM32LineDriver implements core.LineDriver on the F405 GPIO ports.
// Edge lines get their EXTI line enabled when configured; the armed mask
// stands in for the NVIC enable of each shared vector.
type STM32LineDriver struct {
	edges *core.Table
	armed atomic.Uint32
}

// NewSTM32LineDriver returns a driver dispatching edges into edges.
func NewSTM32LineDriver() *STM32LineDriver {
	return &STM32LineDriver{}
}

// SetEdgeTable sets the table EXTI callbacks dispatch into.
func (d *STM32LineDriver) SetEdgeTable(t *core.Table) {
	d.edges = t
}

func machinePin(line core.Line) (machine.Pin, error) {
	n := line.GPIO()
	if n > lastPin || line.Pin >= core.PinsPerPort {
		return machine.NoPin, errLineRange
	}
	return machine.Pin(n), nil
}

func (d *STM32LineDriver) ConfigureLine(line core.Line, mode core.LineMode, pull core.Pull) error {
	pin, err := machinePin(line)
	if err != nil {
		return err
	}
	cfg := machine.PinConfig{Mode: machine.PinInput}
	switch pull {
	case core.PullUp:
		cfg.Mode = machine.PinInputPullup
	case core.PullDown:
		cfg.Mode = machine.PinInputPulldown
	}
	pin.Configure(cfg)

	// A pin holds one hook; SetInterrupt refuses a second until cleared.
	pin.SetInterrupt(0, nil)
	if mode == core.ModeInterruptRising {
		return pin.SetInterrupt(machine.PinRising, d.exti)
	}
	return nil
}

func (d *STM32LineDriver) DeconfigureLine(line core.Line) error {
	pin, err := machinePin(line)
	if err != nil {
		return err
	}
	// Clearing an interrupt that was never set is harmless.
	pin.SetInterrupt(0, nil)
	pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

func (d *STM32LineDriver) ReadLine(line core.Line) bool {
	pin, err := machinePin(line)
	if err != nil {
		return false
	}
	return pin.Get()
}

func (d *STM32LineDriver) ArmInterrupt(ch core.Channel) error {
	for {
		old := d.armed.Load()
		if d.armed.CompareAndSwap(old, old|1<<ch) {
			return nil
		}
	}
}

func (d *STM32LineDriver) DisarmInterrupt(ch core.Channel) error {
	for {
		old := d.armed.Load()
		if d.armed.CompareAndSwap(old, old&^(1<<ch)) {
			return nil
		}
	}
}

func (d *STM32LineDriver) Channel(line core.Line) core.Channel {
	return core.STM32Channel(line)
}

// exti runs in interrupt context.
func (d *STM32LineDriver) exti(pin machine.Pin) {
	line := core.LineFromGPIO(core.GPIOPin(pin))
	if d.armed.Load()&(1<<core.STM32Channel(line)) == 0 || d.edges == nil {
		return
	}
	d.edges.Dispatch(line)
}
