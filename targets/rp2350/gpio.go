//go:build rp2350

package main

import (
	"errors"
	"machine"
	"sync/atomic"

	"linewatch/core"
)

var errLineRange = errors.New("line out of range")

// numGPIO covers GPIO0-GPIO47 on the RP2350B.
const numGPIO = 48

// RPLineDriver implements core.LineDriver on the RP2350 bank 0 GPIOs.
// Every pin has its own interrupt enable, so a line's channel is its GPIO
// number. Pins above GPIO31 can only be polled.
type RPLineDriver struct {
	edges *core.Table
	armed atomic.Uint32
}

// NewRPLineDriver returns a driver with no edge table attached.
func NewRPLineDriver() *RPLineDriver {
	return &RPLineDriver{}
}

// SetEdgeTable sets the table the IO_IRQ_BANK0 handler dispatches into.
func (d *RPLineDriver) SetEdgeTable(t *core.Table) {
	d.edges = t
}

// Lines address GPIOs through their flat number: GPIO17 is PB1.
func machinePin(line core.Line) (machine.Pin, error) {
	n := line.GPIO()
	if n >= numGPIO || line.Pin >= core.PinsPerPort {
		return machine.NoPin, errLineRange
	}
	return machine.Pin(n), nil
}

func (d *RPLineDriver) ConfigureLine(line core.Line, mode core.LineMode, pull core.Pull) error {
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
		return pin.SetInterrupt(machine.PinRising, d.irq)
	}
	return nil
}

func (d *RPLineDriver) DeconfigureLine(line core.Line) error {
	pin, err := machinePin(line)
	if err != nil {
		return err
	}
	pin.SetInterrupt(0, nil)
	pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

func (d *RPLineDriver) ReadLine(line core.Line) bool {
	pin, err := machinePin(line)
	if err != nil {
		return false
	}
	return pin.Get()
}

func (d *RPLineDriver) ArmInterrupt(ch core.Channel) error {
	for {
		old := d.armed.Load()
		if d.armed.CompareAndSwap(old, old|1<<ch) {
			return nil
		}
	}
}

func (d *RPLineDriver) DisarmInterrupt(ch core.Channel) error {
	for {
		old := d.armed.Load()
		if d.armed.CompareAndSwap(old, old&^(1<<ch)) {
			return nil
		}
	}
}

func (d *RPLineDriver) Channel(line core.Line) core.Channel {
	n := line.GPIO()
	if n >= core.MaxChannels {
		return core.MaxChannels
	}
	return core.Channel(n)
}

// irq runs in interrupt context.
func (d *RPLineDriver) irq(pin machine.Pin) {
	if uint32(pin) >= core.MaxChannels || d.armed.Load()&(1<<uint32(pin)) == 0 || d.edges == nil {
		return
	}
	d.edges.Dispatch(core.LineFromGPIO(core.GPIOPin(pin)))
}
