// Package expander serves polled lines from an MCP23017 I2C port expander.
// Port 0 is bank A and port 1 bank B, eight pins each. The chip's interrupt
// outputs are not used, so only StrategyPolled tables can drive it.
package expander

import (
	"errors"
	"sync"
	"time"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/mcp23017"

	"linewatch/core"
)

var (
	// ErrEdgeUnsupported is returned for interrupt configuration.
	ErrEdgeUnsupported = errors.New("expander: edge interrupts not supported")
	// ErrPullDown is returned for PullDown; the chip only has pull-ups.
	ErrPullDown = errors.New("expander: no pull-down resistors")
	// ErrLineRange is returned for lines outside A0-A7 and B0-B7.
	ErrLineRange = errors.New("expander: line out of range")
)

const pinsPerBank = 8

// Driver implements core.LineDriver on one MCP23017.
type Driver struct {
	dev *mcp23017.Device

	// MaxAge is how long a bank read serves ReadLine before the bus is read
	// again. One poll cycle reads every line, so a value below the poll
	// period costs one bus transaction per cycle.
	MaxAge time.Duration

	mu      sync.Mutex
	pins    mcp23017.Pins
	readAt  time.Time
	lastErr error
	errs    uint32
}

// New opens the expander at address on bus. All pins start as inputs.
func New(bus drivers.I2C, address uint8) (*Driver, error) {
	dev, err := mcp23017.NewI2C(bus, address)
	if err != nil {
		return nil, err
	}
	if err := dev.SetModes([]mcp23017.PinMode{mcp23017.Input}); err != nil {
		return nil, err
	}
	return &Driver{dev: dev, MaxAge: 500 * time.Microsecond}, nil
}

func pinOf(line core.Line) (int, error) {
	if line.Port > 1 || line.Pin >= pinsPerBank {
		return 0, ErrLineRange
	}
	return int(line.Port)*pinsPerBank + int(line.Pin), nil
}

// ConfigureLine sets line as an input with an optional pull-up.
func (d *Driver) ConfigureLine(line core.Line, mode core.LineMode, pull core.Pull) error {
	pin, err := pinOf(line)
	if err != nil {
		return err
	}
	if mode != core.ModeInput {
		return ErrEdgeUnsupported
	}
	m := mcp23017.Input
	switch pull {
	case core.PullUp:
		m |= mcp23017.Pullup
	case core.PullDown:
		return ErrPullDown
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.readAt = time.Time{}
	return d.dev.Pin(pin).SetMode(m)
}

// DeconfigureLine drops the pull-up; the pin stays an input.
func (d *Driver) DeconfigureLine(line core.Line) error {
	pin, err := pinOf(line)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.Pin(pin).SetMode(mcp23017.Input)
}

// ReadLine returns the cached level of line, refreshing both banks when the
// cache is older than MaxAge. A failed read keeps the previous levels.
func (d *Driver) ReadLine(line core.Line) bool {
	pin, err := pinOf(line)
	if err != nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readAt.IsZero() || time.Since(d.readAt) >= d.MaxAge {
		pins, err := d.dev.GetPins()
		if err != nil {
			d.lastErr = err
			d.errs++
		} else {
			d.pins = pins
			d.readAt = time.Now()
		}
	}
	return d.pins.Get(pin)
}

// ReadErrors returns the number of failed bus reads and the latest error.
func (d *Driver) ReadErrors() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errs, d.lastErr
}

// ArmInterrupt always fails.
func (d *Driver) ArmInterrupt(core.Channel) error {
	return ErrEdgeUnsupported
}

// DisarmInterrupt always fails.
func (d *Driver) DisarmInterrupt(core.Channel) error {
	return ErrEdgeUnsupported
}

// Channel returns 0 for every line.
func (d *Driver) Channel(core.Line) core.Channel {
	return 0
}
