package core

// GPIOPin is a flat hardware pin number: port*PinsPerPort + pin.
type GPIOPin uint32

// PinsPerPort is the number of pins in one GPIO port bank.
const PinsPerPort = 16

// Port identifies a GPIO port bank (0 = A, 1 = B, ...).
type Port uint8

// Pin is a pin index inside a port.
type Pin uint8

// Line is a single addressable hardware input.
type Line struct {
	Port Port
	Pin  Pin
}

// LineFromGPIO splits a flat pin number into port and pin.
func LineFromGPIO(n GPIOPin) Line {
	return Line{Port: Port(n / PinsPerPort), Pin: Pin(n % PinsPerPort)}
}

// GPIO returns the flat pin number of the line.
func (l Line) GPIO() GPIOPin {
	return GPIOPin(l.Port)*PinsPerPort + GPIOPin(l.Pin)
}

// String renders the line as "PB3".
func (l Line) String() string {
	return "P" + string(rune('A'+l.Port)) + itoa(int(l.Pin))
}

// Pull selects the input bias resistor.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

// ParsePull maps "up", "down", "none" (or "") to a Pull.
func ParsePull(s string) (Pull, bool) {
	switch s {
	case "up":
		return PullUp, true
	case "down":
		return PullDown, true
	case "", "none":
		return PullNone, true
	}
	return PullNone, false
}

// LineMode is the hardware configuration requested for a line.
type LineMode uint8

const (
	// ModeInput is a plain digital input, sampled by polling.
	ModeInput LineMode = iota
	// ModeInterruptRising is an input raising an interrupt on its rising edge.
	ModeInterruptRising
)

// Channel is the interrupt source a line maps to. Several lines may share one.
type Channel uint8

// MaxChannels bounds the channel numbers a driver may report.
const MaxChannels = 32

// LineDriver is the hardware abstraction the subscription table drives.
// Platform code (targets/*) implements it; core never touches registers.
type LineDriver interface {
	// ConfigureLine sets the line's mode and pull resistor.
	ConfigureLine(line Line, mode LineMode, pull Pull) error

	// DeconfigureLine returns the line to its reset state.
	DeconfigureLine(line Line) error

	// ReadLine returns the current raw level of the line.
	ReadLine(line Line) bool

	// ArmInterrupt enables the interrupt channel.
	ArmInterrupt(ch Channel) error

	// DisarmInterrupt disables the interrupt channel.
	DisarmInterrupt(ch Channel) error

	// Channel maps a line to its interrupt channel (many-to-one).
	Channel(line Line) Channel
}

// STM32Channel maps a line to its STM32F4 EXTI interrupt vector.
// Every port shares the EXTI line of the same pin number; pins 0-4 own a
// vector each, 5-9 share EXTI9_5 and 10-15 share EXTI15_10.
func STM32Channel(line Line) Channel {
	switch {
	case line.Pin <= 4:
		return Channel(line.Pin)
	case line.Pin <= 9:
		return 5
	default:
		return 6
	}
}
