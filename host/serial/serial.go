// Package serial opens the port a linewatch MCU is attached to.
package serial

import (
	"io"
	"time"

	"linewatch/config"
)

// Port is a byte stream to the MCU. Tests substitute one end of a net.Pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unsent output.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC devices ignore it
	Baud int

	// ReadTimeout bounds each Read; zero blocks
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings the firmware's UART uses
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// FromConfig converts the serial section of a linewatch config file
func FromConfig(sc config.SerialConfig) *Config {
	cfg := DefaultConfig(sc.Device)
	if sc.Baud != 0 {
		cfg.Baud = sc.Baud
	}
	if sc.ReadTimeout != 0 {
		cfg.ReadTimeout = sc.ReadTimeout.Duration()
	}
	return cfg
}
