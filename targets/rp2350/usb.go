//go:build rp2350

package main

import "machine"

// machine.Serial is USB CDC-ACM on the RP2350; the runtime sets up the
// descriptors.
func InitUSB() error {
	return machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes available to read from USB
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte from USB
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes data to USB
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
