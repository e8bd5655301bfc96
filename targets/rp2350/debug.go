//go:build rp2350

package main

import "machine"

var debugUART *machine.UART

// InitDebugUART routes core debug output to UART1 on GPIO36 (TX) and
// GPIO37 (RX) at 115200 baud.
func InitDebugUART() error {
	debugUART = machine.UART1
	err := debugUART.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO36,
		RX:       machine.GPIO37,
	})
	if err != nil {
		debugUART = nil
		return err
	}
	DebugPrintln("=== linewatch rp2350 ===")
	return nil
}

// DebugPrintln writes s and a newline to the debug UART.
func DebugPrintln(s string) {
	if debugUART == nil {
		return
	}
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}
