// Package main is the linewatch host CLI.
//
// Usage:
//
//	linewatch local -c lines.yaml      # watch host GPIO and an MCP23017 directly
//	linewatch remote -c lines.yaml     # configure and watch lines on an MCU
//	linewatch validate -c lines.yaml   # check a config file
//	linewatch version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"linewatch/host/logging"
	"linewatch/protocol"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "linewatch",
	Short: "Watch digital input lines for rising edges",
	Long: `linewatch subscribes callbacks to digital input lines, either on
this machine's GPIO (local) or on a linewatch MCU over a serial link
(remote). Edge lines fire from interrupts; polled lines are debounced
over a window of samples before they fire.

Example config:
  period: 1ms
  capacity: 10
  serial:
    device: /dev/ttyACM0
  lines:
    - name: door
      chip: GPIO17
      port: B
      pin: 3
      pull: up
      mode: polled`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error or off")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("linewatch %s\n", version)
		fmt.Printf("  commit:   %s\n", commit)
		fmt.Printf("  protocol: %s\n", protocol.Version)
	},
}

// newLogger builds the JSON logger from --log-level and routes core debug
// output into it.
func newLogger(cmd *cobra.Command) (*logging.Logger, error) {
	name, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(name)
	if err != nil {
		return nil, err
	}
	log := logging.New(os.Stderr, level)
	logging.BridgeDebug(log, level)
	return log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
