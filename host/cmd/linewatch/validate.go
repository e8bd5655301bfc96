package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"linewatch/config"
	"linewatch/core"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Parse and validate a linewatch config file without touching hardware.

Exit codes:
  0 - config is valid
  1 - config is invalid`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Period:   %s (settles after %s)\n", cfg.Period.Duration(), settleTime(cfg.Period.Duration()))
	fmt.Printf("  Capacity: %d per table\n", cfg.Capacity)
	fmt.Printf("  GPIO:     %d edge, %d polled\n",
		cfg.Count(false, core.StrategyEdge), cfg.Count(false, core.StrategyPolled))
	if cfg.Expander != nil {
		fmt.Printf("  MCP23017: %d polled at 0x%02x\n", cfg.Count(true, core.StrategyPolled), cfg.Expander.Address)
	}
	if cfg.Serial.Device != "" {
		fmt.Printf("  Serial:   %s @ %d\n", cfg.Serial.Device, cfg.Serial.Baud)
	}
	return nil
}
