// Package config reads the YAML description of the lines a host-side
// linewatch instance subscribes to.
//
// Example configuration:
//
//	period: 1ms
//	capacity: 10
//
//	serial:
//	  device: /dev/ttyACM0
//	  baud: 250000
//
//	expander:
//	  bus: "1"
//	  address: 0x20
//
//	lines:
//	  - name: estop
//	    chip: GPIO17
//	    port: B
//	    pin: 3
//	    pull: up
//	    mode: edge
//	  - name: limit_x
//	    expander: true
//	    port: A
//	    pin: 4
//	    mode: polled
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"linewatch/core"
)

const (
	defaultPeriod      = time.Millisecond
	defaultCapacity    = 10
	defaultBaud        = 250000
	defaultReadTimeout = 100 * time.Millisecond
	defaultExpander    = 0x20

	minPeriod = 100 * time.Microsecond
)

// Config is the root of a linewatch configuration file.
type Config struct {
	// Period is the polling period of debounced lines. Defaults to 1ms.
	Period Duration `yaml:"period"`

	// Window, if set, must equal the compiled-in debounce window.
	Window int `yaml:"window"`

	// Capacity is the entry count of each subscription table. Defaults to 10.
	Capacity int `yaml:"capacity"`

	Serial   SerialConfig    `yaml:"serial"`
	Expander *ExpanderConfig `yaml:"expander"`
	Lines    []LineConfig    `yaml:"lines"`
}

// SerialConfig locates the MCU for remote mode.
type SerialConfig struct {
	Device      string   `yaml:"device"`
	Baud        int      `yaml:"baud"`
	ReadTimeout Duration `yaml:"read_timeout"`
}

// ExpanderConfig locates an MCP23017 on an I2C bus.
type ExpanderConfig struct {
	// Bus is the periph I2C bus name; empty picks the first bus.
	Bus     string `yaml:"bus"`
	Address uint8  `yaml:"address"`
}

// LineConfig is one watched input.
type LineConfig struct {
	Name string `yaml:"name"`

	// Chip is the host GPIO name (e.g. "GPIO17") for local mode.
	Chip string `yaml:"chip"`

	// Expander puts the line on the MCP23017; port A or B selects the bank.
	Expander bool `yaml:"expander"`

	// Port is the bank letter, "A" through "P". Defaults to A.
	Port string `yaml:"port"`
	Pin  int    `yaml:"pin"`

	// Pull is "up", "down" or "none".
	Pull string `yaml:"pull"`

	// Mode is "edge" or "polled". Defaults to edge, or polled on the expander.
	Mode string `yaml:"mode"`
}

// Line returns the core line addressed by lc.
func (lc LineConfig) Line() core.Line {
	port, _ := parsePort(lc.Port)
	return core.Line{Port: port, Pin: core.Pin(lc.Pin)}
}

// PullMode returns the parsed pull setting.
func (lc LineConfig) PullMode() core.Pull {
	p, _ := core.ParsePull(lc.Pull)
	return p
}

// Strategy returns the parsed mode.
func (lc LineConfig) Strategy() core.Strategy {
	s, _ := core.ParseStrategy(lc.Mode)
	return s
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Count returns how many lines use the given source and strategy.
func (c *Config) Count(expander bool, strategy core.Strategy) int {
	n := 0
	for _, lc := range c.Lines {
		if lc.Expander == expander && lc.Strategy() == strategy {
			n++
		}
	}
	return n
}

func (c *Config) applyDefaults() {
	if c.Period == 0 {
		c.Period = Duration(defaultPeriod)
	}
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = defaultBaud
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = Duration(defaultReadTimeout)
	}
	if c.Expander != nil && c.Expander.Address == 0 {
		c.Expander.Address = defaultExpander
	}

	for i := range c.Lines {
		lc := &c.Lines[i]
		lc.Port = strings.ToUpper(strings.TrimSpace(lc.Port))
		if lc.Port == "" {
			lc.Port = "A"
		}
		if lc.Pull == "" {
			lc.Pull = "none"
		}
		if lc.Mode == "" {
			if lc.Expander {
				lc.Mode = "polled"
			} else {
				lc.Mode = "edge"
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Period.Duration() < minPeriod {
		return fmt.Errorf("period must be at least %s, got %s", minPeriod, c.Period.Duration())
	}
	if c.Window != 0 && c.Window != core.DebounceWindow {
		return fmt.Errorf("window %d not supported, firmware is built with %d", c.Window, core.DebounceWindow)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("capacity cannot be negative, got %d", c.Capacity)
	}
	if c.Serial.ReadTimeout.Duration() < 0 {
		return fmt.Errorf("serial.read_timeout cannot be negative")
	}

	names := make(map[string]struct{}, len(c.Lines))
	type lineKey struct {
		expander bool
		line     core.Line
	}
	seen := make(map[lineKey]string, len(c.Lines))

	for i := range c.Lines {
		lc := &c.Lines[i]

		if lc.Name == "" {
			return fmt.Errorf("lines[%d]: name is required", i)
		}
		if _, dup := names[lc.Name]; dup {
			return fmt.Errorf("lines[%d]: duplicate name %q", i, lc.Name)
		}
		names[lc.Name] = struct{}{}

		if _, ok := parsePort(lc.Port); !ok {
			return fmt.Errorf("lines[%d] (%s): invalid port %q", i, lc.Name, lc.Port)
		}
		if lc.Pin < 0 || lc.Pin >= core.PinsPerPort {
			return fmt.Errorf("lines[%d] (%s): pin must be in [0, %d), got %d", i, lc.Name, core.PinsPerPort, lc.Pin)
		}
		if _, ok := core.ParsePull(lc.Pull); !ok {
			return fmt.Errorf("lines[%d] (%s): pull must be up, down or none, got %q", i, lc.Name, lc.Pull)
		}
		strategy, ok := core.ParseStrategy(lc.Mode)
		if !ok {
			return fmt.Errorf("lines[%d] (%s): mode must be edge or polled, got %q", i, lc.Name, lc.Mode)
		}

		if lc.Expander {
			if c.Expander == nil {
				return fmt.Errorf("lines[%d] (%s): expander line without an expander section", i, lc.Name)
			}
			if strategy != core.StrategyPolled {
				return fmt.Errorf("lines[%d] (%s): expander lines must be polled", i, lc.Name)
			}
			if (lc.Port != "A" && lc.Port != "B") || lc.Pin >= 8 {
				return fmt.Errorf("lines[%d] (%s): expander pins are A0-A7 and B0-B7", i, lc.Name)
			}
		}

		key := lineKey{expander: lc.Expander, line: lc.Line()}
		if other, dup := seen[key]; dup {
			return fmt.Errorf("lines[%d] (%s): line %s already used by %q", i, lc.Name, key.line, other)
		}
		seen[key] = lc.Name
	}

	limit := c.Capacity
	if limit > core.MaxPolledLines {
		limit = core.MaxPolledLines
	}
	for _, expander := range []bool{false, true} {
		if n := c.Count(expander, core.StrategyEdge); n > c.Capacity {
			return fmt.Errorf("%d edge lines exceed capacity %d", n, c.Capacity)
		}
		if n := c.Count(expander, core.StrategyPolled); n > limit {
			return fmt.Errorf("%d polled lines exceed capacity %d", n, limit)
		}
	}

	if len(c.Lines) == 0 && c.Serial.Device == "" {
		return errors.New("at least one line or a serial device must be defined")
	}
	return nil
}

func parsePort(s string) (core.Port, bool) {
	if len(s) != 1 || s[0] < 'A' || s[0] >= 'A'+core.PinsPerPort {
		return 0, false
	}
	return core.Port(s[0] - 'A'), true
}
