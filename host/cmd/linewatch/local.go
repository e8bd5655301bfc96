package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"

	"linewatch/config"
	"linewatch/core"
	"linewatch/host/logging"
	"linewatch/targets/expander"
	"linewatch/targets/linux"
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Watch lines on this machine",
	Long: `Watch the configured lines on this machine's GPIO and, if an expander
section is present, on an MCP23017 over I2C. Every firing is logged.

Runs until interrupted (Ctrl+C) or SIGTERM.

Example:
  linewatch local -c lines.yaml --log-level debug`,
	RunE: runLocal,
}

func init() {
	rootCmd.AddCommand(localCmd)
	localCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	localCmd.Flags().Bool("trace", false, "log the subscription trace on exit")
	_ = localCmd.MarkFlagRequired("config")
}

// watched is the callback context of one configured line.
type watched struct {
	log   *logging.Logger
	name  string
	line  core.Line
	count atomic.Uint32
}

func fired(ctx any) {
	w := ctx.(*watched)
	n := w.count.Add(1)
	w.log.Info().
		Str("line", w.name).
		Str("pin", w.line.String()).
		Uint64("count", uint64(n)).
		Log("fired")
}

// station is one driver with its tables.
type station struct {
	name   string
	edge   *core.Table
	polled *core.Table
	task   *core.DebounceTask
}

func newStation(name string, driver core.LineDriver, cfg *config.Config, edge bool) (*station, error) {
	s := &station{name: name}
	var err error
	if edge {
		s.edge, err = core.NewTable(core.StrategyEdge, driver, make([]core.Slot[core.Subscription], cfg.Capacity))
		if err != nil {
			return nil, err
		}
	}
	n := min(cfg.Capacity, core.MaxPolledLines)
	if s.polled, err = core.NewTable(core.StrategyPolled, driver, make([]core.Slot[core.Subscription], n)); err != nil {
		return nil, err
	}
	if s.task, err = core.NewDebounceTask(s.polled, cfg.Period.Duration()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *station) table(strategy core.Strategy) *core.Table {
	if strategy == core.StrategyEdge {
		return s.edge
	}
	return s.polled
}

func (s *station) clear() error {
	var errs []error
	for _, t := range []*core.Table{s.edge, s.polled} {
		if t != nil {
			errs = append(errs, t.Clear())
		}
	}
	return errors.Join(errs...)
}

func runLocal(cmd *cobra.Command, args []string) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := linux.Init(); err != nil {
		return err
	}

	gpio := linux.New(log)
	defer gpio.Close()
	host, err := newStation("gpio", gpio, cfg, true)
	if err != nil {
		return err
	}
	gpio.Attach(host.edge)
	stations := []*station{host}

	var (
		ext *station
		dev *expander.Driver
	)
	if cfg.Expander != nil {
		var bus i2c.BusCloser
		if bus, err = linux.OpenI2C(cfg.Expander.Bus); err != nil {
			return err
		}
		defer bus.Close()
		if dev, err = expander.New(bus, cfg.Expander.Address); err != nil {
			return fmt.Errorf("mcp23017 at 0x%02x: %w", cfg.Expander.Address, err)
		}
		if ext, err = newStation("mcp23017", dev, cfg, false); err != nil {
			return err
		}
		stations = append(stations, ext)
	}

	for _, lc := range cfg.Lines {
		st := host
		if lc.Expander {
			st = ext
		} else {
			if lc.Chip == "" {
				return fmt.Errorf("line %s: chip is required in local mode", lc.Name)
			}
			if err := gpio.BindByName(lc.Line(), lc.Chip); err != nil {
				return err
			}
		}
		w := &watched{log: log, name: lc.Name, line: lc.Line()}
		if err := st.table(lc.Strategy()).Subscribe(w.line, lc.PullMode(), fired, w); err != nil {
			return fmt.Errorf("line %s: %w", lc.Name, err)
		}
		log.Info().
			Str("line", lc.Name).
			Str("pin", w.line.String()).
			Str("source", st.name).
			Str("mode", lc.Mode).
			Str("pull", lc.Pull).
			Log("watching")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, st := range stations {
		if st.polled.Count() == 0 {
			continue
		}
		wg.Add(1)
		go func(st *station) {
			defer wg.Done()
			st.task.Run(ctx)
		}(st)
	}

	log.Info().
		Int("lines", len(cfg.Lines)).
		Dur("period", cfg.Period.Duration()).
		Dur("settle", settleTime(cfg.Period.Duration())).
		Log("running")
	<-ctx.Done()
	wg.Wait()

	log.Info().Log("shutting down")
	var errs []error
	for _, st := range stations {
		errs = append(errs, st.clear())
	}
	if dev != nil {
		if n, last := dev.ReadErrors(); n > 0 {
			log.Warning().Uint64("errors", uint64(n)).Err(last).Log("mcp23017 read errors")
		}
	}
	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		logging.DumpTrace(log)
	}
	return errors.Join(errs...)
}

// settleTime is how long a polled line must hold before it fires.
func settleTime(period time.Duration) time.Duration {
	return period * core.DebounceWindow
}
