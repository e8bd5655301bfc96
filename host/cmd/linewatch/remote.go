package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"linewatch/config"
	"linewatch/core"
	"linewatch/host/logging"
	"linewatch/host/mcu"
	"linewatch/host/serial"
)

const commandTimeout = 2 * time.Second

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Watch lines on a linewatch MCU",
	Long: `Connect to a linewatch MCU, assign an oid to every configured line and
log each line_event it reports. Lines are released on exit.

Expander lines are skipped; the MCU only drives its own GPIO.

Example:
  linewatch remote -c lines.yaml
  linewatch remote -c lines.yaml --device /dev/ttyUSB0 --trace`,
	RunE: runRemote,
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	remoteCmd.Flags().String("device", "", "serial device, overrides serial.device")
	remoteCmd.Flags().Bool("trace", false, "fetch and log the MCU trace ring on exit")
	_ = remoteCmd.MarkFlagRequired("config")
}

func runRemote(cmd *cobra.Command, args []string) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	sc := serial.FromConfig(cfg.Serial)
	if dev, _ := cmd.Flags().GetString("device"); dev != "" {
		sc.Device = dev
	}

	m, err := mcu.Connect(sc, log)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	call := func(fn func(ctx context.Context) error) error {
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return fn(cctx)
	}

	var clock uint32
	if err := call(func(ctx context.Context) (err error) {
		clock, err = m.GetClock(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("mcu not responding on %s: %w", sc.Device, err)
	}
	if err := call(m.Identify); err != nil {
		return fmt.Errorf("identify %s: %w", sc.Device, err)
	}
	log.Info().Str("device", sc.Device).Int64("clock", int64(clock)).Log("connected")

	names := make(map[uint8]string)
	var oid uint8
	for _, lc := range cfg.Lines {
		if lc.Expander {
			log.Warning().Str("line", lc.Name).Log("expander line skipped in remote mode")
			continue
		}
		if int(oid) >= core.MaxOIDs {
			return fmt.Errorf("more than %d lines", core.MaxOIDs)
		}
		o := oid
		if err := call(func(ctx context.Context) error {
			return m.ConfigLineWatch(ctx, o, lc.Line(), lc.PullMode(), lc.Strategy())
		}); err != nil {
			return fmt.Errorf("line %s: %w", lc.Name, err)
		}
		names[o] = lc.Name
		log.Info().
			Str("line", lc.Name).
			Int("oid", int(o)).
			Str("pin", lc.Line().String()).
			Str("mode", lc.Mode).
			Log("watching")
		oid++
	}

	var lcfg mcu.LineConfig
	if err := call(func(ctx context.Context) (err error) {
		lcfg, err = m.LineConfig(ctx)
		return err
	}); err != nil {
		return err
	}
	log.Info().Int("lines", lcfg.Count).Int("capacity", lcfg.Capacity).Log("running")

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-m.Events():
			log.Info().
				Str("line", names[ev.OID]).
				Int("oid", int(ev.OID)).
				Int64("clock", int64(ev.Clock)).
				Uint64("count", uint64(ev.Count)).
				Log("fired")
		case at := <-m.Shutdowns():
			runErr = fmt.Errorf("mcu shut down at clock %d", at)
			break loop
		}
	}

	// The signal context is done; release lines on a fresh one.
	ctx = context.Background()
	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		var events []core.TraceEvent
		if err := call(func(ctx context.Context) (err error) {
			events, err = m.Trace(ctx)
			return err
		}); err != nil {
			log.Warning().Err(err).Log("trace fetch failed")
		}
		for _, evt := range events {
			line := core.Line{Port: core.Port(evt.Port), Pin: core.Pin(evt.Pin)}
			log.Info().
				Str("kind", logging.TraceKind(evt.Kind)).
				Str("line", line.String()).
				Int64("clock", int64(evt.Clock)).
				Int64("value", int64(evt.Value)).
				Log("trace")
		}
	}
	if runErr != nil {
		return runErr
	}

	var errs []error
	for o, name := range names {
		if err := call(func(ctx context.Context) error { return m.RemoveLineWatch(ctx, o) }); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
