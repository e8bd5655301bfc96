// Package linux drives lines through periph.io GPIO pins on a Linux host.
//
// Each bound line gets its own channel. Arming a channel starts a goroutine
// that waits for rising edges and dispatches them into the attached table,
// standing in for the EXTI handler of the firmware build. Callbacks run on
// that goroutine and may unsubscribe their own line.
package linux

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"linewatch/core"
	"linewatch/host/logging"
)

var (
	// ErrUnbound is returned for lines that were never bound to a pin.
	ErrUnbound = errors.New("linux: line not bound to a pin")
	// ErrTooManyLines is returned once every channel is taken.
	ErrTooManyLines = errors.New("linux: channel limit reached")
)

// Init loads the periph host drivers.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph init: %w", err)
	}
	return nil
}

// OpenI2C opens an I2C bus by name; empty selects the first bus.
func OpenI2C(name string) (i2c.BusCloser, error) {
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c %q: %w", name, err)
	}
	return bus, nil
}

type boundPin struct {
	line core.Line
	pin  gpio.PinIO
	ch   core.Channel
}

type watcher struct {
	stop chan struct{}
	done chan struct{}
	prev chan struct{} // done of the channel's previous watcher, if any
}

// Driver implements core.LineDriver over periph pins.
type Driver struct {
	// EdgeTimeout bounds each WaitForEdge call so a disarm is noticed.
	EdgeTimeout time.Duration

	log *logging.Logger

	mu       sync.Mutex
	lines    map[core.Line]*boundPin
	channels []*boundPin
	watchers map[core.Channel]*watcher
	exits    map[core.Channel]chan struct{}
	table    *core.Table
	wg       sync.WaitGroup
}

// New returns a driver with no lines bound. log may be nil.
func New(log *logging.Logger) *Driver {
	return &Driver{
		EdgeTimeout: 100 * time.Millisecond,
		log:         log,
		lines:       make(map[core.Line]*boundPin),
		watchers:    make(map[core.Channel]*watcher),
		exits:       make(map[core.Channel]chan struct{}),
	}
}

// Bind maps line onto pin. Rebinding a line replaces its pin.
func (d *Driver) Bind(line core.Line, pin gpio.PinIO) error {
	if pin == nil {
		return fmt.Errorf("bind %s: nil pin", line)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.lines[line]; ok {
		b.pin = pin
		return nil
	}
	if len(d.channels) >= core.MaxChannels {
		return ErrTooManyLines
	}
	b := &boundPin{line: line, pin: pin, ch: core.Channel(len(d.channels))}
	d.lines[line] = b
	d.channels = append(d.channels, b)
	return nil
}

// BindByName maps line onto the periph pin called name, e.g. "GPIO17".
func (d *Driver) BindByName(line core.Line, name string) error {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return fmt.Errorf("bind %s: unknown pin %q", line, name)
	}
	return d.Bind(line, pin)
}

// Attach sets the table that edges are dispatched to.
func (d *Driver) Attach(t *core.Table) {
	d.mu.Lock()
	d.table = t
	d.mu.Unlock()
}

func (d *Driver) lookup(line core.Line) (*boundPin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.lines[line]
	if !ok {
		return nil, ErrUnbound
	}
	return b, nil
}

func toPeriph(p core.Pull) gpio.Pull {
	switch p {
	case core.PullUp:
		return gpio.PullUp
	case core.PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

// ConfigureLine sets the pin as an input, with rising-edge detection for
// interrupt mode.
func (d *Driver) ConfigureLine(line core.Line, mode core.LineMode, pull core.Pull) error {
	b, err := d.lookup(line)
	if err != nil {
		return err
	}
	edge := gpio.NoEdge
	if mode == core.ModeInterruptRising {
		edge = gpio.RisingEdge
	}
	return b.pin.In(toPeriph(pull), edge)
}

// DeconfigureLine leaves the pin a floating input without edge detection.
func (d *Driver) DeconfigureLine(line core.Line) error {
	b, err := d.lookup(line)
	if err != nil {
		return err
	}
	return b.pin.In(gpio.Float, gpio.NoEdge)
}

// ReadLine returns true for a high level; unbound lines read low.
func (d *Driver) ReadLine(line core.Line) bool {
	b, err := d.lookup(line)
	if err != nil {
		return false
	}
	return b.pin.Read() == gpio.High
}

// Channel returns the channel assigned by Bind; unbound lines map to
// MaxChannels, which the table rejects.
func (d *Driver) Channel(line core.Line) core.Channel {
	b, err := d.lookup(line)
	if err != nil {
		return core.MaxChannels
	}
	return b.ch
}

// ArmInterrupt starts the edge watcher of ch. Arming twice is a no-op.
func (d *Driver) ArmInterrupt(ch core.Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(ch) >= len(d.channels) {
		return ErrUnbound
	}
	if _, ok := d.watchers[ch]; ok {
		return nil
	}
	w := &watcher{
		stop: make(chan struct{}),
		done: make(chan struct{}),
		prev: d.exits[ch],
	}
	d.watchers[ch] = w
	d.exits[ch] = w.done
	d.wg.Add(1)
	go d.watch(d.channels[ch], w)

	d.log.Debug().Str("line", d.channels[ch].line.String()).Int("channel", int(ch)).Log("armed")
	return nil
}

// DisarmInterrupt signals the edge watcher of ch to stop and returns
// without waiting, so a callback running on that watcher may call it.
// An edge already being dispatched completes; none follow.
func (d *Driver) DisarmInterrupt(ch core.Channel) error {
	d.mu.Lock()
	w, ok := d.watchers[ch]
	delete(d.watchers, ch)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	close(w.stop)

	d.log.Debug().Int("channel", int(ch)).Log("disarmed")
	return nil
}

// Close stops every watcher and waits for them to exit. It must not be
// called from a table callback.
func (d *Driver) Close() error {
	d.mu.Lock()
	chans := make([]core.Channel, 0, len(d.watchers))
	for ch := range d.watchers {
		chans = append(chans, ch)
	}
	d.mu.Unlock()
	for _, ch := range chans {
		d.DisarmInterrupt(ch)
	}
	d.wg.Wait()
	return nil
}

func (d *Driver) watch(b *boundPin, w *watcher) {
	defer d.wg.Done()
	defer close(w.done)
	// One watcher per pin at a time; a re-arm waits out the old one.
	if w.prev != nil {
		select {
		case <-w.prev:
		case <-w.stop:
			return
		}
	}
	for {
		select {
		case <-w.stop:
			return
		default:
		}
		if !b.pin.WaitForEdge(d.EdgeTimeout) {
			continue
		}
		select {
		case <-w.stop:
			return
		default:
		}
		// An edge that still races a disarm finds the binding already
		// cleared by Unsubscribe.
		d.mu.Lock()
		t := d.table
		d.mu.Unlock()
		if t == nil {
			d.log.Warning().Str("line", b.line.String()).Log("edge with no table attached")
			continue
		}
		t.Dispatch(b.line)
	}
}
