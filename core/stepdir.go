package core

import "sync/atomic"

// StepDir counts step pulses from an external motion controller.
// Each rising edge on the step line moves the count by one in the
// direction read from the dir line at that moment.
type StepDir struct {
	table  *Table
	step   Line
	dir    Line
	invert bool

	count  atomic.Int32
	active atomic.Bool
}

// NewStepDir builds an inactive step/direction input on an edge table.
func NewStepDir(table *Table, step, dir GPIOPin) (*StepDir, error) {
	if table == nil || table.strategy != StrategyEdge {
		return nil, ErrStrategy
	}
	return &StepDir{
		table: table,
		step:  LineFromGPIO(step),
		dir:   LineFromGPIO(dir),
	}, nil
}

// SetInvertDir makes a high dir level count down instead of up.
func (s *StepDir) SetInvertDir(invert bool) {
	s.invert = invert
}

// SetActive subscribes to or releases the step line. Releasing also
// returns the dir line to reset; releasing twice is a no-op.
func (s *StepDir) SetActive(active bool) error {
	if !active {
		if !s.active.Swap(false) {
			return nil
		}
		err := s.table.Unsubscribe(s.step)
		if derr := s.table.driver.DeconfigureLine(s.dir); derr != nil && err == nil {
			err = &LineError{Op: "deconfigure", Line: s.dir, Err: derr}
		}
		return err
	}
	if s.active.Load() {
		return nil
	}
	if sub, ok := s.table.Lookup(s.step); ok && sub.Context != any(s) {
		return ErrLineBusy
	}
	if _, ok := s.table.Lookup(s.dir); ok {
		return ErrLineBusy
	}
	if err := s.table.driver.ConfigureLine(s.dir, ModeInput, PullNone); err != nil {
		return &LineError{Op: "configure", Line: s.dir, Err: err}
	}
	if err := s.table.Subscribe(s.step, PullDown, stepEdge, s); err != nil {
		s.table.driver.DeconfigureLine(s.dir)
		return err
	}
	s.active.Store(true)
	return nil
}

// Uses reports whether line is the step or dir line.
func (s *StepDir) Uses(line Line) bool {
	return line == s.step || line == s.dir
}

// Active reports whether the step line is subscribed.
func (s *StepDir) Active() bool {
	return s.active.Load()
}

// Direction returns the current dir level, after inversion.
func (s *StepDir) Direction() bool {
	return s.table.driver.ReadLine(s.dir) != s.invert
}

// Count returns the signed step count.
func (s *StepDir) Count() int32 {
	return s.count.Load()
}

// Reset zeroes the step count.
func (s *StepDir) Reset() {
	s.count.Store(0)
}

func stepEdge(ctx any) {
	s := ctx.(*StepDir)
	if s.Direction() {
		s.count.Add(1)
	} else {
		s.count.Add(-1)
	}
}
