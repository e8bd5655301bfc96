package core

import (
	"errors"
	"sync"
)

var errHookBusy = errors.New("fake: interrupt hook already set")

type lineConfig struct {
	mode LineMode
	pull Pull
}

// fakeDriver records every HAL call and serves levels from a map.
type fakeDriver struct {
	mu          sync.Mutex
	levels      map[Line]bool
	configured  map[Line]lineConfig
	armed       map[Channel]bool
	hooks       map[Line]bool
	hookCalls   int
	armCalls    int
	disarmCalls int
	configErr   error
	armErr      error
	channelOf   func(Line) Channel
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		levels:     make(map[Line]bool),
		configured: make(map[Line]lineConfig),
		armed:      make(map[Channel]bool),
		hooks:      make(map[Line]bool),
		channelOf:  STM32Channel,
	}
}

func (f *fakeDriver) ConfigureLine(line Line, mode LineMode, pull Pull) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configErr != nil {
		return f.configErr
	}
	f.configured[line] = lineConfig{mode: mode, pull: pull}
	f.setHook(line, false)
	if mode == ModeInterruptRising {
		return f.setHook(line, true)
	}
	return nil
}

// setHook models a pin's single interrupt hook slot: setting it twice
// without clearing fails. f.mu must be held.
func (f *fakeDriver) setHook(line Line, on bool) error {
	if !on {
		delete(f.hooks, line)
		return nil
	}
	if f.hooks[line] {
		return errHookBusy
	}
	f.hooks[line] = true
	f.hookCalls++
	return nil
}

func (f *fakeDriver) DeconfigureLine(line Line) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.configured, line)
	f.setHook(line, false)
	return nil
}

func (f *fakeDriver) ReadLine(line Line) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[line]
}

func (f *fakeDriver) ArmInterrupt(ch Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armErr != nil {
		return f.armErr
	}
	f.armCalls++
	f.armed[ch] = true
	return nil
}

func (f *fakeDriver) DisarmInterrupt(ch Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disarmCalls++
	f.armed[ch] = false
	return nil
}

func (f *fakeDriver) Channel(line Line) Channel {
	return f.channelOf(line)
}

func (f *fakeDriver) set(line Line, level bool) {
	f.mu.Lock()
	f.levels[line] = level
	f.mu.Unlock()
}

func (f *fakeDriver) isArmed(ch Channel) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed[ch]
}

func (f *fakeDriver) config(line Line) (lineConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.configured[line]
	return c, ok
}

func (f *fakeDriver) hooked(line Line) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hooks[line]
}
