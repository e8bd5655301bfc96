package core

// DebounceWindow is the number of consecutive agreeing samples needed before
// a line's settled state changes. Detection latency is DebounceWindow poll
// periods; raise it for noisier inputs. At most 16.
const DebounceWindow = 10

const windowMask = uint16(1<<DebounceWindow - 1)

// Debouncer conditions up to MaxPolledLines raw inputs, bit i per line i.
// Each line keeps a shift register of its last DebounceWindow samples; the
// settled state goes high only when all of them are high and low only when
// all of them are low. Not safe for concurrent use.
type Debouncer struct {
	history [MaxPolledLines]uint16
	settled uint32
	rose    uint32
	fell    uint32
}

// Update feeds one sample word (bit i = raw level of line i) and returns
// the lines whose settled state rose or fell on this sample.
func (d *Debouncer) Update(sample uint32) (rose, fell uint32) {
	for i := 0; i < MaxPolledLines; i++ {
		r, f := d.shift(i, sample&(1<<i) != 0)
		if r {
			rose |= 1 << i
		}
		if f {
			fell |= 1 << i
		}
	}
	return rose, fell
}

// UpdateLine feeds one sample for line i only.
func (d *Debouncer) UpdateLine(i int, level bool) (rose, fell bool) {
	if i < 0 || i >= MaxPolledLines {
		return false, false
	}
	return d.shift(i, level)
}

func (d *Debouncer) shift(i int, level bool) (rose, fell bool) {
	h := d.history[i] << 1
	if level {
		h |= 1
	}
	h &= windowMask
	d.history[i] = h

	bit := uint32(1) << i
	high := d.settled&bit != 0
	switch {
	case !high && h == windowMask:
		d.settled |= bit
		d.rose |= bit
		d.fell &^= bit
		return true, false
	case high && h == 0:
		d.settled &^= bit
		d.fell |= bit
		d.rose &^= bit
		return false, true
	}
	return false, false
}

// IsAsserted reports a false→true settled transition on line i once.
func (d *Debouncer) IsAsserted(i int) bool {
	return d.take(&d.rose, i)
}

// IsDeasserted reports a true→false settled transition on line i once.
func (d *Debouncer) IsDeasserted(i int) bool {
	return d.take(&d.fell, i)
}

// State returns the settled level of line i.
func (d *Debouncer) State(i int) bool {
	if i < 0 || i >= MaxPolledLines {
		return false
	}
	return d.settled&(1<<i) != 0
}

// Settled returns the settled levels of every line.
func (d *Debouncer) Settled() uint32 {
	return d.settled
}

// AnyChanged reports whether any edge is latched and not yet taken.
func (d *Debouncer) AnyChanged() bool {
	return d.rose|d.fell != 0
}

// Reset forgets line i: empty history, settled low, no latched edges.
func (d *Debouncer) Reset(i int) {
	if i < 0 || i >= MaxPolledLines {
		return
	}
	bit := uint32(1) << i
	d.history[i] = 0
	d.settled &^= bit
	d.rose &^= bit
	d.fell &^= bit
}

func (d *Debouncer) take(latch *uint32, i int) bool {
	if i < 0 || i >= MaxPolledLines {
		return false
	}
	bit := uint32(1) << i
	if *latch&bit == 0 {
		return false
	}
	*latch &^= bit
	return true
}
