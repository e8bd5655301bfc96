package core

import "testing"

func TestStepDirCountsBothDirections(t *testing.T) {
	drv := newFakeDriver()
	table, err := NewTable(StrategyEdge, drv, make([]Slot[Subscription], 2))
	if err != nil {
		t.Fatal(err)
	}
	step := Line{Port: 1, Pin: 0}
	dir := Line{Port: 1, Pin: 1}

	sd, err := NewStepDir(table, step.GPIO(), dir.GPIO())
	if err != nil {
		t.Fatal(err)
	}
	if err := sd.SetActive(true); err != nil {
		t.Fatal(err)
	}
	if cfg, ok := drv.config(step); !ok || cfg.pull != PullDown || cfg.mode != ModeInterruptRising {
		t.Errorf("step config = %+v %v", cfg, ok)
	}
	if cfg, ok := drv.config(dir); !ok || cfg.mode != ModeInput {
		t.Errorf("dir config = %+v %v", cfg, ok)
	}

	drv.set(dir, true)
	for i := 0; i < 3; i++ {
		table.Dispatch(step)
	}
	drv.set(dir, false)
	table.Dispatch(step)

	if sd.Count() != 2 {
		t.Errorf("Count = %d, want 2", sd.Count())
	}

	sd.Reset()
	if sd.Count() != 0 {
		t.Error("Reset did not zero the count")
	}
	if err := sd.SetActive(false); err != nil {
		t.Fatal(err)
	}
	if table.Dispatch(step) || sd.Active() {
		t.Error("step line still live after SetActive(false)")
	}
	if _, ok := drv.config(dir); ok {
		t.Error("dir line still configured after SetActive(false)")
	}
	if err := sd.SetActive(false); err != nil {
		t.Errorf("second SetActive(false): %v", err)
	}
}

func TestStepDirRefusesOwnedLine(t *testing.T) {
	drv := newFakeDriver()
	table, _ := NewTable(StrategyEdge, drv, make([]Slot[Subscription], 2))
	step := Line{Port: 0, Pin: 4}
	dir := Line{Port: 0, Pin: 5}

	other := func(any) {}
	table.Subscribe(step, PullUp, other, "watch")
	sd, _ := NewStepDir(table, step.GPIO(), dir.GPIO())
	if err := sd.SetActive(true); err != ErrLineBusy {
		t.Fatalf("step held elsewhere: err = %v", err)
	}
	if sub, _ := table.Lookup(step); sub.Context != "watch" || sub.Pull != PullUp {
		t.Errorf("owner entry rewritten: %+v", sub)
	}

	table.Unsubscribe(step)
	table.Subscribe(dir, PullNone, other, "watch")
	if err := sd.SetActive(true); err != ErrLineBusy {
		t.Errorf("dir held elsewhere: err = %v", err)
	}
	if sd.Active() {
		t.Error("active after refusal")
	}
}

func TestStepDirInvert(t *testing.T) {
	drv := newFakeDriver()
	table, _ := NewTable(StrategyEdge, drv, make([]Slot[Subscription], 2))
	step := Line{Port: 0, Pin: 4}
	dir := Line{Port: 0, Pin: 5}

	sd, _ := NewStepDir(table, step.GPIO(), dir.GPIO())
	sd.SetInvertDir(true)
	sd.SetActive(true)

	drv.set(dir, true)
	table.Dispatch(step)
	if sd.Count() != -1 {
		t.Errorf("Count = %d, want -1", sd.Count())
	}
}

func TestStepDirNeedsEdgeTable(t *testing.T) {
	table, _ := NewTable(StrategyPolled, newFakeDriver(), make([]Slot[Subscription], 2))
	if _, err := NewStepDir(table, 0, 1); err != ErrStrategy {
		t.Errorf("err = %v, want ErrStrategy", err)
	}
	if _, err := NewStepDir(nil, 0, 1); err != ErrStrategy {
		t.Errorf("nil table: err = %v", err)
	}
}
