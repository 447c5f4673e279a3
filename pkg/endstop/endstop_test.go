package endstop

import (
	"errors"
	"testing"
)

type fakeClock struct {
	now    float64
	pauses int
}

func (c *fakeClock) Monotonic() float64 { return c.now }

func (c *fakeClock) Pause(waketime float64) float64 {
	c.pauses++
	if waketime > c.now {
		c.now = waketime
	}
	return c.now
}

type fakeMCU string

func (m fakeMCU) GetName() string { return string(m) }

type fakeStepper struct {
	name string
	axis byte
}

func (s *fakeStepper) GetName() string { return s.name }
func (s *fakeStepper) IsActiveAxis(axis byte) bool { return s.axis == axis }

func newTestEndstop(inverted bool, level *bool) (*Endstop, *fakeClock) {
	clock := &fakeClock{}
	e := New(EndstopConfig{
		Name:     "et0:PA1",
		Pin:      "PA1",
		Inverted: inverted,
		MCU:      fakeMCU("et0"),
		Clock:    clock,
	})
	e.SetQueryCallback(func() (bool, error) { return *level, nil })
	return e, clock
}

func TestEndstopStateString(t *testing.T) {
	tests := []struct {
		state    EndstopState
		expected string
	}{
		{StateOpen, "open"},
		{StateTriggered, "triggered"},
		{StateUnknown, "unknown"},
		{EndstopState(99), "unknown"},
	}
	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("State %d String() = %s, want %s", tt.state, tt.state.String(), tt.expected)
		}
	}
}

func TestNew(t *testing.T) {
	level := false
	e, _ := newTestEndstop(false, &level)

	if e.GetName() != "et0:PA1" {
		t.Errorf("Name = %s, want et0:PA1", e.GetName())
	}
	if e.GetPin() != "PA1" {
		t.Errorf("Pin = %s, want PA1", e.GetPin())
	}
	if e.GetMCU().GetName() != "et0" {
		t.Errorf("MCU = %s, want et0", e.GetMCU().GetName())
	}
	if e.GetState() != StateUnknown {
		t.Errorf("Initial state = %s, want unknown", e.GetState())
	}
}

func TestQuery(t *testing.T) {
	e := New(EndstopConfig{Name: "x"})
	if state, err := e.Query(); !errors.Is(err, ErrNoQuery) || state != StateUnknown {
		t.Errorf("Query without callback = %s, %v, want unknown, ErrNoQuery", state, err)
	}

	tests := []struct {
		inverted bool
		level    bool
		want     EndstopState
	}{
		{false, false, StateOpen},
		{false, true, StateTriggered},
		{true, false, StateTriggered},
		{true, true, StateOpen},
	}
	for _, tt := range tests {
		level := tt.level
		e, _ := newTestEndstop(tt.inverted, &level)
		state, err := e.Query()
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if state != tt.want {
			t.Errorf("Query(inverted=%v, level=%v) = %s, want %s", tt.inverted, tt.level, state, tt.want)
		}
		if e.GetState() != tt.want {
			t.Errorf("GetState = %s, want %s", e.GetState(), tt.want)
		}
	}
}

func TestQueryError(t *testing.T) {
	e := New(EndstopConfig{Name: "x"})
	boom := errors.New("mcu shutdown")
	e.SetQueryCallback(func() (bool, error) { return false, boom })
	if _, err := e.QueryEndstop(0); !errors.Is(err, boom) {
		t.Errorf("QueryEndstop err = %v, want %v", err, boom)
	}
}

func TestSteppers(t *testing.T) {
	level := false
	e, _ := newTestEndstop(false, &level)
	sx := &fakeStepper{name: "stepper_x", axis: 'x'}

	e.AddStepper(sx)
	e.AddStepper(sx)

	got := e.GetSteppers()
	if len(got) != 2 {
		t.Fatalf("GetSteppers len = %d, want 2", len(got))
	}
	got[0] = nil
	if e.GetSteppers()[0] == nil {
		t.Error("GetSteppers must return a copy")
	}
}

func TestHomeWaitTriggers(t *testing.T) {
	level := false
	e, clock := newTestEndstop(false, &level)

	if err := e.HomeStart(0, HomeParams{SampleTime: 0.01, SampleCount: 2, Triggered: true}); err != nil {
		t.Fatalf("HomeStart: %v", err)
	}
	if !e.IsHoming() {
		t.Error("IsHoming should be true after HomeStart")
	}

	samples := 0
	e.SetQueryCallback(func() (bool, error) {
		samples++
		return samples >= 3, nil
	})

	tt, err := e.HomeWait(1.0)
	if err != nil {
		t.Fatalf("HomeWait: %v", err)
	}
	// samples 3 and 4 match; trigger reported at the fourth sample
	if samples != 4 {
		t.Errorf("samples = %d, want 4", samples)
	}
	if tt != clock.now {
		t.Errorf("trigger time = %v, want %v", tt, clock.now)
	}
	if e.IsHoming() {
		t.Error("HomeWait should disarm the endstop")
	}
	if e.GetStatus().LastTrigger != tt {
		t.Errorf("LastTrigger = %v, want %v", e.GetStatus().LastTrigger, tt)
	}
}

func TestHomeWaitTimeout(t *testing.T) {
	level := false
	e, clock := newTestEndstop(false, &level)

	e.HomeStart(0, HomeParams{SampleTime: 0.1, SampleCount: 1, Triggered: true})
	_, err := e.HomeWait(0.5)
	if !errors.Is(err, ErrEndstopTimeout) {
		t.Fatalf("HomeWait err = %v, want ErrEndstopTimeout", err)
	}
	if clock.now < 0.5 {
		t.Errorf("clock = %v, want >= 0.5", clock.now)
	}
	if e.IsHoming() {
		t.Error("timeout should disarm the endstop")
	}
}

func TestHomeWaitRelease(t *testing.T) {
	level := true
	e, _ := newTestEndstop(false, &level)

	e.HomeStart(0, HomeParams{SampleTime: 0.01, SampleCount: 1, Triggered: false})
	if _, err := e.HomeWait(0.1); !errors.Is(err, ErrEndstopTimeout) {
		t.Errorf("HomeWait while held = %v, want timeout", err)
	}

	level = false
	e.HomeStart(0, HomeParams{SampleTime: 0.01, SampleCount: 1, Triggered: false})
	if _, err := e.HomeWait(100); err != nil {
		t.Errorf("HomeWait after release: %v", err)
	}
}

func TestHomeWaitNotArmed(t *testing.T) {
	level := false
	e, _ := newTestEndstop(false, &level)
	if _, err := e.HomeWait(1); !errors.Is(err, ErrNotHoming) {
		t.Errorf("HomeWait err = %v, want ErrNotHoming", err)
	}
}

func TestHomeStartWithoutQuery(t *testing.T) {
	e := New(EndstopConfig{Name: "x"})
	if err := e.HomeStart(0, DefaultHomeParams()); !errors.Is(err, ErrNoQuery) {
		t.Errorf("HomeStart err = %v, want ErrNoQuery", err)
	}
}
