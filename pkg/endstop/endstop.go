// Package endstop provides endstop reading and homing.
package endstop

import (
	"errors"
	"sync"
)

var (
	ErrEndstopTimeout = errors.New("endstop: timeout waiting for trigger")
	ErrNotHoming      = errors.New("endstop: not in homing state")
	ErrNoQuery        = errors.New("endstop: no query callback set")
)

// EndstopState represents the current state of an endstop.
type EndstopState int

const (
	StateOpen EndstopState = iota
	StateTriggered
	StateUnknown
)

func (s EndstopState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// Clock is the time source an Endstop polls against.
// *reactor.Reactor satisfies it.
type Clock interface {
	Monotonic() float64
	Pause(waketime float64) float64
}

// EndstopConfig holds configuration for an endstop.
type EndstopConfig struct {
	Name     string
	Pin      string
	Inverted bool
	MCU      Controller
	Clock    Clock
}

// Endstop is a physical endstop on a controller pin. Its raw level comes
// from the query callback; Inverted flips it.
type Endstop struct {
	mu sync.RWMutex

	name     string
	pin      string
	inverted bool
	mcu      Controller
	clock    Clock

	state       EndstopState
	lastTrigger float64
	steppers    []Stepper

	homing bool
	params HomeParams

	queryState func() (bool, error)
}

// New creates a new endstop.
func New(cfg EndstopConfig) *Endstop {
	return &Endstop{
		name:     cfg.Name,
		pin:      cfg.Pin,
		inverted: cfg.Inverted,
		mcu:      cfg.MCU,
		clock:    cfg.Clock,
		state:    StateUnknown,
	}
}

// SetQueryCallback sets the callback for reading the raw pin level.
func (e *Endstop) SetQueryCallback(fn func() (bool, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryState = fn
}

// Query samples the pin and returns the resulting state.
func (e *Endstop) Query() (EndstopState, error) {
	e.mu.RLock()
	query := e.queryState
	inverted := e.inverted
	e.mu.RUnlock()

	if query == nil {
		return StateUnknown, ErrNoQuery
	}
	triggered, err := query()
	if err != nil {
		return StateUnknown, err
	}
	if inverted {
		triggered = !triggered
	}

	e.mu.Lock()
	if triggered {
		e.state = StateTriggered
	} else {
		e.state = StateOpen
	}
	state := e.state
	e.mu.Unlock()
	return state, nil
}

// GetState returns the last known state.
func (e *Endstop) GetState() EndstopState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// GetName returns the endstop name.
func (e *Endstop) GetName() string {
	return e.name
}

// GetPin returns the pin name.
func (e *Endstop) GetPin() string {
	return e.pin
}

// GetMCU returns the owning controller.
func (e *Endstop) GetMCU() Controller {
	return e.mcu
}

// AddStepper attaches a stepper. Repeats are kept.
func (e *Endstop) AddStepper(s Stepper) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steppers = append(e.steppers, s)
}

// GetSteppers returns a copy of the attached steppers.
func (e *Endstop) GetSteppers() []Stepper {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Stepper(nil), e.steppers...)
}

// HomeStart arms the endstop.
func (e *Endstop) HomeStart(printTime float64, params HomeParams) error {
	if params.SampleCount < 1 {
		params.SampleCount = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queryState == nil {
		return ErrNoQuery
	}
	e.homing = true
	e.params = params
	return nil
}

// HomeWait polls the pin until SampleCount consecutive samples match the
// armed state or the clock reaches homeEndTime.
func (e *Endstop) HomeWait(homeEndTime float64) (float64, error) {
	e.mu.RLock()
	homing := e.homing
	params := e.params
	e.mu.RUnlock()
	if !homing {
		return 0, ErrNotHoming
	}
	defer e.StopHoming()

	matches := 0
	for {
		now := e.clock.Monotonic()
		state, err := e.Query()
		if err != nil {
			return 0, err
		}
		if (state == StateTriggered) == params.Triggered {
			matches++
			if matches >= params.SampleCount {
				e.mu.Lock()
				e.lastTrigger = now
				e.mu.Unlock()
				return now, nil
			}
		} else {
			matches = 0
		}
		if now >= homeEndTime {
			return 0, ErrEndstopTimeout
		}
		e.clock.Pause(now + params.SampleTime)
	}
}

// QueryEndstop reports whether the endstop is triggered.
func (e *Endstop) QueryEndstop(printTime float64) (bool, error) {
	state, err := e.Query()
	if err != nil {
		return false, err
	}
	return state == StateTriggered, nil
}

// StopHoming disarms the endstop.
func (e *Endstop) StopHoming() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.homing = false
}

// IsHoming returns true if homing is active.
func (e *Endstop) IsHoming() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.homing
}

// Status holds endstop status information.
type Status struct {
	Name        string  `json:"name"`
	Pin         string  `json:"pin"`
	State       string  `json:"state"`
	IsHoming    bool    `json:"is_homing"`
	LastTrigger float64 `json:"last_trigger"`
}

// GetStatus returns the current endstop status.
func (e *Endstop) GetStatus() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		Name:        e.name,
		Pin:         e.pin,
		State:       e.state.String(),
		IsHoming:    e.homing,
		LastTrigger: e.lastTrigger,
	}
}

var _ Handle = (*Endstop)(nil)
