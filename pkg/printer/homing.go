package printer

import (
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"klipper-toolx/pkg/endstop"
	"klipper-toolx/pkg/errors"
	"klipper-toolx/pkg/log"
)

const (
	HomingStartDelay   = 0.001
	EndstopSampleTime  = 0.000015
	EndstopSampleCount = 4

	// homing moves get this much more time than the nominal travel
	homingTimeFactor = 1.5
)

// HomingState describes one G28 request.
type HomingState struct {
	mu    sync.Mutex
	axes  []byte
	homed map[byte]float64
}

// NewHomingState creates the state for homing axes.
func NewHomingState(axes []byte) *HomingState {
	return &HomingState{
		axes:  append([]byte(nil), axes...),
		homed: make(map[byte]float64),
	}
}

// GetAxes returns the axes being homed.
func (hs *HomingState) GetAxes() []byte {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]byte(nil), hs.axes...)
}

// TriggerTime returns when the axis endstop triggered.
func (hs *HomingState) TriggerTime(axis byte) (float64, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	t, ok := hs.homed[axis]
	return t, ok
}

func (hs *HomingState) setHomed(axis byte, t float64) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.homed[axis] = t
}

// Homing implements G28 over the configured rails.
type Homing struct {
	printer *Printer
	log     *log.Logger
	rails   []*Rail
	params  endstop.HomeParams

	mu        sync.Mutex
	homedAxes map[byte]bool
}

// NewHoming registers G28 for rails.
func NewHoming(p *Printer, rails []*Rail) (*Homing, error) {
	h := &Homing{
		printer: p,
		log:     p.Logger().WithPrefix("homing"),
		rails:   rails,
		params: endstop.HomeParams{
			SampleTime:  EndstopSampleTime,
			SampleCount: EndstopSampleCount,
			Triggered:   true,
		},
		homedAxes: make(map[byte]bool),
	}
	if err := p.GCode().RegisterCommand("G28", h.cmdG28, ""); err != nil {
		return nil, err
	}
	if err := p.AddObject("homing", h); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Homing) cmdG28(gcmd *Command) error {
	var axes []byte
	for _, a := range []byte("xyz") {
		if gcmd.Has(string(a)) {
			axes = append(axes, a)
		}
	}
	if len(axes) == 0 {
		axes = []byte("xyz")
	}
	return h.HomeAxes(axes)
}

// HomeAxes homes the rails of axes one after another.
func (h *Homing) HomeAxes(axes []byte) error {
	var rails []*Rail
	for _, a := range axes {
		for _, r := range h.rails {
			if r.axis == a {
				rails = append(rails, r)
			}
		}
	}
	if len(rails) == 0 {
		return nil
	}

	hs := NewHomingState(axes)
	if err := h.printer.SendHomeRailsBegin(hs, rails); err != nil {
		return err
	}
	for _, r := range rails {
		if err := h.homeRail(hs, r); err != nil {
			return err
		}
	}
	h.log.Info("Homed axes %s", strings.ToUpper(string(axes)))
	return nil
}

func (h *Homing) homeRail(hs *HomingState, r *Rail) error {
	h.mu.Lock()
	delete(h.homedAxes, r.axis)
	h.mu.Unlock()

	e, name := r.GetEndstop()
	now := h.printer.Monotonic()
	travel := r.PositionMax - r.PositionMin
	endTime := now + HomingStartDelay + homingTimeFactor*travel/r.HomingSpeed

	if err := e.HomeStart(now+HomingStartDelay, h.params); err != nil {
		return err
	}
	triggerTime, err := e.HomeWait(endTime)
	if err != nil {
		if stderrors.Is(err, endstop.ErrEndstopTimeout) {
			return errors.Wrap(err, errors.ErrGCodeCommand, fmt.Sprintf("No trigger on %s after full movement", name))
		}
		return err
	}
	hs.setHomed(r.axis, triggerTime)

	h.mu.Lock()
	h.homedAxes[r.axis] = true
	h.mu.Unlock()
	return nil
}

func (h *Homing) GetStatus(eventtime float64) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var homed []byte
	for _, a := range []byte("xyz") {
		if h.homedAxes[a] {
			homed = append(homed, a)
		}
	}
	return map[string]any{"homed_axes": string(homed)}
}
