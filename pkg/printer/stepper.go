package printer

import (
	"fmt"
	"strings"

	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/endstop"
	"klipper-toolx/pkg/errors"
)

// Stepper is a stepper motor and the cartesian axes it moves.
type Stepper struct {
	name string
	axes string
}

// NewStepper creates a stepper active on the given axes ("x", "xy", ...).
func NewStepper(name, axes string) *Stepper {
	return &Stepper{name: name, axes: axes}
}

func (s *Stepper) GetName() string {
	return s.name
}

// IsActiveAxis reports whether moving the stepper moves axis.
func (s *Stepper) IsActiveAxis(axis byte) bool {
	return strings.IndexByte(s.axes, axis) >= 0
}

// Rail is the stepper group for one axis and its endstop.
type Rail struct {
	name     string
	axis     byte
	steppers []*Stepper
	handle   endstop.Handle
	endName  string

	PositionEndstop   float64
	PositionMin       float64
	PositionMax       float64
	HomingSpeed       float64
	HomingPositiveDir bool
}

// GetName returns the rail's section name.
func (r *Rail) GetName() string {
	return r.name
}

// Axis returns the rail's axis letter.
func (r *Rail) Axis() byte {
	return r.axis
}

// GetSteppers returns the rail's steppers.
func (r *Rail) GetSteppers() []endstop.Stepper {
	out := make([]endstop.Stepper, len(r.steppers))
	for i, s := range r.steppers {
		out[i] = s
	}
	return out
}

// GetEndstop returns the rail endstop and its name ("x", "y", "z").
func (r *Rail) GetEndstop() (endstop.Handle, string) {
	return r.handle, r.endName
}

// kinematicAxes maps a stepper to the axes it moves.
func kinematicAxes(kin string, axis byte) (string, error) {
	switch kin {
	case "cartesian":
		return string(axis), nil
	case "corexy":
		if axis == 'z' {
			return "z", nil
		}
		return "xy", nil
	default:
		return "", fmt.Errorf("unknown kinematics '%s'", kin)
	}
}

// LoadRails builds a rail for each [stepper_x|y|z] section. Each rail's
// endstop_pin is set up through the pin registry and the rail's stepper
// is attached to the resulting endstop.
func LoadRails(p *Printer, cfg *config.Config) ([]*Rail, error) {
	kin := "cartesian"
	if sec := cfg.GetSectionOptional("printer"); sec != nil {
		k, err := sec.GetChoice("kinematics", []string{"cartesian", "corexy"}, "cartesian")
		if err != nil {
			return nil, err
		}
		kin = k
	}

	var rails []*Rail
	for _, axis := range []byte("xyz") {
		name := "stepper_" + string(axis)
		sec := cfg.GetSectionOptional(name)
		if sec == nil {
			continue
		}
		axes, err := kinematicAxes(kin, axis)
		if err != nil {
			return nil, err
		}
		rail, err := loadRail(p, sec, axis, axes)
		if err != nil {
			return nil, err
		}
		if err := p.AddObject(name, rail); err != nil {
			return nil, err
		}
		rails = append(rails, rail)
	}
	return rails, nil
}

func loadRail(p *Printer, sec *config.Section, axis byte, axes string) (*Rail, error) {
	name := sec.GetName()
	for _, opt := range []string{"step_pin", "dir_pin", "enable_pin"} {
		if _, err := sec.Get(opt, ""); err != nil {
			return nil, err
		}
	}
	if _, err := sec.GetFloatAbove("rotation_distance", 0, 40); err != nil {
		return nil, err
	}
	if _, err := sec.GetInt("microsteps", 16); err != nil {
		return nil, err
	}

	pinDesc, err := sec.Get("endstop_pin")
	if err != nil {
		return nil, err
	}
	obj, err := p.Pins().SetupPin("endstop", pinDesc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigPin, errors.Message(err)).
			SetSection(name).SetOption("endstop_pin")
	}
	handle, ok := obj.(endstop.Handle)
	if !ok {
		return nil, errors.ConfigValidationError(name, "endstop_pin", "pin '"+pinDesc+"' is not an endstop")
	}

	rail := &Rail{
		name:     name,
		axis:     axis,
		steppers: []*Stepper{NewStepper(name, axes)},
		handle:   handle,
		endName:  string(axis),
	}
	if rail.PositionEndstop, err = sec.GetFloat("position_endstop", 0); err != nil {
		return nil, err
	}
	if rail.PositionMin, err = sec.GetFloat("position_min", 0); err != nil {
		return nil, err
	}
	if rail.PositionMax, err = sec.GetFloat("position_max"); err != nil {
		return nil, err
	}
	if rail.PositionMax <= rail.PositionMin {
		return nil, errors.ConfigValidationError(name, "position_max", "position_max must be greater than position_min")
	}
	if rail.HomingSpeed, err = sec.GetFloatAbove("homing_speed", 0, 5); err != nil {
		return nil, err
	}
	if rail.HomingPositiveDir, err = sec.GetBool("homing_positive_dir", false); err != nil {
		return nil, err
	}

	for _, s := range rail.steppers {
		handle.AddStepper(s)
	}
	return rail, nil
}

func (r *Rail) GetStatus(eventtime float64) map[string]any {
	return map[string]any{
		"axis":             string(r.axis),
		"position_endstop": r.PositionEndstop,
		"position_min":     r.PositionMin,
		"position_max":     r.PositionMax,
	}
}
