package toolx

import (
	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/endstop"
	"klipper-toolx/pkg/errors"
	"klipper-toolx/pkg/printer"
)

// ProbeEndstop wraps a tool's probe pin endstop for use as an X endstop.
type ProbeEndstop struct {
	endstop.Handle
}

// GetPositionEndstop reports the endstop position; tool endstops sit at 0.
func (pe *ProbeEndstop) GetPositionEndstop() float64 {
	return 0
}

// ToolXEndstop is a [tool_x_endstop <name>] section: one tool's X endstop.
type ToolXEndstop struct {
	name    string
	tool    int
	pin     string
	endstop *ProbeEndstop
}

// NewToolXEndstop sets up the tool's pin and registers it with tx.
// The pin is shared with the tool's probe, so it is marked multi-use.
func NewToolXEndstop(p *printer.Printer, sec *config.Section, tx *ToolXRouter) (*ToolXEndstop, error) {
	minTool := 0
	tool, err := sec.GetIntWithBounds("tool", &minTool, nil)
	if err != nil {
		return nil, err
	}
	parsed, err := sec.GetPin("pin", config.PinOptions{CanInvert: true, CanPullup: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigPin, errors.Message(err)).
			SetSection(sec.GetName()).SetOption("pin")
	}
	pin := parsed.String()

	pins := p.Pins()
	if err := pins.AllowMultiUsePin(parsed.FullName()); err != nil {
		return nil, err
	}
	obj, err := pins.SetupPin("endstop", pin)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigPin, errors.Message(err)).
			SetSection(sec.GetName()).SetOption("pin")
	}
	handle, ok := obj.(endstop.Handle)
	if !ok {
		return nil, errors.ConfigValidationError(sec.GetName(), "pin", "pin '"+pin+"' is not an endstop")
	}

	te := &ToolXEndstop{
		name:    sec.GetName(),
		tool:    tool,
		pin:     pin,
		endstop: &ProbeEndstop{Handle: handle},
	}
	if err := tx.AddToolEndstop(te); err != nil {
		return nil, err
	}
	return te, nil
}

// GetName implements config.Module.
func (te *ToolXEndstop) GetName() string {
	return te.name
}

func (te *ToolXEndstop) Tool() int {
	return te.tool
}

func (te *ToolXEndstop) Pin() string {
	return te.pin
}

// Endstop returns the wrapped endstop.
func (te *ToolXEndstop) Endstop() *ProbeEndstop {
	return te.endstop
}
