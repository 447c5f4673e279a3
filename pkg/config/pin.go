package config

import (
	"strings"
)

// Pin represents a parsed pin specification.
type Pin struct {
	Name   string // Pin name (e.g., "PA5", "x_virtual_endstop")
	Chip   string // Chip name (default: "mcu")
	Invert bool   // Inverted logic (! prefix)
	Pullup int    // Pullup: 1 = up (^), -1 = down (~), 0 = none
}

// FullName returns the full pin name including chip prefix if not "mcu".
func (p Pin) FullName() string {
	if p.Chip != "" && p.Chip != "mcu" {
		return p.Chip + ":" + p.Name
	}
	return p.Name
}

// String returns the pin in printer.cfg form, modifiers first.
func (p Pin) String() string {
	var sb strings.Builder
	switch p.Pullup {
	case 1:
		sb.WriteByte('^')
	case -1:
		sb.WriteByte('~')
	}
	if p.Invert {
		sb.WriteByte('!')
	}
	sb.WriteString(p.FullName())
	return sb.String()
}

// PinOptions specifies parsing options for pin specifications.
type PinOptions struct {
	CanInvert bool // Allow ! prefix for inverted logic
	CanPullup bool // Allow ^ and ~ prefixes for pullup/pulldown
}

// ParsePin parses a pin specification string.
// Format: [^|~][!][chip:]pin_name
// Examples: "PA5", "!PA5", "^PA5", "mcu:PA5", "tool_x_router:x_virtual_endstop"
func ParsePin(desc string, opts PinOptions) (Pin, error) {
	d := strings.TrimSpace(desc)
	if d == "" {
		return Pin{}, NewConfigError("", "", "empty pin specification")
	}

	p := Pin{Chip: "mcu"}

	if opts.CanPullup && len(d) > 0 {
		if d[0] == '^' {
			p.Pullup = 1
			d = strings.TrimSpace(d[1:])
		} else if d[0] == '~' {
			p.Pullup = -1
			d = strings.TrimSpace(d[1:])
		}
	}

	if opts.CanInvert && len(d) > 0 && d[0] == '!' {
		p.Invert = true
		d = strings.TrimSpace(d[1:])
	}

	if idx := strings.Index(d, ":"); idx >= 0 {
		p.Chip = strings.TrimSpace(d[:idx])
		d = strings.TrimSpace(d[idx+1:])
		if p.Chip == "" {
			return Pin{}, NewConfigError("", "", "empty chip name in specification: "+desc)
		}
		if strings.ContainsAny(p.Chip, "^~!") {
			return Pin{}, NewConfigError("", "", "invalid pin description: "+desc)
		}
	}

	if d == "" {
		return Pin{}, NewConfigError("", "", "empty pin name in specification: "+desc)
	}
	if strings.ContainsAny(d, "^~!:") {
		return Pin{}, NewConfigError("", "", "invalid pin description: "+desc)
	}

	p.Name = d
	return p, nil
}

// StripModifiers removes pullup and invert prefixes, leaving the
// [chip:]name part used to key shared pins.
func StripModifiers(desc string) string {
	r := strings.NewReplacer("^", "", "~", "", "!", "", " ", "")
	return r.Replace(strings.TrimSpace(desc))
}

// GetPin returns a Pin option value from the section.
func (s *Section) GetPin(option string, opts PinOptions, fallback ...Pin) (Pin, error) {
	key := strings.ToLower(option)
	if v, ok := s.options[key]; ok {
		s.markAccessed(option)
		pin, err := ParsePin(v, opts)
		if err != nil {
			return Pin{}, WrapError(s.name, option, err)
		}
		return pin, nil
	}
	if len(fallback) > 0 {
		s.markAccessed(option)
		return fallback[0], nil
	}
	return Pin{}, ErrMissingOption(s.name, option)
}
