package printer

import (
	"fmt"
	"strconv"
	"sync"

	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/endstop"
	"klipper-toolx/pkg/errors"
)

// MCU is a controller whose input pins are simulated levels. It owns the
// physical endstops set up on its pins.
type MCU struct {
	mu     sync.RWMutex
	name   string
	serial string
	clock  endstop.Clock
	levels map[string]bool
}

// NewMCU creates a controller. name is the chip name ("mcu" for the
// primary controller).
func NewMCU(name string, clock endstop.Clock) *MCU {
	return &MCU{
		name:   name,
		clock:  clock,
		levels: make(map[string]bool),
	}
}

// GetName returns the chip name.
func (m *MCU) GetName() string {
	return m.name
}

// SetupPin implements Chip. Only endstop pins are supported.
func (m *MCU) SetupPin(pinType string, params PinParams) (any, error) {
	if pinType != "endstop" {
		return nil, errors.PinError(params.Key(), fmt.Sprintf("mcu '%s' does not support pin type '%s'", m.name, pinType))
	}
	pin := params.Pin
	e := endstop.New(endstop.EndstopConfig{
		Name:     params.Key(),
		Pin:      pin,
		Inverted: params.Invert,
		MCU:      m,
		Clock:    m.clock,
	})
	e.SetQueryCallback(func() (bool, error) {
		return m.PinValue(pin), nil
	})
	return e, nil
}

// SetPinValue drives the simulated level of pin.
func (m *MCU) SetPinValue(pin string, level bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
}

// PinValue returns the simulated level of pin; unset pins read low.
func (m *MCU) PinValue(pin string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levels[pin]
}

func (m *MCU) GetStatus(eventtime float64) map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pins := make(map[string]any, len(m.levels))
	for pin, level := range m.levels {
		if level {
			pins[pin] = 1
		} else {
			pins[pin] = 0
		}
	}
	return map[string]any{
		"serial": m.serial,
		"pins":   pins,
	}
}

// LoadMCUs creates a controller for [mcu] and each [mcu <name>] section,
// registering each as a printer object and a pin chip.
func LoadMCUs(p *Printer, cfg *config.Config) error {
	var sections []*config.Section
	if sec := cfg.GetSectionOptional("mcu"); sec != nil {
		sections = append(sections, sec)
	}
	sections = append(sections, cfg.GetPrefixSections("mcu ")...)

	for _, sec := range sections {
		chipName := sec.GetSuffix()
		if chipName == "" {
			chipName = "mcu"
		}
		m := NewMCU(chipName, p.Reactor())
		serial, err := sec.Get("serial", "")
		if err != nil {
			return err
		}
		m.serial = serial
		if err := p.AddObject(sec.GetName(), m); err != nil {
			return err
		}
		if err := p.Pins().RegisterChip(chipName, m); err != nil {
			return err
		}
	}
	return p.GCode().RegisterCommand("SET_SIM_PIN", func(gcmd *Command) error {
		return cmdSetSimPin(p, gcmd)
	}, "Set the simulated level of a controller input pin")
}

func cmdSetSimPin(p *Printer, gcmd *Command) error {
	chipName := gcmd.Get("MCU", "mcu")
	chip, ok := p.Pins().LookupChip(chipName)
	if !ok {
		return errors.ParamError(gcmd.Name, "MCU", fmt.Sprintf("unknown mcu '%s'", chipName))
	}
	m, ok := chip.(*MCU)
	if !ok {
		return errors.ParamError(gcmd.Name, "MCU", fmt.Sprintf("'%s' is not a controller", chipName))
	}
	pin, err := gcmd.GetRequired("PIN")
	if err != nil {
		return err
	}
	value, err := gcmd.GetInt("VALUE", 1)
	if err != nil {
		return err
	}
	if value != 0 && value != 1 {
		return errors.ParamError(gcmd.Name, "VALUE", "must be 0 or 1, got "+strconv.Itoa(value))
	}
	m.SetPinValue(pin, value == 1)
	gcmd.RespondInfo(fmt.Sprintf("%s:%s = %d", chipName, pin, value))
	return nil
}
