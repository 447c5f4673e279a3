package printer

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/errors"
)

// PinParams is a resolved pin request handed to a chip.
type PinParams struct {
	Chip     Chip
	ChipName string
	Pin      string
	Invert   bool
	Pullup   int
}

// Key returns the chip:pin identity used for sharing checks.
func (pp PinParams) Key() string {
	return pp.ChipName + ":" + pp.Pin
}

// Chip provides pins of a given type. Controllers and virtual pin
// providers both implement it.
type Chip interface {
	SetupPin(pinType string, params PinParams) (any, error)
}

// Pins maps chip names to providers and tracks which pins are in use.
type Pins struct {
	mu         sync.Mutex
	chips      map[string]Chip
	activePins map[string]string
	multiUse   mapset.Set[string]
}

func newPins() *Pins {
	return &Pins{
		chips:      make(map[string]Chip),
		activePins: make(map[string]string),
		multiUse:   mapset.NewSet[string](),
	}
}

// RegisterChip registers a pin provider under name.
func (pp *Pins) RegisterChip(name string, chip Chip) error {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if _, ok := pp.chips[name]; ok {
		return errors.PinError(name, fmt.Sprintf("Duplicate chip name '%s'", name))
	}
	pp.chips[name] = chip
	return nil
}

// LookupChip returns a registered chip.
func (pp *Pins) LookupChip(name string) (Chip, bool) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	c, ok := pp.chips[name]
	return c, ok
}

// AllowMultiUsePin lets the pin named by desc be set up more than once.
// Pullup and invert modifiers in desc are ignored.
func (pp *Pins) AllowMultiUsePin(desc string) error {
	pin, err := config.ParsePin(config.StripModifiers(desc), config.PinOptions{})
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigPin, "Invalid pin description '"+desc+"'").
			SetContext("pin", desc)
	}
	pp.multiUse.Add(pin.Chip + ":" + pin.Name)
	return nil
}

// LookupPin resolves desc to its chip and records the pin as in use.
// A pin may only be looked up once unless AllowMultiUsePin was called.
func (pp *Pins) LookupPin(desc string, opts config.PinOptions) (PinParams, error) {
	pin, err := config.ParsePin(desc, opts)
	if err != nil {
		return PinParams{}, errors.Wrap(err, errors.ErrConfigPin, "Invalid pin description '"+desc+"'").
			SetContext("pin", desc)
	}

	pp.mu.Lock()
	defer pp.mu.Unlock()

	chip, ok := pp.chips[pin.Chip]
	if !ok {
		return PinParams{}, errors.PinError(desc, fmt.Sprintf("Unknown pin chip name '%s'", pin.Chip))
	}
	params := PinParams{
		Chip:     chip,
		ChipName: pin.Chip,
		Pin:      pin.Name,
		Invert:   pin.Invert,
		Pullup:   pin.Pullup,
	}
	key := params.Key()
	if prev, used := pp.activePins[key]; used && !pp.multiUse.Contains(key) {
		return PinParams{}, errors.PinError(desc, fmt.Sprintf("pin %s used multiple times in config (first as '%s')", key, prev))
	}
	pp.activePins[key] = desc
	return params, nil
}

// SetupPin looks up desc and asks its chip for a pin of pinType. Endstop
// pins accept invert and pullup modifiers; the chip decides whether to
// honour them.
func (pp *Pins) SetupPin(pinType, desc string) (any, error) {
	opts := config.PinOptions{CanInvert: true}
	if pinType == "endstop" {
		opts.CanPullup = true
	}
	params, err := pp.LookupPin(desc, opts)
	if err != nil {
		return nil, err
	}
	return params.Chip.SetupPin(pinType, params)
}
