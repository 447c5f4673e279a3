package toolx

import "klipper-toolx/pkg/endstop"

// StepperFanout is the append-only list of steppers that every tool
// endstop must carry, so a tool change never loses stepper wiring.
type StepperFanout struct {
	steppers []endstop.Stepper
	registry *Registry
}

// AddStepper appends s and attaches it to every registered endstop.
// Repeats are kept.
func (f *StepperFanout) AddStepper(s endstop.Stepper) {
	f.steppers = append(f.steppers, s)
	if f.registry == nil {
		return
	}
	for _, h := range f.registry.handles() {
		h.AddStepper(s)
	}
}

// Steppers returns a snapshot of the list.
func (f *StepperFanout) Steppers() []endstop.Stepper {
	return append([]endstop.Stepper(nil), f.steppers...)
}
