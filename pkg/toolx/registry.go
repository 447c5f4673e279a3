// Package toolx routes the X endstop to the endstop of whichever tool is
// mounted. Each tool registers its own endstop; the router forwards
// homing calls to exactly one of them, or refuses when none is bound.
package toolx

import (
	"fmt"
	"sort"

	"klipper-toolx/pkg/endstop"
	"klipper-toolx/pkg/errors"
)

// Record is one tool's endstop. The handle is owned by the tool's config
// section and only referenced here.
type Record struct {
	Tool   int
	Name   string
	Handle endstop.Handle
}

// Registry maps tool numbers to endstops. Records are never replaced.
type Registry struct {
	records map[int]Record
	order   []int
	fanout  *StepperFanout
}

func newRegistry(fanout *StepperFanout) *Registry {
	return &Registry{
		records: make(map[int]Record),
		fanout:  fanout,
	}
}

// Register stores handle for tool after attaching every known stepper to
// it. A second registration for the same tool fails and changes nothing.
// NoTool is reserved for the unbound router and cannot be registered.
func (r *Registry) Register(tool int, name string, handle endstop.Handle) error {
	if tool == NoTool {
		return errors.ConfigValidationError(name, "tool", fmt.Sprintf("tool number %d is reserved for no tool", tool))
	}
	if _, ok := r.records[tool]; ok {
		return errors.DuplicateRegistration(name, tool)
	}
	for _, s := range r.fanout.Steppers() {
		handle.AddStepper(s)
	}
	r.records[tool] = Record{Tool: tool, Name: name, Handle: handle}
	r.order = append(r.order, tool)
	return nil
}

// Lookup returns the endstop registered for tool.
func (r *Registry) Lookup(tool int) (endstop.Handle, bool) {
	rec, ok := r.records[tool]
	return rec.Handle, ok
}

// Record returns the full record for tool.
func (r *Registry) Record(tool int) (Record, bool) {
	rec, ok := r.records[tool]
	return rec, ok
}

// Tools returns the registered tool numbers in ascending order.
func (r *Registry) Tools() []int {
	out := make([]int, 0, len(r.records))
	for t := range r.records {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// handles returns the registered endstops in registration order.
func (r *Registry) handles() []endstop.Handle {
	out := make([]endstop.Handle, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.records[t].Handle)
	}
	return out
}
