package toolx

import (
	"klipper-toolx/pkg/endstop"
	"klipper-toolx/pkg/errors"
	"klipper-toolx/pkg/log"
)

// NoTool is the tool number meaning "no tool identified".
const NoTool = -1

// routeTarget is what the router forwards to. Exactly one variant is
// installed at a time.
type routeTarget interface {
	tool() int
	getMCU() endstop.Controller
	homeStart(printTime float64, params endstop.HomeParams) error
	homeWait(homeEndTime float64) (float64, error)
	queryEndstop(printTime float64) (bool, error)
}

// boundTarget forwards to one tool's endstop.
type boundTarget struct {
	toolNum int
	handle  endstop.Handle
}

func (b boundTarget) tool() int { return b.toolNum }
func (b boundTarget) getMCU() endstop.Controller { return b.handle.GetMCU() }

func (b boundTarget) homeStart(printTime float64, params endstop.HomeParams) error {
	return b.handle.HomeStart(printTime, params)
}

func (b boundTarget) homeWait(homeEndTime float64) (float64, error) {
	return b.handle.HomeWait(homeEndTime)
}

func (b boundTarget) queryEndstop(printTime float64) (bool, error) {
	return b.handle.QueryEndstop(printTime)
}

// unboundTarget refuses every endstop operation. Only the controller
// lookup degrades, to the host's default controller, so status tooling
// keeps working while homing stays blocked.
type unboundTarget struct {
	defaultMCU func() endstop.Controller
	observer   Observer
}

func (u unboundTarget) tool() int { return NoTool }

func (u unboundTarget) getMCU() endstop.Controller {
	if u.defaultMCU == nil {
		return nil
	}
	return u.defaultMCU()
}

func (u unboundTarget) homeStart(float64, endstop.HomeParams) error {
	return u.reject("home_start")
}

func (u unboundTarget) homeWait(float64) (float64, error) {
	return 0, u.reject("home_wait")
}

func (u unboundTarget) queryEndstop(float64) (bool, error) {
	return false, u.reject("query_endstop")
}

func (u unboundTarget) reject(op string) error {
	u.observer.RoutingRejected(op)
	return errors.RoutingError(op)
}

// EndstopRouter is the X endstop seen by homing. It implements
// endstop.Handle by forwarding to the active tool's endstop.
type EndstopRouter struct {
	log      *log.Logger
	registry *Registry
	fanout   *StepperFanout
	observer Observer

	unbound unboundTarget
	target  routeTarget
}

// NewEndstopRouter creates an unbound router with an empty registry.
// defaultMCU supplies the controller reported while unbound.
func NewEndstopRouter(defaultMCU func() endstop.Controller, logger *log.Logger, observer Observer) *EndstopRouter {
	if logger == nil {
		logger = log.GetLogger("tool_x_router")
	}
	if observer == nil {
		observer = nopObserver{}
	}
	fanout := &StepperFanout{}
	registry := newRegistry(fanout)
	fanout.registry = registry

	r := &EndstopRouter{
		log:      logger,
		registry: registry,
		fanout:   fanout,
		observer: observer,
		unbound:  unboundTarget{defaultMCU: defaultMCU, observer: observer},
	}
	r.target = r.unbound
	return r
}

// Registry returns the tool endstop registry.
func (r *EndstopRouter) Registry() *Registry {
	return r.registry
}

// Fanout returns the stepper fan-out list.
func (r *EndstopRouter) Fanout() *StepperFanout {
	return r.fanout
}

// ActiveTool returns the bound tool, or NoTool and false.
func (r *EndstopRouter) ActiveTool() (int, bool) {
	t := r.target.tool()
	return t, t != NoTool
}

// SetActive binds the router to tool's endstop. Selecting the tool that
// is already active does nothing. An unregistered tool, including
// NoTool, unbinds the router and logs a warning. Reports whether the
// selection changed.
func (r *EndstopRouter) SetActive(tool int) bool {
	if r.target.tool() == tool {
		return false
	}
	r.log.Info("Setting active tool for X endstop to T%d", tool)

	handle, ok := r.registry.Lookup(tool)
	if !ok {
		r.log.WithField("tool", tool).Warn("No ToolXEndstop configured for T%d", tool)
		if r.target.tool() == NoTool {
			return false
		}
		r.target = r.unbound
	} else {
		r.target = boundTarget{toolNum: tool, handle: handle}
	}
	r.observer.ActiveToolChanged(r.target.tool())
	return true
}

// GetMCU returns the active endstop's controller, or the default
// controller while unbound.
func (r *EndstopRouter) GetMCU() endstop.Controller {
	return r.target.getMCU()
}

// AddStepper adds s to the fan-out list.
func (r *EndstopRouter) AddStepper(s endstop.Stepper) {
	r.fanout.AddStepper(s)
}

// GetSteppers returns the fan-out list, whichever tool is active.
func (r *EndstopRouter) GetSteppers() []endstop.Stepper {
	return r.fanout.Steppers()
}

func (r *EndstopRouter) HomeStart(printTime float64, params endstop.HomeParams) error {
	return r.target.homeStart(printTime, params)
}

func (r *EndstopRouter) HomeWait(homeEndTime float64) (float64, error) {
	return r.target.homeWait(homeEndTime)
}

func (r *EndstopRouter) QueryEndstop(printTime float64) (bool, error) {
	return r.target.queryEndstop(printTime)
}

var _ endstop.Handle = (*EndstopRouter)(nil)
