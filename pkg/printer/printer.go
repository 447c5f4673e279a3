// Package printer is the host around the tool X endstop router: the
// object registry, lifecycle events, controllers, pins, G-code dispatch,
// rails, and homing.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package printer

import (
	"fmt"
	"sort"
	"sync"

	"klipper-toolx/pkg/log"
	"klipper-toolx/pkg/reactor"
)

// StatusReporter is implemented by objects that expose status to the API.
type StatusReporter interface {
	GetStatus(eventtime float64) map[string]any
}

// ConnectHandler runs once when all objects are loaded.
type ConnectHandler func() error

// HomeRailsBeginHandler runs before the given rails are homed. An error
// aborts the homing command.
type HomeRailsBeginHandler func(hs *HomingState, rails []*Rail) error

// Printer owns every host object for one run.
type Printer struct {
	mu sync.RWMutex

	log     *log.Logger
	reactor *reactor.Reactor

	objects map[string]any
	order   []string

	connectHandlers   []ConnectHandler
	homeBeginHandlers []HomeRailsBeginHandler
	connected         bool

	pins  *Pins
	gcode *GCode
}

// New creates a printer with its pins and gcode objects registered.
func New(r *reactor.Reactor, logger *log.Logger) *Printer {
	if logger == nil {
		logger = log.GetLogger("printer")
	}
	p := &Printer{
		log:     logger,
		reactor: r,
		objects: make(map[string]any),
	}
	p.pins = newPins()
	p.gcode = newGCode(p, r.NewMutex(false), logger.WithPrefix("gcode"))
	p.objects["pins"] = p.pins
	p.objects["gcode"] = p.gcode
	p.order = append(p.order, "pins", "gcode")
	return p
}

// Reactor returns the host event loop.
func (p *Printer) Reactor() *reactor.Reactor {
	return p.reactor
}

// Monotonic returns the reactor clock.
func (p *Printer) Monotonic() float64 {
	return p.reactor.Monotonic()
}

// Pins returns the pin registry.
func (p *Printer) Pins() *Pins {
	return p.pins
}

// GCode returns the command dispatcher.
func (p *Printer) GCode() *GCode {
	return p.gcode
}

// Logger returns the printer logger.
func (p *Printer) Logger() *log.Logger {
	return p.log
}

// AddObject registers a named object. Names are unique.
func (p *Printer) AddObject(name string, obj any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.objects[name]; ok {
		return fmt.Errorf("printer object '%s' already created", name)
	}
	p.objects[name] = obj
	p.order = append(p.order, name)
	return nil
}

// LookupObject returns a registered object.
func (p *Printer) LookupObject(name string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, ok := p.objects[name]
	return obj, ok
}

// ObjectNames returns registered object names in registration order.
func (p *Printer) ObjectNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// StatusObjects returns the sorted names of objects that report status.
func (p *Printer) StatusObjects() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var names []string
	for name, obj := range p.objects {
		if _, ok := obj.(StatusReporter); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// QueryStatus returns the status of each named object that reports one.
// Unknown names are skipped.
func (p *Printer) QueryStatus(names []string, eventtime float64) map[string]map[string]any {
	out := make(map[string]map[string]any, len(names))
	for _, name := range names {
		obj, ok := p.LookupObject(name)
		if !ok {
			continue
		}
		if sr, ok := obj.(StatusReporter); ok {
			out[name] = sr.GetStatus(eventtime)
		}
	}
	return out
}

// DefaultMCU returns the primary controller, or nil if none is configured.
func (p *Printer) DefaultMCU() *MCU {
	obj, ok := p.LookupObject("mcu")
	if !ok {
		return nil
	}
	m, _ := obj.(*MCU)
	return m
}

// RegisterConnectHandler adds a handler run by Connect.
func (p *Printer) RegisterConnectHandler(fn ConnectHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectHandlers = append(p.connectHandlers, fn)
}

// RegisterHomeRailsBeginHandler adds a handler run at the start of homing.
func (p *Printer) RegisterHomeRailsBeginHandler(fn HomeRailsBeginHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.homeBeginHandlers = append(p.homeBeginHandlers, fn)
}

// Connect runs the connect handlers in registration order. It runs once;
// later calls are no-ops.
func (p *Printer) Connect() error {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = true
	handlers := append([]ConnectHandler(nil), p.connectHandlers...)
	p.mu.Unlock()

	for _, fn := range handlers {
		if err := fn(); err != nil {
			return err
		}
	}
	p.log.Info("Printer connected (%d objects)", len(p.ObjectNames()))
	return nil
}

// IsConnected reports whether Connect has run.
func (p *Printer) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// SendHomeRailsBegin runs the homing begin handlers, stopping at the
// first error.
func (p *Printer) SendHomeRailsBegin(hs *HomingState, rails []*Rail) error {
	p.mu.RLock()
	handlers := append([]HomeRailsBeginHandler(nil), p.homeBeginHandlers...)
	p.mu.RUnlock()

	for _, fn := range handlers {
		if err := fn(hs, rails); err != nil {
			return err
		}
	}
	return nil
}

// Run executes fn on the reactor goroutine and waits for it. It is how
// front ends hand work to the single control thread.
func (p *Printer) Run(fn func() error) error {
	c := p.reactor.RegisterAsyncCallback(func(eventtime float64) interface{} {
		return fn()
	}, reactor.NOW)
	select {
	case <-c.Done():
	case <-p.reactor.Context().Done():
		return reactor.ErrReactorClosed
	}
	if err, ok := c.Result().(error); ok {
		return err
	}
	return nil
}
