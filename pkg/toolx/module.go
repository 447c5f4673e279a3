// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package toolx

import (
	"fmt"

	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/endstop"
	"klipper-toolx/pkg/errors"
	"klipper-toolx/pkg/log"
	"klipper-toolx/pkg/printer"
)

const (
	ChipName       = "tool_x_router"
	VirtualPinName = "x_virtual_endstop"
)

// ToolXRouter is the [tool_x_router] module. It provides the
// tool_x_router:x_virtual_endstop pin, owns the router and its detection
// trigger, and registers the related G-code commands.
type ToolXRouter struct {
	printer *printer.Printer
	log     *log.Logger
	router  *EndstopRouter
	trigger *DetectionTrigger
}

// NewToolXRouter creates the module and hooks it into p. sec may be nil
// when the section is absent and only [tool_x_endstop] sections exist.
func NewToolXRouter(p *printer.Printer, sec *config.Section, observer Observer) (*ToolXRouter, error) {
	logger := p.Logger().WithPrefix(ChipName)
	defaultMCU := func() endstop.Controller {
		if m := p.DefaultMCU(); m != nil {
			return m
		}
		return nil
	}
	router := NewEndstopRouter(defaultMCU, logger, observer)
	trigger := NewDetectionTrigger(router, p.GCode(), p, logger)

	if sec != nil {
		detector, err := sec.Get("detector", DefaultDetector)
		if err != nil {
			return nil, err
		}
		command, err := sec.Get("detection_command", DefaultDetectionCommand)
		if err != nil {
			return nil, err
		}
		trigger.SetDetector(detector, command)
	}

	tx := &ToolXRouter{
		printer: p,
		log:     logger,
		router:  router,
		trigger: trigger,
	}

	if err := p.Pins().RegisterChip(ChipName, tx); err != nil {
		return nil, err
	}
	if err := p.AddObject(ChipName, tx); err != nil {
		return nil, err
	}
	p.RegisterConnectHandler(tx.handleConnect)
	p.RegisterHomeRailsBeginHandler(tx.handleHomeRailsBegin)

	g := p.GCode()
	if err := g.RegisterCommand("QUERY_TOOL_X_ENDSTOP", tx.cmdQueryToolXEndstop,
		"Report the tool selected for the X endstop and its state"); err != nil {
		return nil, err
	}
	if err := g.RegisterCommand("SET_TOOL_X_ENDSTOP", tx.cmdSetToolXEndstop,
		"Select the tool whose endstop is used for X"); err != nil {
		return nil, err
	}
	return tx, nil
}

// GetName implements config.Module.
func (tx *ToolXRouter) GetName() string {
	return ChipName
}

// Router returns the endstop router.
func (tx *ToolXRouter) Router() *EndstopRouter {
	return tx.router
}

// Trigger returns the detection trigger.
func (tx *ToolXRouter) Trigger() *DetectionTrigger {
	return tx.trigger
}

// AddToolEndstop registers a tool's endstop with the router.
func (tx *ToolXRouter) AddToolEndstop(te *ToolXEndstop) error {
	return tx.router.Registry().Register(te.Tool(), te.GetName(), te.Endstop())
}

// SetActiveTool selects tool for the X endstop.
func (tx *ToolXRouter) SetActiveTool(tool int) bool {
	return tx.router.SetActive(tool)
}

// SetupPin implements printer.Chip for the virtual X endstop pin.
func (tx *ToolXRouter) SetupPin(pinType string, params printer.PinParams) (any, error) {
	if pinType != "endstop" || params.Pin != VirtualPinName {
		return nil, errors.PinError(params.Key(), "Tool X virtual endstop only useful as endstop pin")
	}
	if params.Invert || params.Pullup != 0 {
		return nil, errors.PinError(params.Key(), "Can not pullup/invert tool X virtual endstop")
	}
	return tx.router, nil
}

func (tx *ToolXRouter) handleConnect() error {
	tx.trigger.Resolve(tx.printer.LookupObject)
	return nil
}

func (tx *ToolXRouter) handleHomeRailsBegin(hs *printer.HomingState, rails []*printer.Rail) error {
	rs := make([]Rail, len(rails))
	for i, r := range rails {
		rs[i] = r
	}
	return tx.trigger.HomeRailsBegin(rs)
}

// GetStatus reports the selected tool and the configured tools.
func (tx *ToolXRouter) GetStatus(eventtime float64) map[string]any {
	tool, _ := tx.router.ActiveTool()
	return map[string]any{
		"active_tool_number": tool,
		"tools":              tx.router.Registry().Tools(),
	}
}

func (tx *ToolXRouter) cmdQueryToolXEndstop(gcmd *printer.Command) error {
	triggered, err := tx.router.QueryEndstop(tx.printer.Monotonic())
	if err != nil {
		return err
	}
	tool, _ := tx.router.ActiveTool()
	rec, _ := tx.router.Registry().Record(tool)
	state := "open"
	if triggered {
		state = "TRIGGERED"
	}
	gcmd.RespondInfo(fmt.Sprintf("Tool X endstop: T%d (%s) %s", tool, rec.Name, state))
	return nil
}

func (tx *ToolXRouter) cmdSetToolXEndstop(gcmd *printer.Command) error {
	if !gcmd.Has("TOOL") {
		return errors.ParamError(gcmd.Name, "TOOL", "must be specified")
	}
	tool, err := gcmd.GetInt("TOOL", NoTool)
	if err != nil {
		return err
	}
	tx.router.SetActive(tool)
	if active, bound := tx.router.ActiveTool(); bound {
		gcmd.RespondInfo(fmt.Sprintf("Tool X endstop set to T%d", active))
	} else {
		gcmd.RespondInfo(fmt.Sprintf("No tool X endstop for T%d, X endstop unbound", tool))
	}
	return nil
}
