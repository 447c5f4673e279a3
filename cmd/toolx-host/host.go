package main

import (
	"fmt"
	"os"

	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/log"
	"klipper-toolx/pkg/printer"
	"klipper-toolx/pkg/reactor"
	"klipper-toolx/pkg/toolprobe"
	"klipper-toolx/pkg/toolx"
)

type host struct {
	printer *printer.Printer
	toolx   *toolx.ToolXRouter
	probe   *toolprobe.ToolProbeEndstop
	homing  *printer.Homing
}

// buildHost loads the objects of printer.cfg in dependency order:
// controllers, the tool detector, the router chip, then the rails that
// reference its virtual pin.
func buildHost(r *reactor.Reactor, logger *log.Logger, path string, observer toolx.Observer) (*host, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return buildHostFromConfig(r, logger, cfg, observer)
}

func buildHostFromConfig(r *reactor.Reactor, logger *log.Logger, cfg *config.Config, observer toolx.Observer) (*host, error) {
	h := &host{printer: printer.New(r, logger.WithPrefix("printer"))}
	h.printer.GCode().RegisterOutputHandler(func(msg string) {
		logger.Info("%s", msg)
	})

	if err := printer.LoadMCUs(h.printer, cfg); err != nil {
		return nil, err
	}
	var err error
	if h.probe, err = toolprobe.Load(h.printer, cfg); err != nil {
		return nil, err
	}
	if h.toolx, err = toolx.Load(h.printer, cfg, observer); err != nil {
		return nil, err
	}
	rails, err := printer.LoadRails(h.printer, cfg)
	if err != nil {
		return nil, err
	}
	if h.homing, err = printer.NewHoming(h.printer, rails); err != nil {
		return nil, err
	}
	if _, err := printer.NewQueryEndstops(h.printer, rails); err != nil {
		return nil, err
	}

	for _, name := range cfg.GetUnusedSections() {
		logger.Warn("Unused config section [%s]", name)
	}
	if err := cfg.CheckUnusedOptions(); err != nil {
		logger.Warn("%v", err)
	}
	if err := h.printer.Connect(); err != nil {
		return nil, err
	}
	return h, nil
}

// runScriptFile runs a G-code file on the reactor.
func (h *host) runScriptFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return h.printer.Run(func() error {
		return h.printer.GCode().RunScript(string(data))
	})
}
