package toolx

import (
	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/printer"
)

// Load builds the [tool_x_router] module and every [tool_x_endstop]
// section. It returns nil when neither is configured. Load must run
// before the rails so the virtual pin exists when stepper_x asks for it.
func Load(p *printer.Printer, cfg *config.Config, observer Observer) (*ToolXRouter, error) {
	sec := cfg.GetSectionOptional(ChipName)
	if sec == nil && len(cfg.GetPrefixSections("tool_x_endstop ")) == 0 {
		return nil, nil
	}

	tx, err := NewToolXRouter(p, sec, observer)
	if err != nil {
		return nil, err
	}

	reg := config.NewRegistry()
	reg.RegisterWithPrefix("tool_x_endstop ", func(s *config.Section) (config.Module, error) {
		return NewToolXEndstop(p, s, tx)
	})
	modules, err := reg.LoadModules(cfg)
	if err != nil {
		return nil, err
	}
	tx.log.Info("Loaded %d tool X endstops", len(modules))
	return tx, nil
}
