// Package toolprobe detects the mounted tool from per-tool probe pins.
// Every tool carries a probe switch; the probe of the mounted tool is the
// only one that reads open.
package toolprobe

import (
	"fmt"
	"sort"
	"strings"

	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/endstop"
	"klipper-toolx/pkg/errors"
	"klipper-toolx/pkg/log"
	"klipper-toolx/pkg/printer"
)

const (
	ObjectName    = "tool_probe_endstop"
	DetectCommand = "DETECT_ACTIVE_TOOL_PROBE"
	noTool        = -1
)

// ToolProbe is a [tool_probe <name>] section.
type ToolProbe struct {
	name    string
	tool    int
	pin     string
	endstop endstop.Handle
}

func (tp *ToolProbe) GetName() string { return tp.name }
func (tp *ToolProbe) Tool() int { return tp.tool }

// Query reports whether the probe switch is triggered.
func (tp *ToolProbe) Query(printTime float64) (bool, error) {
	return tp.endstop.QueryEndstop(printTime)
}

// ToolProbeEndstop is the [tool_probe_endstop] detector.
type ToolProbeEndstop struct {
	printer *printer.Printer
	log     *log.Logger
	probes  map[int]*ToolProbe

	activeTool  int
	activeProbe string
}

// New creates the detector and registers it as the tool_probe_endstop
// object together with its G-code command.
func New(p *printer.Printer) (*ToolProbeEndstop, error) {
	tpe := &ToolProbeEndstop{
		printer:    p,
		log:        p.Logger().WithPrefix(ObjectName),
		probes:     make(map[int]*ToolProbe),
		activeTool: noTool,
	}
	if err := p.AddObject(ObjectName, tpe); err != nil {
		return nil, err
	}
	if err := p.GCode().RegisterCommand(DetectCommand, tpe.cmdDetectActiveToolProbe,
		"Detect the mounted tool from the tool probes"); err != nil {
		return nil, err
	}
	return tpe, nil
}

// GetName implements config.Module.
func (tpe *ToolProbeEndstop) GetName() string {
	return ObjectName
}

// NewToolProbe sets up the probe pin of sec and adds it to the detector.
func (tpe *ToolProbeEndstop) NewToolProbe(sec *config.Section) (*ToolProbe, error) {
	minTool := 0
	tool, err := sec.GetIntWithBounds("tool", &minTool, nil)
	if err != nil {
		return nil, err
	}
	parsed, err := sec.GetPin("pin", config.PinOptions{CanInvert: true, CanPullup: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigPin, errors.Message(err)).
			SetSection(sec.GetName()).SetOption("pin")
	}
	pin := parsed.String()
	pins := tpe.printer.Pins()
	if err := pins.AllowMultiUsePin(parsed.FullName()); err != nil {
		return nil, err
	}
	obj, err := pins.SetupPin("endstop", pin)
	if err != nil {
		return nil, err
	}
	handle, ok := obj.(endstop.Handle)
	if !ok {
		return nil, errors.ConfigValidationError(sec.GetName(), "pin", "pin '"+pin+"' is not an endstop")
	}
	tp := &ToolProbe{name: sec.GetName(), tool: tool, pin: pin, endstop: handle}
	if err := tpe.AddProbe(tp); err != nil {
		return nil, err
	}
	return tp, nil
}

// AddProbe adds tp. Each tool has at most one probe.
func (tpe *ToolProbeEndstop) AddProbe(tp *ToolProbe) error {
	if prev, ok := tpe.probes[tp.tool]; ok {
		return errors.New(errors.ErrConfigDuplicate,
			fmt.Sprintf("Duplicate tool probe for tool %d (already in [%s])", tp.tool, prev.name)).
			SetSection(tp.name)
	}
	tpe.probes[tp.tool] = tp
	return nil
}

// Probes returns the probes ordered by tool number.
func (tpe *ToolProbeEndstop) Probes() []*ToolProbe {
	out := make([]*ToolProbe, 0, len(tpe.probes))
	for _, tp := range tpe.probes {
		out = append(out, tp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tool < out[j].tool })
	return out
}

// DetectActiveTool queries every probe. Exactly one open probe names
// the mounted tool; anything else leaves the tool undetermined.
func (tpe *ToolProbeEndstop) DetectActiveTool() (int, error) {
	now := tpe.printer.Monotonic()
	var open []*ToolProbe
	for _, tp := range tpe.Probes() {
		triggered, err := tp.Query(now)
		if err != nil {
			return noTool, err
		}
		if !triggered {
			open = append(open, tp)
		}
	}

	tpe.activeTool, tpe.activeProbe = noTool, ""
	switch len(open) {
	case 1:
		tpe.activeTool, tpe.activeProbe = open[0].tool, open[0].name
	case 0:
		tpe.log.Warn("All tool probes triggered, no tool mounted")
	default:
		names := make([]string, len(open))
		for i, tp := range open {
			names[i] = tp.name
		}
		tpe.log.Warn("Multiple tool probes open: %s", strings.Join(names, ", "))
	}
	return tpe.activeTool, nil
}

func (tpe *ToolProbeEndstop) cmdDetectActiveToolProbe(gcmd *printer.Command) error {
	tool, err := tpe.DetectActiveTool()
	if err != nil {
		return err
	}
	if tool == noTool {
		gcmd.RespondInfo("No active tool probe detected")
	} else {
		gcmd.RespondInfo(fmt.Sprintf("Active tool probe: T%d (%s)", tool, tpe.activeProbe))
	}
	return nil
}

// GetStatus reports the result of the last detection.
func (tpe *ToolProbeEndstop) GetStatus(eventtime float64) map[string]any {
	return map[string]any{
		"active_tool_number": tpe.activeTool,
		"active_tool_probe":  tpe.activeProbe,
	}
}

// Load builds the detector from [tool_probe_endstop] and every
// [tool_probe <name>] section. It returns nil when the detector section
// is absent.
func Load(p *printer.Printer, cfg *config.Config) (*ToolProbeEndstop, error) {
	if cfg.GetSectionOptional(ObjectName) == nil {
		return nil, nil
	}
	tpe, err := New(p)
	if err != nil {
		return nil, err
	}
	reg := config.NewRegistry()
	reg.RegisterWithPrefix("tool_probe ", func(sec *config.Section) (config.Module, error) {
		return tpe.NewToolProbe(sec)
	})
	if _, err := reg.LoadModules(cfg); err != nil {
		return nil, err
	}
	tpe.log.Debug("Loaded %d tool probes", len(tpe.probes))
	return tpe, nil
}
