package toolx

import (
	"strings"
	"testing"

	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/errors"
	"klipper-toolx/pkg/log"
	"klipper-toolx/pkg/printer"
	"klipper-toolx/pkg/reactor"
	"klipper-toolx/pkg/toolprobe"
)

const toolChangerCfg = `
[mcu]
serial: /dev/null

[mcu et0]

[mcu et1]

[tool_probe_endstop]

[tool_probe T0]
tool: 0
pin: ^et0:PA1

[tool_probe T1]
tool: 1
pin: ^et1:PA1

[tool_x_router]

[tool_x_endstop t0]
tool: 0
pin: ^et0:PA1

[tool_x_endstop t1]
tool: 1
pin: ^et1:PA1

[stepper_x]
endstop_pin: tool_x_router:x_virtual_endstop
position_max: 1
homing_speed: 100

[stepper_y]
endstop_pin: PA2
position_max: 1
homing_speed: 100
`

type toolHost struct {
	printer *printer.Printer
	tx      *ToolXRouter
	homing  *printer.Homing
	output  []string
}

func newToolHost(t *testing.T, data string) *toolHost {
	t.Helper()
	cfg, err := config.LoadString(data)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	r := reactor.New()
	t.Cleanup(r.End)

	h := &toolHost{printer: printer.New(r, log.Discard("printer"))}
	h.printer.GCode().RegisterOutputHandler(func(msg string) {
		h.output = append(h.output, msg)
	})
	if err := printer.LoadMCUs(h.printer, cfg); err != nil {
		t.Fatalf("LoadMCUs: %v", err)
	}
	if _, err := toolprobe.Load(h.printer, cfg); err != nil {
		t.Fatalf("toolprobe.Load: %v", err)
	}
	if h.tx, err = Load(h.printer, cfg, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	rails, err := printer.LoadRails(h.printer, cfg)
	if err != nil {
		t.Fatalf("LoadRails: %v", err)
	}
	if h.homing, err = printer.NewHoming(h.printer, rails); err != nil {
		t.Fatalf("NewHoming: %v", err)
	}
	if _, err := printer.NewQueryEndstops(h.printer, rails); err != nil {
		t.Fatalf("NewQueryEndstops: %v", err)
	}
	if err := h.printer.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return h
}

func (h *toolHost) setPin(t *testing.T, chip, pin string, level bool) {
	t.Helper()
	c, ok := h.printer.Pins().LookupChip(chip)
	if !ok {
		t.Fatalf("no chip %s", chip)
	}
	c.(*printer.MCU).SetPinValue(pin, level)
}

func (h *toolHost) lastOutput() string {
	if len(h.output) == 0 {
		return ""
	}
	return h.output[len(h.output)-1]
}

func TestLoadToolChanger(t *testing.T) {
	h := newToolHost(t, toolChangerCfg)
	reg := h.tx.Router().Registry()

	if tools := reg.Tools(); len(tools) != 2 || tools[0] != 0 || tools[1] != 1 {
		t.Fatalf("Tools() = %v, want [0 1]", tools)
	}
	for _, tool := range reg.Tools() {
		rec, _ := reg.Record(tool)
		steppers := rec.Handle.GetSteppers()
		if len(steppers) != 1 || steppers[0].GetName() != "stepper_x" {
			t.Errorf("T%d steppers = %v, want [stepper_x]", tool, steppers)
		}
		pe, ok := rec.Handle.(*ProbeEndstop)
		if !ok {
			t.Fatalf("T%d handle is %T, want *ProbeEndstop", tool, rec.Handle)
		}
		if pe.GetPositionEndstop() != 0 {
			t.Errorf("T%d position endstop = %v, want 0", tool, pe.GetPositionEndstop())
		}
	}
	if rec, _ := reg.Record(1); rec.Name != "tool_x_endstop t1" || rec.Handle.GetMCU().GetName() != "et1" {
		t.Errorf("T1 record = %s on %s", rec.Name, rec.Handle.GetMCU().GetName())
	}
	if !h.tx.Trigger().HasDetector() {
		t.Error("detector should be resolved on connect")
	}
	if _, bound := h.tx.Router().ActiveTool(); bound {
		t.Error("router should start unbound")
	}
	if h.tx.Router().GetMCU().GetName() != "mcu" {
		t.Errorf("unbound GetMCU = %s, want mcu", h.tx.Router().GetMCU().GetName())
	}
}

func TestHomeXDetectsTool(t *testing.T) {
	h := newToolHost(t, toolChangerCfg)
	// T1 mounted: its probe reads open, T0's is triggered
	h.setPin(t, "et0", "PA1", true)
	h.setPin(t, "et1", "PA1", false)
	h.printer.RegisterHomeRailsBeginHandler(func(*printer.HomingState, []*printer.Rail) error {
		h.setPin(t, "et1", "PA1", true)
		return nil
	})

	if err := h.printer.GCode().RunScript("G28 X"); err != nil {
		t.Fatalf("G28 X: %v", err)
	}
	if tool, bound := h.tx.Router().ActiveTool(); !bound || tool != 1 {
		t.Errorf("ActiveTool() = %d, %v, want 1, true", tool, bound)
	}
	if h.homing.GetStatus(0)["homed_axes"] != "x" {
		t.Errorf("homed_axes = %v, want x", h.homing.GetStatus(0)["homed_axes"])
	}
	status := h.tx.GetStatus(0)
	if status["active_tool_number"] != 1 {
		t.Errorf("active_tool_number = %v, want 1", status["active_tool_number"])
	}
	if tools, _ := status["tools"].([]int); len(tools) != 2 {
		t.Errorf("tools = %v, want [0 1]", status["tools"])
	}
}

func TestHomeXNoToolDetected(t *testing.T) {
	h := newToolHost(t, toolChangerCfg)
	h.tx.SetActiveTool(0)
	h.setPin(t, "et0", "PA1", true)
	h.setPin(t, "et1", "PA1", true)

	err := h.printer.GCode().RunScript("G28 X")
	if !errors.IsRouting(err) {
		t.Fatalf("G28 X err = %v, want routing error", err)
	}
	if _, bound := h.tx.Router().ActiveTool(); bound {
		t.Error("an undetermined detection should leave the router unbound")
	}
	if h.homing.GetStatus(0)["homed_axes"] != "" {
		t.Error("X must not be homed")
	}
}

func TestHomeYSkipsDetection(t *testing.T) {
	h := newToolHost(t, toolChangerCfg)
	h.tx.SetActiveTool(0)
	h.setPin(t, "mcu", "PA2", true)
	h.setPin(t, "et0", "PA1", true)
	h.setPin(t, "et1", "PA1", true)

	if err := h.printer.GCode().RunScript("G28 Y"); err != nil {
		t.Fatalf("G28 Y: %v", err)
	}
	if tool, _ := h.tx.Router().ActiveTool(); tool != 0 {
		t.Errorf("active tool = %d, want 0", tool)
	}
}

func TestHomeXWithoutDetector(t *testing.T) {
	data := strings.Replace(toolChangerCfg, "[tool_probe_endstop]", "", 1)
	data = strings.Replace(data, "[tool_probe T0]\ntool: 0\npin: ^et0:PA1\n", "", 1)
	data = strings.Replace(data, "[tool_probe T1]\ntool: 1\npin: ^et1:PA1\n", "", 1)
	h := newToolHost(t, data)
	if h.tx.Trigger().HasDetector() {
		t.Fatal("HasDetector() = true without [tool_probe_endstop]")
	}

	if err := h.printer.GCode().RunScript("G28 X"); !errors.IsRouting(err) {
		t.Errorf("G28 X err = %v, want routing error", err)
	}

	h.setPin(t, "et0", "PA1", true)
	if err := h.printer.GCode().RunScript("SET_TOOL_X_ENDSTOP TOOL=0\nG28 X"); err != nil {
		t.Fatalf("G28 X: %v", err)
	}
	if tool, _ := h.tx.Router().ActiveTool(); tool != 0 {
		t.Errorf("active tool = %d, want 0", tool)
	}
}

func TestToolXCommands(t *testing.T) {
	h := newToolHost(t, toolChangerCfg)
	g := h.printer.GCode()

	if err := g.RunScript("QUERY_TOOL_X_ENDSTOP"); !errors.IsRouting(err) {
		t.Errorf("unbound QUERY_TOOL_X_ENDSTOP err = %v, want routing error", err)
	}
	if err := g.RunScript("QUERY_ENDSTOPS"); !errors.IsRouting(err) {
		t.Errorf("unbound QUERY_ENDSTOPS err = %v, want routing error", err)
	}

	h.setPin(t, "et0", "PA1", true)
	if err := g.RunScript("SET_TOOL_X_ENDSTOP TOOL=0"); err != nil {
		t.Fatalf("SET_TOOL_X_ENDSTOP: %v", err)
	}
	if h.lastOutput() != "// Tool X endstop set to T0" {
		t.Errorf("output = %q", h.lastOutput())
	}
	if err := g.RunScript("QUERY_TOOL_X_ENDSTOP"); err != nil {
		t.Fatalf("QUERY_TOOL_X_ENDSTOP: %v", err)
	}
	if h.lastOutput() != "// Tool X endstop: T0 (tool_x_endstop t0) TRIGGERED" {
		t.Errorf("output = %q", h.lastOutput())
	}
	if err := g.RunScript("QUERY_ENDSTOPS"); err != nil {
		t.Fatalf("QUERY_ENDSTOPS: %v", err)
	}
	if h.lastOutput() != "// x:TRIGGERED y:open" {
		t.Errorf("output = %q", h.lastOutput())
	}

	if err := g.RunScript("SET_TOOL_X_ENDSTOP TOOL=9"); err != nil {
		t.Fatalf("SET_TOOL_X_ENDSTOP TOOL=9: %v", err)
	}
	if _, bound := h.tx.Router().ActiveTool(); bound {
		t.Error("unknown tool should unbind")
	}
	if !strings.Contains(h.lastOutput(), "unbound") {
		t.Errorf("output = %q", h.lastOutput())
	}

	for _, script := range []string{"SET_TOOL_X_ENDSTOP", "SET_TOOL_X_ENDSTOP TOOL=x"} {
		if err := g.RunScript(script); !errors.Is(err, errors.ErrGCodeParam) {
			t.Errorf("%s err = %v, want param error", script, err)
		}
	}
}

func TestVirtualPinRejections(t *testing.T) {
	tests := []struct {
		pin  string
		want string
	}{
		{"!tool_x_router:x_virtual_endstop", "Can not pullup/invert tool X virtual endstop"},
		{"^tool_x_router:x_virtual_endstop", "Can not pullup/invert tool X virtual endstop"},
		{"tool_x_router:y_virtual_endstop", "Tool X virtual endstop only useful as endstop pin"},
	}
	for _, tt := range tests {
		t.Run(tt.pin, func(t *testing.T) {
			data := strings.Replace(toolChangerCfg, "tool_x_router:x_virtual_endstop", tt.pin, 1)
			cfg, _ := config.LoadString(data)
			p := printer.New(reactor.New(), log.Discard("printer"))
			if err := printer.LoadMCUs(p, cfg); err != nil {
				t.Fatalf("LoadMCUs: %v", err)
			}
			if _, err := Load(p, cfg, nil); err != nil {
				t.Fatalf("Load: %v", err)
			}
			_, err := printer.LoadRails(p, cfg)
			if !errors.Is(err, errors.ErrConfigPin) {
				t.Fatalf("LoadRails err = %v, want pin error", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSetupPinWrongType(t *testing.T) {
	h := newToolHost(t, toolChangerCfg)
	_, err := h.tx.SetupPin("digital_out", printer.PinParams{ChipName: ChipName, Pin: VirtualPinName})
	if !errors.Is(err, errors.ErrConfigPin) {
		t.Errorf("SetupPin(digital_out) err = %v, want pin error", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
		code    errors.ErrorCode
	}{
		{"duplicate tool", [2]string{"tool: 1\npin: ^et1:PA1\n\n[stepper_x]", "tool: 0\npin: ^et1:PA1\n\n[stepper_x]"}, errors.ErrConfigDuplicate},
		{"unknown chip", [2]string{"pin: ^et1:PA1\n\n[stepper_x]", "pin: ^et9:PA1\n\n[stepper_x]"}, errors.ErrConfigPin},
		{"modifier after chip", [2]string{"pin: ^et1:PA1\n\n[stepper_x]", "pin: et1:^PA1\n\n[stepper_x]"}, errors.ErrConfigPin},
		{"empty pin name", [2]string{"pin: ^et1:PA1\n\n[stepper_x]", "pin: ^et1:\n\n[stepper_x]"}, errors.ErrConfigPin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := strings.Replace(toolChangerCfg, tt.replace[0], tt.replace[1], 1)
			if data == toolChangerCfg {
				t.Fatal("replacement did not apply")
			}
			cfg, _ := config.LoadString(data)
			p := printer.New(reactor.New(), log.Discard("printer"))
			if err := printer.LoadMCUs(p, cfg); err != nil {
				t.Fatalf("LoadMCUs: %v", err)
			}
			if _, err := Load(p, cfg, nil); !errors.Is(err, tt.code) {
				t.Errorf("Load err = %v, want %s", err, tt.code)
			}
		})
	}

	cfg, _ := config.LoadString("[tool_x_endstop t0]\ntool: -1\npin: PA1\n")
	p := printer.New(reactor.New(), log.Discard("printer"))
	if _, err := Load(p, cfg, nil); err == nil {
		t.Error("expected an error for a negative tool number")
	}
}

func TestLoadWithoutSections(t *testing.T) {
	cfg, _ := config.LoadString("[mcu]\n")
	p := printer.New(reactor.New(), log.Discard("printer"))
	tx, err := Load(p, cfg, nil)
	if err != nil || tx != nil {
		t.Errorf("Load = %v, %v, want nil, nil", tx, err)
	}
	if p.GCode().HasCommand("SET_TOOL_X_ENDSTOP") {
		t.Error("commands should not be registered without configuration")
	}
}

func TestLoadDetectorOptions(t *testing.T) {
	data := strings.Replace(toolChangerCfg, "[tool_x_router]",
		"[tool_x_router]\ndetector: tool_sensor\ndetection_command: QUERY_TOOL_SENSOR", 1)
	h := newToolHost(t, data)
	if h.tx.Trigger().HasDetector() {
		t.Error("tool_sensor does not exist and should not resolve")
	}
}
