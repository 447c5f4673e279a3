package toolx

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"klipper-toolx/pkg/endstop"
	"klipper-toolx/pkg/log"
)

const (
	DefaultDetector         = "tool_probe_endstop"
	DefaultDetectionCommand = "DETECT_ACTIVE_TOOL_PROBE"
)

// ScriptRunner runs G-code from inside a running command.
type ScriptRunner interface {
	RunScriptFromCommand(script string) error
}

// StatusProvider is the detector as seen by the trigger.
type StatusProvider interface {
	GetStatus(eventtime float64) map[string]any
}

// Clock supplies the time passed to the detector status read and used to
// time detections.
type Clock interface {
	Monotonic() float64
}

// Rail is a group of steppers about to be homed.
type Rail interface {
	GetSteppers() []endstop.Stepper
}

// ObjectLookup finds a host object by name.
type ObjectLookup func(name string) (any, bool)

type detectorStatus struct {
	ActiveToolNumber int `mapstructure:"active_tool_number"`
}

// DetectionTrigger rebinds the router when X homing begins. It runs the
// detector's command, reads the detected tool from the detector status
// and selects it on the router.
type DetectionTrigger struct {
	router   *EndstopRouter
	gcode    ScriptRunner
	clock    Clock
	log      *log.Logger
	observer Observer

	detectorName string
	command      string

	resolved bool
	detector StatusProvider
}

// NewDetectionTrigger creates a trigger with no detector. Call Resolve
// once every host object exists.
func NewDetectionTrigger(router *EndstopRouter, gcode ScriptRunner, clock Clock, logger *log.Logger) *DetectionTrigger {
	if logger == nil {
		logger = router.log
	}
	return &DetectionTrigger{
		router:       router,
		gcode:        gcode,
		clock:        clock,
		log:          logger,
		observer:     router.observer,
		detectorName: DefaultDetector,
		command:      DefaultDetectionCommand,
	}
}

// SetDetector changes the detector object name and the command run to
// refresh it. Empty values keep the defaults.
func (t *DetectionTrigger) SetDetector(name, command string) {
	if name != "" {
		t.detectorName = name
	}
	if command != "" {
		t.command = command
	}
}

// Resolve looks up the detector. Only the first call has an effect; a
// missing detector disables detection for the rest of the run.
func (t *DetectionTrigger) Resolve(lookup ObjectLookup) {
	if t.resolved {
		return
	}
	t.resolved = true

	obj, ok := lookup(t.detectorName)
	if ok {
		if sp, isSP := obj.(StatusProvider); isSP {
			t.detector = sp
			return
		}
	}
	t.log.Warn("%s NOT found. Detection will not work.", t.detectorName)
}

// HasDetector reports whether Resolve found a detector.
func (t *DetectionTrigger) HasDetector() bool {
	return t.detector != nil
}

// HomeRailsBegin handles the start of homing. Only rails moving X
// trigger detection. A failing detection command is returned; a missing
// detector or an undetermined result is logged and homing continues
// against whatever the router is bound to afterwards.
func (t *DetectionTrigger) HomeRailsBegin(rails []Rail) error {
	axes := mapset.NewThreadUnsafeSet[byte]()
	for _, rail := range rails {
		for _, s := range rail.GetSteppers() {
			for _, a := range []byte("xyz") {
				if s.IsActiveAxis(a) {
					axes.Add(a)
				}
			}
		}
	}
	if !axes.Contains('x') {
		return nil
	}

	t.log.Info("X homing detected. Triggering tool detection.")
	if t.detector == nil {
		t.log.Error("Cannot detect tool - %s missing.", t.detectorName)
		t.observer.DetectionFinished(DetectionUnavailable, 0)
		return nil
	}

	entry := t.log.WithField("attempt", uuid.NewString())
	start := t.clock.Monotonic()
	if err := t.gcode.RunScriptFromCommand(t.command); err != nil {
		entry.WithError(err).Error("%s failed", t.command)
		t.observer.DetectionFinished(DetectionFailed, t.clock.Monotonic()-start)
		return err
	}

	tool := t.readDetectedTool(entry)
	result := DetectionDetected
	if tool == NoTool {
		result = DetectionUndetermined
		entry.Warn("Detection could not identify the mounted tool")
	} else {
		entry.WithField("tool", tool).Debug("Detected T%d", tool)
	}
	t.observer.DetectionFinished(result, t.clock.Monotonic()-start)

	t.router.SetActive(tool)
	return nil
}

// readDetectedTool reads active_tool_number from the detector status.
// A missing or unreadable value counts as NoTool.
func (t *DetectionTrigger) readDetectedTool(entry *log.Entry) int {
	status := t.detector.GetStatus(t.clock.Monotonic())
	out := detectorStatus{ActiveToolNumber: NoTool}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err == nil {
		err = dec.Decode(status)
	}
	if err != nil {
		entry.WithError(err).Error("Unreadable %s status", t.detectorName)
		return NoTool
	}
	return out.ActiveToolNumber
}
