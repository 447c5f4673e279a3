package metrics

import "strconv"

// ToolXMetrics records routing and detection events of the tool X
// endstop router. It satisfies toolx.Observer.
type ToolXMetrics struct {
	registry *Registry

	ActiveTool       *Gauge
	ToolSelections   *Counter
	RoutingErrors    *Counter
	Detections       *Counter
	DetectionSeconds *Histogram
}

// NewToolXMetrics creates the metric families in a new registry.
func NewToolXMetrics() *ToolXMetrics {
	tm := &ToolXMetrics{
		registry: NewRegistry(),
		ActiveTool: NewGauge("toolx_active_tool",
			"Tool whose endstop is routed to X, -1 when unbound"),
		ToolSelections: NewCounter("toolx_tool_selections_total",
			"Changes of the routed tool, by new tool"),
		RoutingErrors: NewCounter("toolx_routing_errors_total",
			"X endstop operations refused while unbound"),
		Detections: NewCounter("toolx_detections_total",
			"Tool detections run at the start of X homing, by result"),
		DetectionSeconds: NewHistogram("toolx_detection_seconds",
			"Time spent running the detection command",
			ExponentialBuckets(0.001, 4, 7)),
	}
	tm.ActiveTool.Set(nil, -1)
	tm.registry.MustRegister(tm.ActiveTool)
	tm.registry.MustRegister(tm.ToolSelections)
	tm.registry.MustRegister(tm.RoutingErrors)
	tm.registry.MustRegister(tm.Detections)
	tm.registry.MustRegister(tm.DetectionSeconds)
	return tm
}

func (tm *ToolXMetrics) ActiveToolChanged(tool int) {
	tm.ActiveTool.Set(nil, float64(tool))
	tm.ToolSelections.Inc(Labels{"tool": strconv.Itoa(tool)})
}

func (tm *ToolXMetrics) RoutingRejected(op string) {
	tm.RoutingErrors.Inc(Labels{"op": op})
}

// DetectionFinished counts a detection. Only runs that executed the
// detection command are timed.
func (tm *ToolXMetrics) DetectionFinished(result string, seconds float64) {
	tm.Detections.Inc(Labels{"result": result})
	if result != "unavailable" {
		tm.DetectionSeconds.Observe(nil, seconds)
	}
}

// Registry returns the registry holding the toolx metrics.
func (tm *ToolXMetrics) Registry() *Registry {
	return tm.registry
}

// Gather renders the toolx metrics in Prometheus text format.
func (tm *ToolXMetrics) Gather() string {
	return tm.registry.Gather()
}
