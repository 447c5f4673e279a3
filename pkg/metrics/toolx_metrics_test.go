package metrics

import (
	"strings"
	"testing"

	"klipper-toolx/pkg/toolx"
)

var _ toolx.Observer = (*ToolXMetrics)(nil)

func TestToolXMetrics(t *testing.T) {
	tm := NewToolXMetrics()
	if v := tm.ActiveTool.Get(nil); v != -1 {
		t.Errorf("initial active tool = %v, want -1", v)
	}

	tm.ActiveToolChanged(1)
	tm.ActiveToolChanged(-1)
	tm.RoutingRejected("home_start")
	tm.DetectionFinished(toolx.DetectionDetected, 0.002)
	tm.DetectionFinished(toolx.DetectionUnavailable, 0)

	if v := tm.ActiveTool.Get(nil); v != -1 {
		t.Errorf("active tool = %v, want -1", v)
	}
	if v := tm.ToolSelections.Get(Labels{"tool": "1"}); v != 1 {
		t.Errorf("selections of T1 = %d, want 1", v)
	}
	if v := tm.RoutingErrors.Get(Labels{"op": "home_start"}); v != 1 {
		t.Errorf("routing errors = %d, want 1", v)
	}
	if v := tm.Detections.Get(Labels{"result": "unavailable"}); v != 1 {
		t.Errorf("unavailable detections = %d, want 1", v)
	}
	if snap := tm.DetectionSeconds.GetSnapshot(nil); snap.Count != 1 {
		t.Errorf("timed detections = %d, want 1", snap.Count)
	}

	out := tm.Gather()
	for _, want := range []string{
		"toolx_active_tool -1\n",
		`toolx_routing_errors_total{op="home_start"} 1`,
		`toolx_detections_total{result="detected"} 1`,
		"toolx_detection_seconds_count 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Gather() missing %q", want)
		}
	}
}

func TestToolXMetricsFromRouter(t *testing.T) {
	tm := NewToolXMetrics()
	r := toolx.NewEndstopRouter(nil, nil, tm)
	if r.SetActive(3) {
		t.Error("SetActive(3) with no endstops should leave the router unbound")
	}
	r.QueryEndstop(0)

	if v := tm.ToolSelections.Get(Labels{"tool": "-1"}); v != 0 {
		t.Errorf("selections of -1 = %d, want 0", v)
	}
	if v := tm.ActiveTool.Get(nil); v != -1 {
		t.Errorf("active tool = %v, want -1", v)
	}
	if v := tm.RoutingErrors.Get(Labels{"op": "query_endstop"}); v != 1 {
		t.Errorf("query_endstop rejections = %d, want 1", v)
	}
}
