package webhooks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"klipper-toolx/pkg/config"
	"klipper-toolx/pkg/log"
	"klipper-toolx/pkg/printer"
	"klipper-toolx/pkg/reactor"
	"klipper-toolx/pkg/toolx"
)

const testCfg = `
[mcu]
serial: /dev/null

[mcu et0]

[mcu et1]

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
`

type apiHost struct {
	printer *printer.Printer
	server  *Server
	http    *httptest.Server
}

func newAPIHost(t *testing.T) *apiHost {
	t.Helper()
	cfg, err := config.LoadString(testCfg)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	r := reactor.New()
	p := printer.New(r, log.Discard("printer"))
	if err := printer.LoadMCUs(p, cfg); err != nil {
		t.Fatalf("LoadMCUs: %v", err)
	}
	if _, err := toolx.Load(p, cfg, nil); err != nil {
		t.Fatalf("toolx.Load: %v", err)
	}
	rails, err := printer.LoadRails(p, cfg)
	if err != nil {
		t.Fatalf("LoadRails: %v", err)
	}
	if _, err := printer.NewHoming(p, rails); err != nil {
		t.Fatalf("NewHoming: %v", err)
	}
	if err := p.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.Run()

	s := New(p, Config{StatusInterval: 20 * time.Millisecond})
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		r.End()
		r.Wait()
	})
	return &apiHost{printer: p, server: s, http: hs}
}

type wsConn struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID int
	notes  []map[string]any
}

func (h *apiHost) dial(t *testing.T) *wsConn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsConn{t: t, conn: conn}
}

func (c *wsConn) read() map[string]any {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	if err := c.conn.ReadJSON(&msg); err != nil {
		c.t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

// call sends a request and returns its response, keeping any
// notifications received in between.
func (c *wsConn) call(method string, params map[string]any) map[string]any {
	c.t.Helper()
	c.nextID++
	req := map[string]any{"jsonrpc": "2.0", "method": method, "id": c.nextID}
	if params != nil {
		req["params"] = params
	}
	if err := c.conn.WriteJSON(req); err != nil {
		c.t.Fatalf("WriteJSON: %v", err)
	}
	for {
		msg := c.read()
		if id, ok := msg["id"].(float64); ok && int(id) == c.nextID {
			return msg
		}
		c.notes = append(c.notes, msg)
	}
}

// waitFor reads until a notification for method arrives.
func (c *wsConn) waitFor(method string) map[string]any {
	c.t.Helper()
	for i, n := range c.notes {
		if n["method"] == method {
			c.notes = append(c.notes[:i], c.notes[i+1:]...)
			return n
		}
	}
	for {
		msg := c.read()
		if msg["method"] == method {
			return msg
		}
	}
}

func resultMap(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	if e, ok := resp["error"]; ok {
		t.Fatalf("unexpected error: %v", e)
	}
	m, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v, want object", resp["result"])
	}
	return m
}

func errorOf(t *testing.T, resp map[string]any) (int, string) {
	t.Helper()
	e, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("response %v has no error", resp)
	}
	return int(e["code"].(float64)), e["message"].(string)
}

func TestObjectsList(t *testing.T) {
	h := newAPIHost(t)
	c := h.dial(t)

	res := resultMap(t, c.call("printer.objects.list", nil))
	objects, _ := res["objects"].([]any)
	found := false
	for _, o := range objects {
		if o == toolx.ChipName {
			found = true
		}
	}
	if !found {
		t.Errorf("objects = %v, want %s listed", objects, toolx.ChipName)
	}
}

func TestGCodeScriptThenQuery(t *testing.T) {
	h := newAPIHost(t)
	c := h.dial(t)

	resp := c.call("printer.gcode.script", map[string]any{"script": "SET_TOOL_X_ENDSTOP TOOL=1"})
	if resp["result"] != "ok" {
		t.Fatalf("gcode.script = %v, want ok", resp)
	}
	note := c.waitFor("notify_gcode_response")
	if params, _ := note["params"].([]any); len(params) != 1 || params[0] != "// Tool X endstop set to T1" {
		t.Errorf("gcode response = %v", note["params"])
	}

	res := resultMap(t, c.call("printer.objects.query", map[string]any{
		"objects": map[string]any{toolx.ChipName: []string{"active_tool_number"}},
	}))
	status := res["status"].(map[string]any)[toolx.ChipName].(map[string]any)
	if status["active_tool_number"] != float64(1) {
		t.Errorf("active_tool_number = %v, want 1", status["active_tool_number"])
	}
	if _, ok := status["tools"]; ok {
		t.Error("unrequested attribute tools returned")
	}
}

func TestRequestErrors(t *testing.T) {
	h := newAPIHost(t)
	c := h.dial(t)

	tests := []struct {
		name    string
		method  string
		params  map[string]any
		code    int
		message string
	}{
		{"unknown method", "printer.bogus", nil, codeMethodNotFound, "printer.bogus"},
		{"missing script", "printer.gcode.script", nil, codeInvalidParams, "script"},
		{"bad objects", "printer.objects.query", map[string]any{"objects": "x"}, codeInvalidParams, ""},
		{"command error", "printer.gcode.script", map[string]any{"script": "SET_TOOL_X_ENDSTOP"}, codeServerError, "TOOL"},
		{"unbound query", "printer.gcode.script", map[string]any{"script": "QUERY_TOOL_X_ENDSTOP"}, codeServerError, "no active tool detected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := errorOf(t, c.call(tt.method, tt.params))
			if code != tt.code {
				t.Errorf("code = %d, want %d", code, tt.code)
			}
			if !strings.Contains(msg, tt.message) {
				t.Errorf("message = %q, want it to contain %q", msg, tt.message)
			}
		})
	}
}

func TestSubscribePushesStatus(t *testing.T) {
	h := newAPIHost(t)
	h.server.Start()
	c := h.dial(t)

	res := resultMap(t, c.call("printer.objects.subscribe", map[string]any{
		"objects": map[string]any{toolx.ChipName: nil},
	}))
	status := res["status"].(map[string]any)[toolx.ChipName].(map[string]any)
	if status["active_tool_number"] != float64(-1) {
		t.Errorf("initial active_tool_number = %v, want -1", status["active_tool_number"])
	}

	c.call("printer.gcode.script", map[string]any{"script": "SET_TOOL_X_ENDSTOP TOOL=0"})
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		note := c.waitFor("notify_status_update")
		params := note["params"].([]any)
		st := params[0].(map[string]any)[toolx.ChipName].(map[string]any)
		if st["active_tool_number"] == float64(0) {
			return
		}
	}
	t.Error("no status update reported T0")
}

func TestServerInfo(t *testing.T) {
	h := newAPIHost(t)
	c := h.dial(t)

	res := resultMap(t, c.call("server.info", nil))
	if res["klippy_state"] != "ready" {
		t.Errorf("klippy_state = %v, want ready", res["klippy_state"])
	}
	if res["clients"] != float64(1) {
		t.Errorf("clients = %v, want 1", res["clients"])
	}
}

func TestHTTPEndpoints(t *testing.T) {
	h := newAPIHost(t)

	resp, err := http.Post(h.http.URL+"/printer/gcode/script?script="+url.QueryEscape("SET_TOOL_X_ENDSTOP TOOL=1"), "text/plain", nil)
	if err != nil {
		t.Fatalf("POST script: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("script status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(h.http.URL + "/printer/objects/query?" + toolx.ChipName + "=active_tool_number,tools")
	if err != nil {
		t.Fatalf("GET query: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Result struct {
			Status map[string]map[string]any `json:"status"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	st := body.Result.Status[toolx.ChipName]
	if st["active_tool_number"] != float64(1) {
		t.Errorf("active_tool_number = %v, want 1", st["active_tool_number"])
	}
	if tools, _ := st["tools"].([]any); len(tools) != 2 {
		t.Errorf("tools = %v, want 2 entries", st["tools"])
	}

	resp2, err := http.Get(h.http.URL + "/printer/gcode/script")
	if err != nil {
		t.Fatalf("GET script: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET script status = %d, want 405", resp2.StatusCode)
	}
}
