package webhooks

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
	sendQueueSize  = 64
)

type request struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// client is one websocket connection.
type client struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}

	mu   sync.Mutex
	subs map[string][]string
}

func (s *Server) newClient(conn *websocket.Conn) *client {
	return &client{
		id:     s.nextID.Add(1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// send queues msg without blocking; a full queue drops it.
func (c *client) send(msg any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.log.Warn("dropping message to client %d (queue full)", c.id)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.conn.Close()
}

// subscribe replaces the subscription set. A nil attribute list means
// every attribute of the object.
func (c *client) subscribe(objects map[string][]string) {
	subs := make(map[string][]string, len(objects))
	for name, attrs := range objects {
		subs[name] = append([]string(nil), attrs...)
	}
	c.mu.Lock()
	c.subs = subs
	c.mu.Unlock()
}

func (c *client) subscriptions() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return nil
	}
	out := make(map[string][]string, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
		c.server.log.Debug("websocket client %d disconnected", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Warn("websocket read error: %v", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.log.Warn("websocket write error: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) handleMessage(data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		c.send(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "Parse error"}})
		return
	}
	result, err := c.server.dispatch(req.Method, req.Params, c)
	if req.ID == nil {
		return
	}
	if err != nil {
		c.send(response{JSONRPC: "2.0", Error: toRPCError(err), ID: req.ID})
		return
	}
	c.send(response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func toRPCError(err error) *rpcError {
	if re, ok := err.(*rpcError); ok {
		return re
	}
	return &rpcError{Code: codeServerError, Message: err.Error()}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error: %v", err)
		return
	}
	c := s.newClient(conn)
	s.addClient(c)
	s.log.Debug("websocket client %d connected", c.id)

	go c.writePump()
	c.readPump()
}

// HTTP endpoints

func (s *Server) handleObjectsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeResult(w, "printer.objects.list", nil)
}

// handleObjectsQuery takes objects as query keys, each with an optional
// comma separated attribute list: ?tool_x_router&gcode=commands
func (s *Server) handleObjectsQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	objects := make(map[string]any)
	for name, values := range r.URL.Query() {
		var attrs []any
		for _, v := range values {
			for _, a := range splitAttrs(v) {
				attrs = append(attrs, a)
			}
		}
		if len(attrs) == 0 {
			objects[name] = nil
		} else {
			objects[name] = attrs
		}
	}
	s.writeResult(w, "printer.objects.query", map[string]any{"objects": objects})
}

func (s *Server) handleGCodeScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := map[string]any{"script": r.URL.Query().Get("script")}
	if r.Header.Get("Content-Type") == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, &rpcError{Code: codeParseError, Message: "Parse error"})
			return
		}
		params = body
	}
	s.writeResult(w, "printer.gcode.script", params)
}

func (s *Server) writeResult(w http.ResponseWriter, method string, params map[string]any) {
	result, err := s.dispatch(method, params, nil)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, toRPCError(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err *rpcError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": err})
}

func splitAttrs(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool { return r == ',' })
}
