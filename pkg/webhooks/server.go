// Package webhooks serves the host API: JSON-RPC 2.0 over a websocket,
// plus a few plain HTTP endpoints. Every request runs on the reactor.
package webhooks

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"

	"klipper-toolx/pkg/errors"
	"klipper-toolx/pkg/log"
	"klipper-toolx/pkg/printer"
	"klipper-toolx/pkg/reactor"
)

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type Config struct {
	Address        string
	StatusInterval time.Duration
}

// Server is the websocket API of one printer.
type Server struct {
	printer  *printer.Printer
	log      *log.Logger
	cfg      Config
	upgrader websocket.Upgrader
	http     *http.Server

	mu       sync.RWMutex
	clients  map[int64]*client
	listener net.Listener
	nextID   atomic.Int64
	timer    *reactor.Timer
}

func New(p *printer.Printer, cfg Config) *Server {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 250 * time.Millisecond
	}
	s := &Server{
		printer: p,
		log:     p.Logger().WithPrefix("webhooks"),
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[int64]*client),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/printer/objects/list", s.handleObjectsList)
	mux.HandleFunc("/printer/objects/query", s.handleObjectsQuery)
	mux.HandleFunc("/printer/gcode/script", s.handleGCodeScript)
	s.http = &http.Server{Addr: cfg.Address, Handler: mux}

	p.GCode().RegisterOutputHandler(s.broadcastGCodeResponse)
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Listen binds the configured address and starts the status push timer.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.Start()
	s.log.Info("API server listening on %s", ln.Addr())
	return nil
}

// Serve blocks serving the listener from Listen until Shutdown.
func (s *Server) Serve() error {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return stderrors.New("webhooks: Serve called before Listen")
	}
	if err := s.http.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Address
}

// Shutdown closes every websocket client and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[int64]*client)
	timer := s.timer
	s.timer = nil
	s.mu.Unlock()

	if timer != nil {
		s.printer.Reactor().UnregisterTimer(timer)
	}
	for _, c := range clients {
		c.close()
	}
	return s.http.Shutdown(ctx)
}

// Start begins pushing notify_status_update to subscribers every
// StatusInterval. Listen calls it.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return
	}
	interval := s.cfg.StatusInterval.Seconds()
	s.timer = s.printer.Reactor().RegisterTimer(func(eventtime float64) float64 {
		s.pushStatus(eventtime)
		return eventtime + interval
	}, reactor.NOW)
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// pushStatus runs on the reactor and sends every subscriber the current
// status of its subscribed objects.
func (s *Server) pushStatus(eventtime float64) {
	for _, c := range s.snapshotClients() {
		subs := c.subscriptions()
		if len(subs) == 0 {
			continue
		}
		status := s.queryStatus(subs, eventtime)
		if len(status) == 0 {
			continue
		}
		c.send(notification{
			JSONRPC: "2.0",
			Method:  "notify_status_update",
			Params:  []any{status, eventtime},
		})
	}
}

func (s *Server) broadcastGCodeResponse(msg string) {
	for _, c := range s.snapshotClients() {
		c.send(notification{
			JSONRPC: "2.0",
			Method:  "notify_gcode_response",
			Params:  []any{msg},
		})
	}
}

// queryStatus returns the status of each object, reduced to attrs when
// attrs is non-empty. Must run on the reactor.
func (s *Server) queryStatus(objects map[string][]string, eventtime float64) map[string]map[string]any {
	names := make([]string, 0, len(objects))
	for name := range objects {
		names = append(names, name)
	}
	sort.Strings(names)

	full := s.printer.QueryStatus(names, eventtime)
	out := make(map[string]map[string]any, len(full))
	for name, status := range full {
		attrs := objects[name]
		if len(attrs) == 0 {
			out[name] = status
			continue
		}
		filtered := make(map[string]any, len(attrs))
		for _, a := range attrs {
			if v, ok := status[a]; ok {
				filtered[a] = v
			}
		}
		out[name] = filtered
	}
	return out
}

// rpcError is an error with a JSON-RPC code.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return e.Message
}

type objectsParams struct {
	Objects map[string][]string `mapstructure:"objects"`
}

type scriptParams struct {
	Script string `mapstructure:"script"`
}

func decodeParams(params map[string]any, out any) error {
	if err := mapstructure.Decode(params, out); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	return nil
}

// dispatch runs method. c is nil for plain HTTP requests.
func (s *Server) dispatch(method string, params map[string]any, c *client) (any, error) {
	switch method {
	case "server.info":
		return s.serverInfo(), nil
	case "printer.objects.list":
		return s.objectsList()
	case "printer.objects.query":
		var p objectsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return s.objectsQuery(p.Objects)
	case "printer.objects.subscribe":
		if c == nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: "subscription requires a websocket connection"}
		}
		var p objectsParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		c.subscribe(p.Objects)
		return s.objectsQuery(p.Objects)
	case "printer.gcode.script":
		var p scriptParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Script == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "missing 'script' parameter"}
		}
		return s.gcodeScript(p.Script)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "Method not found: " + method}
	}
}

func (s *Server) serverInfo() map[string]any {
	state := "startup"
	if s.printer.IsConnected() {
		state = "ready"
	}
	return map[string]any{
		"klippy_state": state,
		"clients":      s.ClientCount(),
	}
}

func (s *Server) objectsList() (any, error) {
	var names []string
	err := s.printer.Run(func() error {
		names = s.printer.StatusObjects()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"objects": names}, nil
}

func (s *Server) objectsQuery(objects map[string][]string) (any, error) {
	var eventtime float64
	var status map[string]map[string]any
	err := s.printer.Run(func() error {
		eventtime = s.printer.Monotonic()
		status = s.queryStatus(objects, eventtime)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"eventtime": eventtime, "status": status}, nil
}

func (s *Server) gcodeScript(script string) (any, error) {
	err := s.printer.Run(func() error {
		return s.printer.GCode().RunScript(script)
	})
	if err != nil {
		return nil, &rpcError{Code: codeServerError, Message: errors.Message(err)}
	}
	return "ok", nil
}
