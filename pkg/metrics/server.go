// HTTP endpoint for Prometheus scraping.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Gatherer renders metrics in Prometheus text format.
type Gatherer interface {
	Gather() string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	// Address to listen on, e.g. ":9100" or "127.0.0.1:9100"
	Address string

	// Optional basic auth credentials
	Username string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves /metrics, /health and /ready.
type Server struct {
	gatherer Gatherer
	cfg      ServerConfig
	server   *http.Server

	mu        sync.RWMutex
	listener  net.Listener
	startTime time.Time
}

func NewServer(g Gatherer, cfg ServerConfig) *Server {
	s := &Server{gatherer: g, cfg: cfg}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Listen binds the configured address. The bound address is available
// from Addr afterwards, which matters for ":0".
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.startTime = time.Now()
	s.mu.Unlock()
	return nil
}

// Serve serves on the listener from Listen, blocking until Shutdown.
func (s *Server) Serve() error {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return errors.New("metrics: Serve called before Listen")
	}
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

func (s *Server) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener != nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := s.gatherer.Gather()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.running() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready\n"))
		return
	}
	_, _ = w.Write([]byte("Ready\n"))
}

// checkAuth verifies basic auth if configured
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if ok &&
		subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) == 1 {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="toolx metrics"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// GetStatus returns server status for diagnostics
func (s *Server) GetStatus() map[string]any {
	status := map[string]any{
		"address": s.Addr(),
		"running": s.running(),
	}
	if s.running() {
		s.mu.RLock()
		status["uptime"] = time.Since(s.startTime).Seconds()
		s.mu.RUnlock()
	}
	return status
}
