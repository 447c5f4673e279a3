// Tests for the Prometheus HTTP endpoint
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(cfg ServerConfig) (*Server, *ToolXMetrics) {
	tm := NewToolXMetrics()
	tm.RoutingRejected("home_start")
	return NewServer(tm, cfg), tm
}

func TestHandleMetrics(t *testing.T) {
	s, _ := newTestServer(DefaultServerConfig())

	tests := []struct {
		method string
		status int
		body   bool
	}{
		{http.MethodGet, http.StatusOK, true},
		{http.MethodHead, http.StatusOK, false},
		{http.MethodPost, http.StatusMethodNotAllowed, false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/metrics", nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != tt.status {
			t.Errorf("%s status = %d, want %d", tt.method, w.Code, tt.status)
		}
		hasBody := strings.Contains(w.Body.String(), "toolx_routing_errors_total")
		if hasBody != tt.body {
			t.Errorf("%s body = %q", tt.method, w.Body.String())
		}
	}
}

func TestHandleHealthAndReady(t *testing.T) {
	s, _ := newTestServer(DefaultServerConfig())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || w.Body.String() != "OK\n" {
		t.Errorf("/health = %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready before Listen = %d, want 503", w.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Username, cfg.Password = "admin", "secret"
	s, _ := newTestServer(cfg)

	tests := []struct {
		name       string
		user, pass string
		set        bool
		status     int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong password", "admin", "nope", true, http.StatusUnauthorized},
		{"valid", "admin", "secret", true, http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		if tt.set {
			req.SetBasicAuth(tt.user, tt.pass)
		}
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, tt.status)
		}
	}
}

func TestServeAndShutdown(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	s, _ := newTestServer(cfg)

	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `toolx_routing_errors_total{op="home_start"} 1`) {
		t.Errorf("body = %s", body)
	}
	if status := s.GetStatus(); status["running"] != true {
		t.Errorf("GetStatus() = %v", status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve() = %v, want nil after Shutdown", err)
	}
	if s.GetStatus()["running"] != false {
		t.Error("server should report stopped")
	}
}

func TestServeWithoutListen(t *testing.T) {
	s, _ := newTestServer(DefaultServerConfig())
	if err := s.Serve(); err == nil {
		t.Error("expected error from Serve before Listen")
	}
}
