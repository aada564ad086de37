// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deskstream/deskstream/config"
)

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	router := NewRouter(cfg, RouterDeps{
		Metrics: NewMetrics(),
		Port:    8008,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, string(body)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, config.Default())

	resp, body := get(t, server.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var parsed map[string]bool
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("unmarshaling health response: %v", err)
	}
	if !parsed["ok"] {
		t.Errorf("health = %s, want ok:true", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, config.Default())

	resp, body := get(t, server.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "deskstream_sessions_active") {
		t.Error("metrics exposition missing deskstream_sessions_active")
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Runtime.EnableMetrics = false
	server := newTestServer(t, cfg)

	resp, _ := get(t, server.URL+"/metrics")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when metrics disabled", resp.StatusCode)
	}
}

func TestClientsEndpointEmpty(t *testing.T) {
	server := newTestServer(t, config.Default())

	resp, body := get(t, server.URL+"/clients")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("clients = %q, want empty JSON array", body)
	}
}

func TestWSConfigReportsPort(t *testing.T) {
	server := newTestServer(t, config.Default())

	_, body := get(t, server.URL+"/ws-config")
	var parsed map[string]int
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("unmarshaling ws-config: %v", err)
	}
	if parsed["port"] != 8008 {
		t.Errorf("port = %d, want 8008", parsed["port"])
	}
}

func TestUIConfigLockedToggles(t *testing.T) {
	t.Setenv("DESKSTREAM_TARGET_FPS", "60|locked")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	server := newTestServer(t, cfg)

	_, body := get(t, server.URL+"/ui-config")
	var parsed map[string]map[string]uiToggle
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("unmarshaling ui-config: %v", err)
	}
	fps := parsed["settings"]["target_fps"]
	if !fps.Locked {
		t.Error("target_fps not reported locked after |locked override")
	}
	if v, ok := fps.Value.(float64); !ok || v != 60 {
		t.Errorf("target_fps value = %v, want 60", fps.Value)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Enabled = true
	cfg.Auth.Username = "desk"
	cfg.Auth.Password = "stream"
	server := newTestServer(t, cfg)

	resp, _ := get(t, server.URL+"/health")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/health", nil)
	req.SetBasicAuth("desk", "stream")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated GET: %v", err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", authed.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/health", nil)
	req.SetBasicAuth("desk", "wrong")
	bad, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("bad-password GET: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad-password status = %d, want 401", bad.StatusCode)
	}
}
