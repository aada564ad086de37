// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/deskstream/deskstream/config"
	"github.com/deskstream/deskstream/session"
)

// RouterDeps wires the HTTP router to the rest of the process. Nil
// handlers disable their routes, except UI: without it, / serves a
// plain-text placeholder.
type RouterDeps struct {
	// Signaling serves GET /webrtc (the signaling WebSocket).
	Signaling http.Handler

	// UI serves the embedded static web UI at /.
	UI http.Handler

	// MCP, when non-nil and enabled in config, serves POST /mcp. The MCP
	// tool surface itself is an external collaborator; the router only
	// mounts it.
	MCP http.Handler

	Sessions *session.Registry
	Metrics  *Metrics

	// Port is the multiplexer's port, reported by /ws-config.
	Port int
}

// NewRouter builds the daemon's HTTP route table, optionally wrapped
// in Basic Auth.
func NewRouter(cfg *config.Config, deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	if deps.UI != nil && cfg.UI.Enabled {
		mux.Handle("/", deps.UI)
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("deskstreamd\n"))
		})
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"ok": true})
	})

	if deps.Metrics != nil && cfg.Runtime.EnableMetrics {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	mux.HandleFunc("GET /clients", func(w http.ResponseWriter, r *http.Request) {
		summaries := []session.Summary{}
		if deps.Sessions != nil {
			summaries = deps.Sessions.Summaries()
		}
		writeJSON(w, summaries)
	})

	mux.HandleFunc("GET /ui-config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, uiConfig(cfg))
	})

	mux.HandleFunc("GET /ws-config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]int{"port": deps.Port})
	})

	if deps.Signaling != nil {
		mux.Handle("GET /webrtc", deps.Signaling)
	}

	if deps.MCP != nil && cfg.Runtime.EnableMCP {
		mux.Handle("POST /mcp", deps.MCP)
	}

	var handler http.Handler = mux
	if cfg.Auth.Enabled {
		handler = basicAuth(cfg.Auth.Username, cfg.Auth.Password, handler)
	}
	return handler
}

// uiToggle is one lockable setting in the /ui-config response: the
// current value plus whether a "|locked" environment override pinned it
// against UI edits.
type uiToggle struct {
	Value  any  `json:"value"`
	Locked bool `json:"locked"`
}

func uiConfig(cfg *config.Config) map[string]map[string]uiToggle {
	return map[string]map[string]uiToggle{
		"settings": {
			"video_codec":         {Value: cfg.Video.Codec, Locked: cfg.Locked("VIDEO_CODEC")},
			"target_fps":          {Value: cfg.Video.TargetFPS, Locked: cfg.Locked("TARGET_FPS")},
			"hardware_encoder":    {Value: cfg.Video.HardwareEncoder, Locked: cfg.Locked("HARDWARE_ENCODER")},
			"pipeline_latency_ms": {Value: cfg.Video.PipelineLatencyMS, Locked: cfg.Locked("PIPELINE_LATENCY_MS")},
		},
	}
}

// basicAuth wraps next with HTTP Basic Auth, comparing in
// constant time.
func basicAuth(username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="deskstream"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
