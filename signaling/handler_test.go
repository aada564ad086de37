// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"log/slog"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/deskstream/deskstream/audio"
	"github.com/deskstream/deskstream/broadcast"
	"github.com/deskstream/deskstream/compositor"
	"github.com/deskstream/deskstream/pipeline"
	"github.com/deskstream/deskstream/rtcengine"
	"github.com/deskstream/deskstream/session"
)

func newTestHandler(t *testing.T, cfg Config) (*Handler, *session.Registry) {
	t.Helper()

	videoHub := broadcast.NewHub[pipeline.Packet](broadcast.VideoCapacity(30))
	adapter, err := pipeline.NewAdapter(pipeline.Config{
		Codec:               pipeline.CodecH264,
		TargetFPS:           30,
		Width:               640,
		Height:              480,
		KeyframeIntervalSec: 2,
	}, videoHub, slog.Default())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })

	cert, err := rtcengine.GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate: %v", err)
	}
	registry := session.NewRegistry(session.Config{Logger: slog.Default()}, session.Deps{
		VideoHub:    videoHub,
		AudioHub:    broadcast.NewHub[audio.Packet](broadcast.AudioCapacity),
		TextHub:     broadcast.NewHub[string](broadcast.TextCapacity),
		Adapter:     adapter,
		Input:       compositor.NewQueue(64),
		Certificate: cert,
	})

	handler, err := NewHandler(cfg, registry, cert, slog.Default())
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return handler, registry
}

func dialSignaling(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing signaling endpoint: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSignalingOfferAnswer(t *testing.T) {
	handler, registry := newTestHandler(t, Config{
		FallbackHost: "10.0.0.1",
		Port:         8008,
		VideoCodec:   "h264",
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialSignaling(t, server.URL)
	if err := conn.WriteJSON(offerMessage{Type: "offer", SDP: minimalOffer}); err != nil {
		t.Fatalf("writing offer: %v", err)
	}

	var answer answerMessage
	if err := conn.ReadJSON(&answer); err != nil {
		t.Fatalf("reading answer: %v", err)
	}
	if answer.Type != "answer" {
		t.Fatalf("answer type = %q", answer.Type)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(answer.SessionID) {
		t.Errorf("session_id %q is not a 128-bit hex string", answer.SessionID)
	}
	if !strings.Contains(answer.SDP, "a=ice-lite") {
		t.Error("answer SDP does not advertise ice-lite")
	}
	if !strings.Contains(answer.SDP, "10.0.0.1 8008 typ host tcptype passive") {
		t.Error("answer SDP candidate does not use the fallback host")
	}

	s := registry.ByRemoteUfrag("abcd")
	if s == nil {
		t.Fatal("session not registered for the offer's ufrag")
	}
	if s.ID != answer.SessionID {
		t.Error("registered session id does not match the answer")
	}

	// Session survives signaling close.
	conn.Close()
	if registry.ByRemoteUfrag("abcd") == nil {
		t.Error("session did not survive the signaling WebSocket close")
	}
}

func TestSignalingCandidateFromHostHeader(t *testing.T) {
	handler, _ := newTestHandler(t, Config{
		CandidateFromHostHeader: true,
		FallbackHost:            "192.0.2.1",
		Port:                    8008,
		VideoCodec:              "h264",
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialSignaling(t, server.URL)
	if err := conn.WriteJSON(offerMessage{Type: "offer", SDP: minimalOffer}); err != nil {
		t.Fatalf("writing offer: %v", err)
	}
	var answer answerMessage
	if err := conn.ReadJSON(&answer); err != nil {
		t.Fatalf("reading answer: %v", err)
	}

	// httptest's Host header is 127.0.0.1:<port>; the candidate must use
	// its host part.
	if !strings.Contains(answer.SDP, "127.0.0.1 8008 typ host tcptype passive") {
		t.Errorf("candidate host not derived from Host header:\n%s", answer.SDP)
	}
}

func TestSignalingRejectsNonOffer(t *testing.T) {
	handler, registry := newTestHandler(t, Config{FallbackHost: "10.0.0.1", Port: 8008, VideoCodec: "h264"})
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialSignaling(t, server.URL)
	if err := conn.WriteJSON(offerMessage{Type: "answer", SDP: minimalOffer}); err != nil {
		t.Fatalf("writing message: %v", err)
	}
	var resp errorMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.Type != "error" {
		t.Errorf("response type = %q, want error", resp.Type)
	}
	if len(registry.Summaries()) != 0 {
		t.Error("session created for a rejected message")
	}
}

func TestSignalingRejectsMalformedSDP(t *testing.T) {
	handler, registry := newTestHandler(t, Config{FallbackHost: "10.0.0.1", Port: 8008, VideoCodec: "h264"})
	server := httptest.NewServer(handler)
	defer server.Close()

	conn := dialSignaling(t, server.URL)
	if err := conn.WriteJSON(offerMessage{Type: "offer", SDP: "garbage"}); err != nil {
		t.Fatalf("writing offer: %v", err)
	}
	var resp errorMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.Type != "error" {
		t.Errorf("response type = %q, want error", resp.Type)
	}
	if len(registry.Summaries()) != 0 {
		t.Error("session created for malformed SDP")
	}
}
