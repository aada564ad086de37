// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/deskstream/deskstream/rtcengine"
	"github.com/deskstream/deskstream/session"
)

// Config carries the signaling endpoint's candidate-address policy
// and codec selection.
type Config struct {
	// PublicCandidate, when set, is the exact host placed in the
	// answer's candidate; it wins over every other policy.
	PublicCandidate string

	// CandidateFromHostHeader derives the candidate host from the
	// request's Host header when PublicCandidate is empty.
	CandidateFromHostHeader bool

	// FallbackHost is the local bind address's host, used when neither
	// policy above applies.
	FallbackHost string

	// Port is the multiplexer's TCP port, advertised in the candidate.
	Port int

	// VideoCodec is the configured codec name ("h264", "vp8", ...).
	VideoCodec string
}

// offerMessage and answerMessage are the two JSON shapes the signaling
// WebSocket exchanges.
type offerMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type answerMessage struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp"`
	SessionID string `json:"session_id"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Handler serves the /webrtc WebSocket signaling endpoint.
type Handler struct {
	cfg         Config
	registry    *session.Registry
	fingerprint string
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewHandler creates the signaling handler. cert is the process-wide
// DTLS certificate whose fingerprint every answer advertises.
func NewHandler(cfg Config, registry *session.Registry, cert tls.Certificate, logger *slog.Logger) (*Handler, error) {
	fingerprint, err := rtcengine.Fingerprint(cert)
	if err != nil {
		return nil, fmt.Errorf("signaling: computing DTLS fingerprint: %w", err)
	}
	return &Handler{
		cfg:         cfg,
		registry:    registry,
		fingerprint: fingerprint,
		logger:      logger,
		upgrader: websocket.Upgrader{
			// The embedded UI is served from this same origin, but the
			// endpoint is also used from dev setups on other origins;
			// Basic Auth (when enabled) is the access control, not the
			// Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// ServeHTTP upgrades the connection, exchanges exactly one
// offer/answer, and returns. The session outlives the WebSocket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var offer offerMessage
	if err := conn.ReadJSON(&offer); err != nil {
		h.logger.Debug("reading signaling message failed", "error", err)
		return
	}
	if offer.Type != "offer" {
		h.reject(conn, fmt.Sprintf("expected an offer, got %q", offer.Type))
		return
	}

	parsed, err := ParseOffer(offer.SDP, h.cfg.VideoCodec)
	if err != nil {
		h.logger.Warn("rejecting malformed offer", "error", err)
		h.reject(conn, err.Error())
		return
	}

	s, err := h.registry.CreateSession(parsed.RemoteUfrag, parsed.RemotePwd, parsed.VideoPayloadType, parsed.AudioPayloadType)
	if err != nil {
		h.logger.Error("session creation failed", "error", err)
		h.reject(conn, "session creation failed")
		return
	}

	answerSDP, err := BuildAnswer(parsed, AnswerParams{
		SessionID:     s.ID,
		LocalUfrag:    s.LocalUfrag,
		LocalPwd:      s.LocalPwd,
		Fingerprint:   h.fingerprint,
		CandidateHost: h.candidateHost(r),
		CandidatePort: h.cfg.Port,
		VideoCodec:    h.cfg.VideoCodec,
		VideoSSRC:     s.VideoSSRC,
		AudioSSRC:     s.AudioSSRC,
	})
	if err != nil {
		h.logger.Error("building answer failed", "error", err)
		h.registry.Remove(s)
		h.reject(conn, "building answer failed")
		return
	}

	if err := conn.WriteJSON(answerMessage{Type: "answer", SDP: answerSDP, SessionID: s.ID}); err != nil {
		h.logger.Debug("writing answer failed", "error", err)
		h.registry.Remove(s)
		return
	}
	h.logger.Info("answered signaling offer", "session", s.ID, "remote_ufrag", parsed.RemoteUfrag)
}

// candidateHost resolves the candidate address: explicit
// public_candidate wins; otherwise the Host header when configured;
// otherwise the local bind address.
func (h *Handler) candidateHost(r *http.Request) string {
	if h.cfg.PublicCandidate != "" {
		return h.cfg.PublicCandidate
	}
	if h.cfg.CandidateFromHostHeader && r.Host != "" {
		if host, _, err := net.SplitHostPort(r.Host); err == nil {
			return host
		}
		return r.Host
	}
	return h.cfg.FallbackHost
}

func (h *Handler) reject(conn *websocket.Conn, message string) {
	if err := conn.WriteJSON(errorMessage{Type: "error", Message: message}); err != nil {
		h.logger.Debug("writing signaling error failed", "error", err)
	}
}
