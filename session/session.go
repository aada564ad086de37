// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deskstream/deskstream/rtcengine"
)

// PingState is the keepalive state machine: Idle, or WaitingPong since
// a recorded instant.
type PingState int

const (
	PingIdle PingState = iota
	PingWaitingPong
)

// Session is one peer's streaming session, created on signaling offer
// and terminated on TCP close, engine failure, ping
// timeout, or explicit teardown.
type Session struct {
	// ID is the locally generated 128-bit session id, hex-encoded.
	ID string

	LocalUfrag  string
	LocalPwd    string
	RemoteUfrag string
	RemotePwd   string

	// VideoSSRC and AudioSSRC are this side's outbound SSRCs, advertised
	// in the SDP answer and stamped onto every encrypted packet by the
	// engine.
	VideoSSRC uint32
	AudioSSRC uint32

	// VideoPayloadType and AudioPayloadType are the payload types
	// negotiated from the peer's offer, used by the driver when writing
	// audio RTP (video packets carry their own PT from the pipeline).
	VideoPayloadType uint8
	AudioPayloadType uint8

	CreatedAt time.Time

	// lastActivity is the monotonically advancing activity instant,
	// stored as unix nanoseconds so drivers and the GC loop can
	// race-freely touch and read it.
	lastActivity atomic.Int64

	mu           sync.Mutex
	engine       *rtcengine.Engine
	conn         net.Conn
	cancelDriver context.CancelFunc
	driverDone   chan struct{}
}

// Touch advances the session's last-activity instant.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the most recent activity instant.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Engine returns the session's RTC engine, or nil before the first
// ICE-TCP connection attaches.
func (s *Session) Engine() *rtcengine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Attached reports whether a TCP connection is currently bound to the
// session.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// State returns the engine's connection state, or StateNew before the
// first attach.
func (s *Session) State() rtcengine.ConnectionState {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return rtcengine.StateNew
	}
	return engine.State()
}

// detachLocked cancels the running driver (if any) and closes the
// current connection, without touching the engine. Caller holds s.mu.
func (s *Session) detachLocked() {
	if s.cancelDriver != nil {
		s.cancelDriver()
		s.cancelDriver = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close tears down the session's driver, connection, and engine.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.detachLocked()
	engine := s.engine
	s.engine = nil
	s.mu.Unlock()

	if engine != nil {
		engine.Close()
	}
}

// Summary is the JSON shape of one session in the /clients endpoint's
// response.
type Summary struct {
	ID           string    `json:"id"`
	RemoteUfrag  string    `json:"remote_ufrag"`
	State        string    `json:"state"`
	Attached     bool      `json:"attached"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Summarize captures the session's current state for observability.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:           s.ID,
		RemoteUfrag:  s.RemoteUfrag,
		State:        s.State().String(),
		Attached:     s.Attached(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
	}
}
