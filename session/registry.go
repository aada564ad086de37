// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/randutil"

	"github.com/deskstream/deskstream/audio"
	"github.com/deskstream/deskstream/broadcast"
	"github.com/deskstream/deskstream/compositor"
	"github.com/deskstream/deskstream/pipeline"
	"github.com/deskstream/deskstream/rtcengine"
	"github.com/deskstream/deskstream/transport"
)

// ufragRunes is the alphabet ICE ufrag and password strings draw from.
const ufragRunes = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// matchReadTimeout bounds how long an unmatched ICE-TCP connection may
// take to produce its first STUN-carrying frame before it is dropped.
const matchReadTimeout = 5 * time.Second

// NotFoundError reports an ICE-TCP connection whose STUN USERNAME did
// not match any registered session.
type NotFoundError struct {
	Username string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session: no session for STUN username %q", e.Username)
}

// Telemetry receives session lifecycle and peer-reported observability
// signals. Implemented by observe.Metrics; a nil Telemetry drops them.
type Telemetry interface {
	SessionStarted(id string)
	SessionEnded(id string)
	ClientTelemetry(id, kind, payload string)
	RTPForwarded(media string, packets int)
}

// Config carries the registry's timing knobs.
type Config struct {
	// PingInterval is how often the driver sends a keepalive ping;
	// default 15 s.
	PingInterval time.Duration

	// PingTimeout is how long a peer may go without answering before
	// the session is terminated.
	PingTimeout time.Duration

	// GCInterval is how often silent or failed sessions are evicted.
	GCInterval time.Duration

	Logger *slog.Logger
}

// Deps wires the registry and its drivers to the rest of the process.
type Deps struct {
	VideoHub *broadcast.Hub[pipeline.Packet]
	AudioHub *broadcast.Hub[audio.Packet]
	TextHub  *broadcast.Hub[string]

	Adapter *pipeline.Adapter
	Input   *compositor.Queue

	// NotifyDataChannelOpen bumps the compositor's datachannel-open
	// count so the next iteration resends the taskbar.
	NotifyDataChannelOpen func()

	// Certificate is the process-wide DTLS certificate shared by every
	// session's engine.
	Certificate tls.Certificate

	// UploadDir is where peer file uploads land; empty disables uploads.
	UploadDir string

	Telemetry Telemetry
}

// Registry maintains the remote-ufrag and session-id maps and owns
// session lifecycle from signaling offer to teardown.
type Registry struct {
	cfg  Config
	deps Deps

	mu            sync.Mutex
	byRemoteUfrag map[string]*Session
	byID          map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry(cfg Config, deps Deps) *Registry {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 45 * time.Second
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		cfg:           cfg,
		deps:          deps,
		byRemoteUfrag: make(map[string]*Session),
		byID:          make(map[string]*Session),
	}
}

// CreateSession registers a new session for a signaling offer's remote
// credentials and payload types, generating the local ufrag/pwd, the
// 128-bit session id, and this side's SSRCs. A prior session with the
// same remote ufrag is torn down first, so at most one session is ever
// registered per remote ufrag.
func (r *Registry) CreateSession(remoteUfrag, remotePwd string, videoPT, audioPT uint8) (*Session, error) {
	localUfrag, err := randutil.GenerateCryptoRandomString(8, ufragRunes)
	if err != nil {
		return nil, fmt.Errorf("session: generating local ufrag: %w", err)
	}
	localPwd, err := randutil.GenerateCryptoRandomString(24, ufragRunes)
	if err != nil {
		return nil, fmt.Errorf("session: generating local pwd: %w", err)
	}
	id := uuid.New()
	rng := randutil.NewMathRandomGenerator()

	s := &Session{
		ID:               hex.EncodeToString(id[:]),
		LocalUfrag:       localUfrag,
		LocalPwd:         localPwd,
		RemoteUfrag:      remoteUfrag,
		RemotePwd:        remotePwd,
		VideoSSRC:        rng.Uint32(),
		AudioSSRC:        rng.Uint32(),
		VideoPayloadType: videoPT,
		AudioPayloadType: audioPT,
		CreatedAt:        time.Now(),
	}
	s.Touch()

	r.mu.Lock()
	prior := r.byRemoteUfrag[remoteUfrag]
	r.byRemoteUfrag[remoteUfrag] = s
	r.byID[s.ID] = s
	r.mu.Unlock()

	if prior != nil {
		r.cfg.Logger.Info("replacing session with duplicate remote ufrag",
			"remote_ufrag", remoteUfrag, "old_session", prior.ID, "new_session", s.ID)
		r.mu.Lock()
		delete(r.byID, prior.ID)
		r.mu.Unlock()
		prior.Close()
	}

	if r.deps.Telemetry != nil {
		r.deps.Telemetry.SessionStarted(s.ID)
	}
	r.cfg.Logger.Info("session created", "session", s.ID, "remote_ufrag", remoteUfrag)
	return s, nil
}

// MatchConnection implements transport.SessionMatcher: it reads the
// first RFC 4571 frame off a non-HTTP connection, extracts the STUN
// USERNAME, binds the connection to the matching session, and replays
// the frame into the session's engine. Unmatched
// connections are closed silently, logged at debug.
func (r *Registry) MatchConnection(ctx context.Context, conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(matchReadTimeout))
	frame, err := transport.ReadFrame(conn)
	if err != nil {
		r.cfg.Logger.Debug("reading first ICE-TCP frame failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	username, err := rtcengine.UsernameFromDatagram(frame)
	if err != nil {
		r.cfg.Logger.Debug("first ICE-TCP frame is not a usable STUN binding request",
			"remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	local, remote, ok := rtcengine.LocalUfragFromUsername(username)
	if !ok {
		r.cfg.Logger.Debug("STUN username has no ufrag separator", "username", username)
		conn.Close()
		return
	}

	r.mu.Lock()
	s := r.byRemoteUfrag[remote]
	r.mu.Unlock()
	if s == nil || s.LocalUfrag != local {
		r.cfg.Logger.Debug("no session for ICE-TCP connection", "error", &NotFoundError{Username: username})
		conn.Close()
		return
	}

	r.attach(ctx, s, conn, frame)
}

// attach binds conn to s, replacing any prior connection for the same
// session, creates the engine on first attach, replays the first
// frame, and starts the driver goroutine.
func (r *Registry) attach(ctx context.Context, s *Session, conn net.Conn, firstFrame []byte) {
	if tcp, ok := conn.(interface{ SetNoDelay(bool) error }); ok {
		// Nagle's algorithm delays small writes; per-packet RTP latency
		// matters more than syscall coalescing here.
		if err := tcp.SetNoDelay(true); err != nil {
			r.cfg.Logger.Debug("disabling nagle failed", "error", err)
		}
	}

	s.mu.Lock()
	s.detachLocked()
	if s.engine == nil {
		s.engine = rtcengine.NewEngine(rtcengine.Config{
			Certificate: r.deps.Certificate,
			LocalUfrag:  s.LocalUfrag,
			LocalPwd:    s.LocalPwd,
			RemoteUfrag: s.RemoteUfrag,
			RemotePwd:   s.RemotePwd,
			VideoSSRC:   s.VideoSSRC,
			AudioSSRC:   s.AudioSSRC,
			LocalAddr:   conn.LocalAddr(),
			RemoteAddr:  conn.RemoteAddr(),
			Logger:      r.cfg.Logger.With("session", s.ID),
		})
	}
	engine := s.engine
	s.conn = conn
	driverCtx, cancel := context.WithCancel(ctx)
	s.cancelDriver = cancel
	done := make(chan struct{})
	s.driverDone = done
	s.mu.Unlock()

	s.Touch()
	d := newDriver(r, s, engine, conn)
	go func() {
		defer close(done)
		d.run(driverCtx, firstFrame)
	}()
	r.cfg.Logger.Info("ICE-TCP connection attached", "session", s.ID, "remote", conn.RemoteAddr())
}

// Remove deregisters and closes a session. Idempotent.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	registered := r.byID[s.ID] == s
	if registered {
		delete(r.byID, s.ID)
		if r.byRemoteUfrag[s.RemoteUfrag] == s {
			delete(r.byRemoteUfrag, s.RemoteUfrag)
		}
	}
	r.mu.Unlock()

	s.Close()
	if registered {
		if r.deps.Telemetry != nil {
			r.deps.Telemetry.SessionEnded(s.ID)
		}
		r.cfg.Logger.Info("session removed", "session", s.ID)
	}
}

// ByID returns the session with the given id, or nil.
func (r *Registry) ByID(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// ByRemoteUfrag returns the session for a remote ufrag, or nil.
func (r *Registry) ByRemoteUfrag(ufrag string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byRemoteUfrag[ufrag]
}

// LiveCount reports how many sessions currently have an attached
// connection, feeding the compositor's "at least one session is live"
// render gate.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	live := 0
	for _, s := range sessions {
		if s.Attached() {
			live++
		}
	}
	return live
}

// Summaries returns every registered session's observability snapshot,
// for the /clients endpoint.
func (r *Registry) Summaries() []Summary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summarize())
	}
	return out
}

// RunGC evicts sessions whose last activity is older than the ping
// timeout or whose engine reports a terminal state, every GCInterval,
// until ctx is cancelled.
func (r *Registry) RunGC(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.gcOnce()
		}
	}
}

func (r *Registry) gcOnce() {
	cutoff := time.Now().Add(-r.cfg.PingTimeout)

	r.mu.Lock()
	var evict []*Session
	for _, s := range r.byID {
		state := rtcengine.StateNew
		s.mu.Lock()
		if s.engine != nil {
			state = s.engine.State()
		}
		s.mu.Unlock()
		if s.LastActivity().Before(cutoff) || state == rtcengine.StateFailed || state == rtcengine.StateClosed {
			evict = append(evict, s)
		}
	}
	r.mu.Unlock()

	for _, s := range evict {
		r.cfg.Logger.Info("evicting session", "session", s.ID, "last_activity", s.LastActivity())
		r.Remove(s)
	}
}

// CloseAll tears down every session, for process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.Remove(s)
	}
}
