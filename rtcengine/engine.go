// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/rtp"
	"github.com/pion/sctp"
)

// FatalError wraps any terminal failure from the DTLS handshake, SRTP
// keying, or SCTP association setup.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string { return fmt.Sprintf("rtcengine: %s failed: %v", e.Stage, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Engine is one peer's Sans-I/O-surfaced WebRTC session, per package doc.
type Engine struct {
	cfg Config

	mu             sync.Mutex
	state          ConnectionState
	bridge         *bridgeConn
	dtlsConn       *dtls.Conn
	sctpAssoc      *sctp.Association
	codec          *srtpCodec
	primaryChannel *dataChannel
	auxChannel     *dataChannel
	nextTimeout    time.Time

	outputs chan Output

	// ready carries a wake-up token for the host loop: the handshake,
	// accept-loop, and pump goroutines produce outputs on their own
	// schedule, not only in response to a Feed or Write call, so the
	// driver selects on Ready to know when to drain again.
	ready chan struct{}

	done      chan struct{}
	cancel    context.CancelFunc
	handshake sync.Once
	closeOnce sync.Once
}

// NewEngine creates an engine in StateNew. The DTLS/SCTP handshake
// starts lazily, on the first Feed call that carries a STUN binding
// request matching cfg's credentials — mirroring real ICE-lite
// behavior, where the server does nothing until the peer's checks
// arrive.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		state:   StateNew,
		outputs: make(chan Output, 256),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Feed delivers one inbound network datagram (one RFC 4571 frame
// payload) to the engine.
func (e *Engine) Feed(datagram []byte) error {
	switch classify(datagram) {
	case classSTUN:
		response, err := e.handleSTUN(datagram)
		if err != nil {
			e.cfg.Logger.Warn("STUN handling failed", "error", err)
			return nil
		}
		if response != nil {
			e.pushOutput(Output{Kind: OutputTransmit, Bytes: response})
			e.ensureHandshakeStarted()
		}
		return nil

	case classDTLS:
		e.mu.Lock()
		bridge := e.bridge
		e.mu.Unlock()
		if bridge == nil {
			// A DTLS record arrived before the STUN exchange kicked off
			// the handshake goroutine (can happen if the peer pipelines
			// its ICE-TCP writes); start it now so the record isn't lost.
			e.ensureHandshakeStarted()
			e.mu.Lock()
			bridge = e.bridge
			e.mu.Unlock()
		}
		bridge.Feed(datagram)
		return nil

	case classRTP:
		// This server never receives media from the peer in steady
		// state; what lands here is RTCP feedback (receiver reports,
		// PLI/FIR keyframe requests). Decoding is best-effort and
		// non-fatal.
		e.mu.Lock()
		codec := e.codec
		e.mu.Unlock()
		if codec == nil {
			return nil
		}
		if isRTCP(datagram) {
			plain, err := codec.decryptRTCP(datagram)
			if err != nil {
				e.cfg.Logger.Debug("decrypting inbound RTCP failed", "error", err)
				return nil
			}
			if containsKeyframeRequest(plain) {
				e.pushOutput(Output{Kind: OutputKeyframeRequest})
			}
		} else if _, err := codec.decryptRTP(datagram); err != nil {
			e.cfg.Logger.Debug("decrypting inbound RTP failed", "error", err)
		}
		return nil

	default:
		return fmt.Errorf("rtcengine: unclassifiable datagram (%d bytes, first=%#x)", len(datagram), firstByte(datagram))
	}
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

// ensureHandshakeStarted lazily creates the bridge and kicks off the
// DTLS handshake + SCTP association goroutine exactly once.
func (e *Engine) ensureHandshakeStarted() {
	e.handshake.Do(func() {
		e.mu.Lock()
		e.bridge = newBridgeConn(e.cfg.LocalAddr, e.cfg.RemoteAddr)
		e.state = StateHandshaking
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.mu.Unlock()

		e.pushOutput(Output{Kind: OutputConnectionStateChange, State: StateHandshaking})
		go e.pumpOutbound(e.bridge)
		go e.runHandshake(ctx)
	})
}

// pumpOutbound moves every datagram the DTLS/SCTP stack writes to the
// bridge into the output queue as a transmit output. It blocks rather
// than drops when the queue is full: a dropped handshake flight would
// stall the peer forever, and the driver drains on every Ready signal
// so the queue never stays full for long.
func (e *Engine) pumpOutbound(bridge *bridgeConn) {
	for {
		data, ok := bridge.NextOutbound()
		if !ok {
			return
		}
		select {
		case e.outputs <- Output{Kind: OutputTransmit, Bytes: data}:
			e.signalReady()
		case <-e.done:
			return
		}
	}
}

// runHandshake performs the DTLS server handshake, derives SRTP keys
// from the exported keying material, and starts the SCTP association
// and its data-channel accept loop — all on this background goroutine,
// blocking only on the in-memory bridge (never on real I/O).
func (e *Engine) runHandshake(ctx context.Context) {
	loggerFactory := &slogLoggerFactory{logger: e.cfg.Logger}
	dtlsConfig := &dtls.Config{
		Certificates:           []tls.Certificate{e.cfg.Certificate},
		InsecureSkipVerify:     true,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
		LoggerFactory:          loggerFactory,
	}

	conn, err := dtls.ServerWithContext(ctx, e.bridge, dtlsConfig)
	if err != nil {
		e.fail("dtls handshake", err)
		return
	}

	state, ok := conn.ConnectionState()
	if !ok {
		e.fail("dtls connection state", fmt.Errorf("rtcengine: handshake completed without connection state"))
		return
	}
	material, err := state.ExportKeyingMaterial(srtpKeyingLabel, nil, 2*(srtpMasterKeyLen+srtpMasterSaltLen))
	if err != nil {
		e.fail("srtp keying material export", err)
		return
	}
	keys, err := deriveSRTPKeys(material)
	if err != nil {
		e.fail("srtp key derivation", err)
		return
	}
	codec, err := newSRTPCodec(keys)
	if err != nil {
		e.fail("srtp context setup", err)
		return
	}

	assoc, err := sctp.Server(sctp.Config{NetConn: conn, LoggerFactory: loggerFactory})
	if err != nil {
		e.fail("sctp association", err)
		return
	}

	e.mu.Lock()
	e.dtlsConn = conn
	e.codec = codec
	e.sctpAssoc = assoc
	e.state = StateConnected
	e.mu.Unlock()

	e.pushOutput(Output{Kind: OutputConnectionStateChange, State: StateConnected})
	go e.acceptDataChannels(assoc)
}

func (e *Engine) fail(stage string, err error) {
	e.mu.Lock()
	e.state = StateFailed
	e.mu.Unlock()
	e.cfg.Logger.Error("rtc engine failed", "stage", stage, "error", err)
	e.pushOutput(Output{Kind: OutputConnectionStateChange, State: StateFailed})
}

// WriteRTP encrypts one outbound RTP packet and queues its encrypted
// bytes for transmission. Payload type,
// sequence number, timestamp, and marker are preserved exactly; SSRC is
// assigned here since the pipeline adapter is
// SSRC-agnostic.
func (e *Engine) WriteRTP(media MediaID, payloadType uint8, sequenceNumber uint16, timestamp uint32, marker bool, payload []byte) error {
	e.mu.Lock()
	codec := e.codec
	e.mu.Unlock()
	if codec == nil {
		// Not yet connected: silently drop — producers never block, and
		// there is no peer to receive this packet yet.
		return nil
	}

	ssrc := e.cfg.VideoSSRC
	if media == MediaAudio {
		ssrc = e.cfg.AudioSSRC
	}

	header := rtp.Header{
		Version:        2,
		PayloadType:    payloadType,
		SequenceNumber: sequenceNumber,
		Timestamp:      timestamp,
		Marker:         marker,
		SSRC:           ssrc,
	}

	encrypted, err := codec.encryptRTP(header, payload)
	if err != nil {
		return fmt.Errorf("rtcengine: encrypting RTP packet: %w", err)
	}
	e.pushOutput(Output{Kind: OutputTransmit, Bytes: encrypted})
	return nil
}

// Poll returns the next queued output, if any, without blocking. The
// driver's drain loop calls this in a tight loop after
// every write until it returns ok=false.
func (e *Engine) Poll() (Output, bool) {
	select {
	case out := <-e.outputs:
		return out, true
	default:
		return Output{}, false
	}
}

func (e *Engine) pushOutput(out Output) {
	select {
	case e.outputs <- out:
		e.signalReady()
	default:
		// Output queue saturated: this only happens if the driver has
		// stopped draining, in which case the session is on its way to
		// teardown anyway. Drop rather than block the handshake/accept
		// goroutines.
		e.signalReady()
	}
}

// Ready returns a channel that fires when the engine has queued output
// while the host loop was not draining. The driver treats it as one
// more event source: select on Ready, then drain Poll until empty.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

func (e *Engine) signalReady() {
	select {
	case e.ready <- struct{}{}:
	default:
	}
}

// State returns the engine's current connection state.
func (e *Engine) State() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// NextTimeout reports when the engine next needs HandleTimeout called,
// by the driver's timeout source. This engine has no internal retransmission
// timers of its own once connected (DTLS retransmission is handled
// inside the blocking handshake goroutine); it always returns the zero
// time, meaning "no timer needed" — the driver's ping timer (Source F)
// is what actually bounds session liveness.
func (e *Engine) NextTimeout() time.Time {
	return time.Time{}
}

// HandleTimeout is a no-op for the reason NextTimeout documents, kept
// to satisfy the driver's uniform "handle timeout now" input.
func (e *Engine) HandleTimeout(time.Time) {}

// Close tears down the DTLS connection, SCTP association, and
// handshake goroutine.
func (e *Engine) Close() error {
	e.mu.Lock()
	cancel := e.cancel
	assoc := e.sctpAssoc
	conn := e.dtlsConn
	bridge := e.bridge
	e.state = StateClosed
	e.mu.Unlock()

	e.closeOnce.Do(func() { close(e.done) })
	if cancel != nil {
		cancel()
	}
	if assoc != nil {
		assoc.Close()
	}
	if conn != nil {
		conn.Close()
	}
	if bridge != nil {
		bridge.Close()
	}
	return nil
}
