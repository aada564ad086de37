// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/deskstream/deskstream/broadcast"
)

// videoClockRate is the RTP clock rate used for all video payload types
// this server emits (90 kHz, the de facto standard for H.264/VP8/VP9/AV1
// over WebRTC).
const videoClockRate = 90000

// Config configures the video pipeline adapter.
type Config struct {
	Codec               Codec
	TargetFPS           int
	Width, Height       int
	HardwareEncoder     string
	PipelineLatencyMS   int
	KeyframeIntervalSec int
}

// Adapter pushes raw RGBA frames in and publishes RTP packets out. It
// owns the keyframe cache and the
// encoder's forced-keyframe and resize signaling.
type Adapter struct {
	logger *slog.Logger
	hub    *broadcast.Hub[Packet]
	cache  *KeyframeCache

	mu          sync.Mutex
	cfg         Config
	backend     Backend
	payloadType uint8
	packetizer  rtp.Packetizer
	sequencer   *sequentialSequencer
	forceNext   bool

	lastFrameWasKeyframe bool

	consecutiveErrors int
	maxErrors         int
}

// NewAdapter creates a video pipeline adapter. hub is the video
// broadcast fabric that RTP packets are published onto.
func NewAdapter(cfg Config, hub *broadcast.Hub[Packet], logger *slog.Logger) (*Adapter, error) {
	backend, err := NewBackend(cfg.Codec, cfg.HardwareEncoder, cfg.TargetFPS*cfg.KeyframeIntervalSec)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		logger:      logger,
		hub:         hub,
		cache:       NewKeyframeCache(),
		cfg:         cfg,
		backend:     backend,
		payloadType: payloadTypeForCodec(cfg.Codec),
		sequencer:   &sequentialSequencer{},
		maxErrors:   10, // rebuild the pipeline after 10 consecutive encoder errors.
	}
	a.packetizer = rtp.NewPacketizer(defaultMTU, a.payloadType, 0, newPayloader(cfg.Codec), a.sequencer, videoClockRate)
	return a, nil
}

// KeyframeCache returns the adapter's keyframe cache, consulted by the
// session driver on data-channel-open and on receiver lag.
func (a *Adapter) KeyframeCache() *KeyframeCache {
	return a.cache
}

// PushFrame encodes one raw RGBA frame and publishes its RTP packets, in
// arrival order, onto the video broadcast hub. samplesSinceLastFrame is
// the RTP-clock sample delta to advance the packetizer's internal
// timestamp by (derived from the presentation interval), matching
// videoClockRate.
func (a *Adapter) PushFrame(rgba []byte, samplesSinceLastFrame uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	forceKeyframe := a.forceNext
	a.forceNext = false

	compressed, err := a.backend.Encode(rgba, a.cfg.Width, a.cfg.Height, forceKeyframe)
	if forceKeyframe && (err != nil || !compressed.IsKeyframe) {
		a.forceNext = true
	}
	if err != nil {
		a.consecutiveErrors++
		a.logger.Warn("encoder produced no frame", "error", err, "consecutive_errors", a.consecutiveErrors)
		if a.consecutiveErrors >= a.maxErrors {
			a.rebuildLocked()
		}
		return err
	}
	a.consecutiveErrors = 0

	packets := a.packetizer.Packetize(compressed.Data, samplesSinceLastFrame)
	if len(packets) == 0 {
		return fmt.Errorf("pipeline: packetizer produced no packets for %d-byte frame", len(compressed.Data))
	}

	frame := Frame{
		Timestamp:  packets[0].Timestamp,
		IsKeyframe: compressed.IsKeyframe,
		Packets:    make([]Packet, len(packets)),
	}
	for i, p := range packets {
		frame.Packets[i] = Packet{
			PayloadType:    p.PayloadType,
			SequenceNumber: p.SequenceNumber,
			Timestamp:      p.Timestamp,
			Marker:         p.Marker,
			Payload:        p.Payload,
			IsKeyframePart: compressed.IsKeyframe,
		}
	}
	// Invariant: the highest-sequence packet carries marker=1.
	frame.Packets[len(frame.Packets)-1].Marker = true

	for _, pkt := range frame.Packets {
		a.hub.Publish(pkt)
	}

	if compressed.IsKeyframe {
		// Publish only once the whole frame is known complete, so a
		// reader never sees a partial keyframe.
		a.cache.Store(frame)
	}
	a.lastFrameWasKeyframe = compressed.IsKeyframe

	return nil
}

// RequestKeyframe forces the encoder to emit a keyframe no later than
// the next pushed frame, for late joiners and lagged receivers.
func (a *Adapter) RequestKeyframe() {
	a.mu.Lock()
	a.forceNext = true
	a.mu.Unlock()
}

// Resize reconfigures the encoder for a new output resolution and
// guarantees the next frame is a keyframe.
func (a *Adapter) Resize(width, height int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.backend.Reconfigure(width, height); err != nil {
		return err
	}
	a.cfg.Width, a.cfg.Height = width, height
	a.forceNext = true
	return nil
}

// rebuildLocked replaces the encoder backend after too many
// consecutive encode errors. Caller must hold a.mu.
func (a *Adapter) rebuildLocked() {
	a.logger.Warn("rebuilding video pipeline after repeated encoder errors")
	a.backend.Close()
	backend, err := NewBackend(a.cfg.Codec, a.cfg.HardwareEncoder, a.cfg.TargetFPS*a.cfg.KeyframeIntervalSec)
	if err != nil {
		a.logger.Error("failed to rebuild video pipeline", "error", err)
		return
	}
	a.backend = backend
	a.consecutiveErrors = 0
	a.forceNext = true
}

// Close releases the encoder backend.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.Close()
}

// SamplesForInterval converts a wall-clock interval to an RTP-clock
// sample count at videoClockRate, for use as PushFrame's second argument.
func SamplesForInterval(d time.Duration) uint32 {
	return uint32(d.Seconds() * float64(videoClockRate))
}
