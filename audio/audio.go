// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package audio implements the dedicated audio capture thread: it
// blocks on an audio source, encodes each PCM frame to Opus, and
// publishes the encoded packets into the audio broadcast fabric. The
// session drivers assign RTP sequence numbers and
// advance the RTP timestamp by each packet's sample count.
package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	opus "gopkg.in/hraban/opus.v2"

	"github.com/deskstream/deskstream/broadcast"
)

// Packet is one encoded Opus frame ready for RTP transport. Samples is
// the per-channel PCM sample count the frame covers, which is exactly
// the RTP timestamp advance for the packet (48 kHz RTP clock for Opus).
type Packet struct {
	Payload []byte
	Samples uint32
}

// Source produces interleaved 16-bit PCM. Read fills pcm completely
// (len(pcm) = frame size × channels) and blocks until a full frame is
// available; it is the capture thread's only suspension point.
type Source interface {
	Read(pcm []int16) error
	Close() error
}

// Encoder compresses one PCM frame. The production implementation wraps
// an Opus encoder; tests substitute a deterministic stand-in.
type Encoder interface {
	Encode(pcm []int16, out []byte) (int, error)
}

// opusEncoder adapts gopkg.in/hraban/opus.v2 to the Encoder seam.
type opusEncoder struct {
	enc *opus.Encoder
}

func (e *opusEncoder) Encode(pcm []int16, out []byte) (int, error) {
	return e.enc.Encode(pcm, out)
}

// Config configures the capture thread.
type Config struct {
	SampleRate int // Hz, 48000 for WebRTC Opus
	Channels   int // 2 for WebRTC Opus
	FrameMS    int // frame duration, typically 20
}

// Capture owns the audio source handle and the Opus encoder. Run is
// meant to be the body of one dedicated goroutine, blocking only on
// the source read.
type Capture struct {
	cfg     Config
	source  Source
	encoder Encoder
	hub     *broadcast.Hub[Packet]
	logger  *slog.Logger

	frameSamples int
}

// NewCapture creates a capture thread reading PCM from source and
// publishing Opus packets onto hub.
func NewCapture(cfg Config, source Source, hub *broadcast.Hub[Packet], logger *slog.Logger) (*Capture, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.FrameMS <= 0 {
		return nil, fmt.Errorf("audio: invalid capture config %+v", cfg)
	}
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppRestrictedLowdelay)
	if err != nil {
		return nil, fmt.Errorf("audio: creating opus encoder: %w", err)
	}
	return &Capture{
		cfg:          cfg,
		source:       source,
		encoder:      &opusEncoder{enc: enc},
		hub:          hub,
		logger:       logger,
		frameSamples: cfg.SampleRate * cfg.FrameMS / 1000,
	}, nil
}

// Run reads, encodes, and publishes frames until ctx is cancelled or the
// source fails terminally. A single bad frame is logged and skipped;
// only a source error ends the thread.
func (c *Capture) Run(ctx context.Context) error {
	pcm := make([]int16, c.frameSamples*c.cfg.Channels)
	out := make([]byte, 4000) // RFC 6716 §3.4: maximum Opus packet size wildly overshoots 20 ms stereo.

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.source.Read(pcm); err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("audio: reading source: %w", err)
		}
		n, err := c.encoder.Encode(pcm, out)
		if err != nil {
			c.logger.Warn("opus encode failed, dropping frame", "error", err)
			continue
		}
		payload := make([]byte, n)
		copy(payload, out[:n])
		c.hub.Publish(Packet{Payload: payload, Samples: uint32(c.frameSamples)})
	}
}

// Close releases the audio source.
func (c *Capture) Close() error {
	return c.source.Close()
}

// SilenceSource is the fallback source used when no PulseAudio device is
// configured: it produces zeroed PCM frames paced at the real frame
// interval so the Opus stream stays continuous and the RTP timestamp
// advance stays honest for peers that join before a device exists.
type SilenceSource struct {
	interval time.Duration
	last     time.Time
}

// NewSilenceSource creates a silence source producing one frame every
// frameMS milliseconds.
func NewSilenceSource(frameMS int) *SilenceSource {
	return &SilenceSource{interval: time.Duration(frameMS) * time.Millisecond}
}

// Read zeroes pcm and sleeps long enough to pace output at the frame
// interval.
func (s *SilenceSource) Read(pcm []int16) error {
	clear(pcm)
	now := time.Now()
	if !s.last.IsZero() {
		if sleep := s.interval - now.Sub(s.last); sleep > 0 {
			time.Sleep(sleep)
			now = time.Now()
		}
	}
	s.last = now
	return nil
}

// Close is a no-op.
func (s *SilenceSource) Close() error { return nil }
