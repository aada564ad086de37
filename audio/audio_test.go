// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package audio

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/deskstream/deskstream/broadcast"
)

// countingSource produces n frames of ramp PCM, then EOF.
type countingSource struct {
	frames int
}

func (s *countingSource) Read(pcm []int16) error {
	if s.frames == 0 {
		return io.EOF
	}
	s.frames--
	for i := range pcm {
		pcm[i] = int16(i)
	}
	return nil
}

func (s *countingSource) Close() error { return nil }

// stubEncoder emits one byte per input frame so tests can count packets
// without a real Opus encoder.
type stubEncoder struct {
	calls int
	fail  bool
}

func (e *stubEncoder) Encode(pcm []int16, out []byte) (int, error) {
	e.calls++
	if e.fail && e.calls%2 == 0 {
		return 0, io.ErrShortBuffer
	}
	out[0] = byte(e.calls)
	return 1, nil
}

func newTestCapture(source Source, enc Encoder, hub *broadcast.Hub[Packet]) *Capture {
	cfg := Config{SampleRate: 48000, Channels: 2, FrameMS: 20}
	return &Capture{
		cfg:          cfg,
		source:       source,
		encoder:      enc,
		hub:          hub,
		logger:       slog.Default(),
		frameSamples: cfg.SampleRate * cfg.FrameMS / 1000,
	}
}

func TestCapturePublishesOnePacketPerFrame(t *testing.T) {
	hub := broadcast.NewHub[Packet](broadcast.AudioCapacity)
	rx := hub.Subscribe()
	defer rx.Close()

	capture := newTestCapture(&countingSource{frames: 5}, &stubEncoder{}, hub)
	if err := capture.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var packets []Packet
drain:
	for {
		select {
		case pkt := <-rx.C():
			packets = append(packets, pkt)
		default:
			break drain
		}
	}
	if len(packets) != 5 {
		t.Fatalf("got %d packets, want 5", len(packets))
	}
	for _, pkt := range packets {
		if pkt.Samples != 960 {
			t.Errorf("packet samples = %d, want 960 (20 ms at 48 kHz)", pkt.Samples)
		}
	}
}

func TestCaptureSkipsFailedFrames(t *testing.T) {
	hub := broadcast.NewHub[Packet](broadcast.AudioCapacity)
	rx := hub.Subscribe()
	defer rx.Close()

	capture := newTestCapture(&countingSource{frames: 4}, &stubEncoder{fail: true}, hub)
	if err := capture.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	count := 0
drain:
	for {
		select {
		case <-rx.C():
			count++
		default:
			break drain
		}
	}
	// Every second encode fails; 4 frames yield 2 packets.
	if count != 2 {
		t.Fatalf("got %d packets, want 2", count)
	}
}

func TestSilenceSourcePacing(t *testing.T) {
	source := NewSilenceSource(5)
	pcm := make([]int16, 480)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := source.Read(pcm); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	// First read is immediate; the following two are paced at 5 ms each.
	if elapsed := time.Since(start); elapsed < 8*time.Millisecond {
		t.Errorf("3 reads took %v, want at least ~10ms of pacing", elapsed)
	}
	for _, sample := range pcm {
		if sample != 0 {
			t.Fatal("silence source produced non-zero PCM")
		}
	}
}
