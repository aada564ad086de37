// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import "fmt"

// Codec identifies the video compression format negotiated in the SDP
// answer.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecVP8  Codec = "vp8"
	CodecVP9  Codec = "vp9"
	CodecAV1  Codec = "av1"
)

// CompressedFrame is one encoder output: a compressed bitstream unit
// (e.g. one H.264 access unit, or one VP8/VP9/AV1 frame) ready for
// packetization.
type CompressedFrame struct {
	Data       []byte
	IsKeyframe bool
}

// Backend performs the actual bitstream compression. The
// hardware-encoder selection heuristic is an external collaborator; this
// interface is the seam it plugs into — any implementation that upholds
// the contract (one compressed frame per input frame, keyframes tagged,
// reconfigurable on resize) satisfies the adapter.
type Backend interface {
	// Encode compresses one RGBA frame. forceKeyframe requests (but does
	// not strictly require immediate) a keyframe — the adapter retries
	// the request on the next frame if this one isn't tagged as one.
	Encode(rgba []byte, width, height int, forceKeyframe bool) (CompressedFrame, error)

	// Reconfigure adjusts the encoder for a new output resolution. The
	// next Encode call after Reconfigure must produce a keyframe.
	Reconfigure(width, height int) error

	Close() error
}

// NewBackend selects an encoder backend for codec. hardwareEncoder is the
// configured heuristic name ("auto", "vaapi", "nvenc", "software", ...);
// the selection heuristic itself is implementation-defined. This
// constructor always returns the software fallback because the actual
// hardware probing is an external collaborator — see DESIGN.md.
func NewBackend(codec Codec, hardwareEncoder string, keyframeIntervalFrames int) (Backend, error) {
	switch codec {
	case CodecH264, CodecVP8, CodecVP9, CodecAV1:
		return newSoftwareBackend(codec, keyframeIntervalFrames), nil
	default:
		return nil, fmt.Errorf("pipeline: unsupported codec %q", codec)
	}
}

// softwareBackend is a deterministic, dependency-free placeholder
// compressor: it frames each input as one compressed unit and marks
// every Nth frame (or the first frame after Reconfigure/forceKeyframe)
// a keyframe. It exists to exercise the RTP packet contract end to end
// without requiring a real codec library; codec and hardware selection
// live behind this seam.
type softwareBackend struct {
	codec            Codec
	keyframeInterval int
	frameCount       int
	forceNext        bool
}

func newSoftwareBackend(codec Codec, keyframeInterval int) *softwareBackend {
	if keyframeInterval < 1 {
		keyframeInterval = 120
	}
	return &softwareBackend{codec: codec, keyframeInterval: keyframeInterval, forceNext: true}
}

func (b *softwareBackend) Encode(rgba []byte, width, height int, forceKeyframe bool) (CompressedFrame, error) {
	isKeyframe := forceKeyframe || b.forceNext || b.frameCount%b.keyframeInterval == 0
	b.forceNext = false
	b.frameCount++

	data := make([]byte, len(rgba))
	copy(data, rgba)

	return CompressedFrame{Data: data, IsKeyframe: isKeyframe}, nil
}

func (b *softwareBackend) Reconfigure(width, height int) error {
	b.frameCount = 0
	b.forceNext = true
	return nil
}

func (b *softwareBackend) Close() error { return nil }
