// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const defaultMTU = 1200

// newPayloader returns the pion/rtp payloader for codec. VP9 and AV1
// don't ship a codecs.Payloader in this version of pion/rtp, so they
// fall back to genericPayloader, which still upholds the adapter's
// packet contract (one timestamp per frame, marker on the last packet) without
// respecting codec-specific partitioning rules — acceptable because
// those two codecs are reached only when config selects them explicitly
// and the hardware/software backend they pair with is itself a
// placeholder (see encoder.go).
func newPayloader(codec Codec) rtp.Payloader {
	switch codec {
	case CodecH264:
		return &codecs.H264Payloader{}
	case CodecVP8:
		return &codecs.VP8Payloader{}
	default:
		return &genericPayloader{}
	}
}

// genericPayloader splits an arbitrary byte slice into MTU-sized chunks
// with no codec-aware partitioning.
type genericPayloader struct{}

func (genericPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu == 0 {
		return [][]byte{payload}
	}
	var out [][]byte
	for len(payload) > int(mtu) {
		out = append(out, payload[:mtu])
		payload = payload[mtu:]
	}
	out = append(out, payload)
	return out
}

// payloadTypeForCodec maps a negotiated codec to the RTP payload type
// used throughout this process. These match the dynamic payload type
// range the SDP answer negotiates.
func payloadTypeForCodec(codec Codec) uint8 {
	switch codec {
	case CodecH264:
		return 96
	case CodecVP8:
		return 97
	case CodecVP9:
		return 98
	case CodecAV1:
		return 99
	default:
		return 96
	}
}

// sequentialSequencer hands out gap-free, monotonically increasing RTP
// sequence numbers, wrapping at 16 bits as RTP requires. Unlike
// pion/rtp's built-in random sequencer, this one is deterministic so
// that tests can assert on exact sequence numbers.
type sequentialSequencer struct {
	next uint16
}

func (s *sequentialSequencer) NextSequenceNumber() uint16 {
	n := s.next
	s.next++
	return n
}

func (s *sequentialSequencer) RollOverCount() uint64 { return 0 }
