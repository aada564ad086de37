// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLength is the largest payload RFC 4571 framing can carry: the
// length prefix is a 16-bit unsigned integer.
const MaxFrameLength = 65535

// ErrZeroLengthFrame is returned when a frame's length prefix is zero;
// an empty frame carries nothing any upper layer could parse.
var ErrZeroLengthFrame = errors.New("transport: RFC 4571 frame length is zero")

// EncodeFrame prepends a 16-bit big-endian length to payload, per RFC 4571.
// payload must be 1 to MaxFrameLength bytes.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrZeroLengthFrame
	}
	if len(payload) > MaxFrameLength {
		return nil, fmt.Errorf("transport: frame payload %d bytes exceeds max %d", len(payload), MaxFrameLength)
	}
	out := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(out, uint16(len(payload)))
	copy(out[2:], payload)
	return out, nil
}

// FrameDecoder incrementally decodes a stream of RFC 4571 frames from
// arbitrary-sized reads: partial reads are preserved across calls
// until a complete frame is available.
type FrameDecoder struct {
	buf []byte
}

// NewFrameDecoder creates an empty decoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed appends newly read bytes to the decoder's internal buffer.
func (d *FrameDecoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Next extracts and returns the next complete frame's payload, if one is
// fully buffered. It returns ok=false when more bytes are needed. A
// length-0 frame is a protocol error.
func (d *FrameDecoder) Next() (payload []byte, ok bool, err error) {
	if len(d.buf) < 2 {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint16(d.buf)
	if length == 0 {
		return nil, false, ErrZeroLengthFrame
	}
	total := 2 + int(length)
	if len(d.buf) < total {
		return nil, false, nil
	}

	payload = make([]byte, length)
	copy(payload, d.buf[2:total])

	remaining := len(d.buf) - total
	if remaining > 0 {
		copy(d.buf, d.buf[total:])
	}
	d.buf = d.buf[:remaining]

	return payload, true, nil
}

// ReadFrame reads exactly one RFC 4571 frame from r, blocking until the
// full frame (length prefix + payload) has arrived. It is a convenience
// wrapper for call sites that own a single-use io.Reader, such as the
// session registry reading the first STUN-carrying frame off a freshly
// matched connection.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [2]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(lengthBuf[:])
	if length == 0 {
		return nil, ErrZeroLengthFrame
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame encodes payload and writes it to w in one call.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
