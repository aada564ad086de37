// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import "time"

// OutputKind discriminates the variants Poll can return: transmit
// bytes to the peer, or an event.
type OutputKind int

const (
	OutputTransmit OutputKind = iota
	OutputDataChannelOpen
	OutputDataChannelData
	OutputDataChannelClose
	OutputConnectionStateChange
	// OutputKeyframeRequest is emitted when the peer sends RTCP feedback
	// (PLI or FIR) asking for a fresh keyframe; the driver forwards it to
	// the pipeline adapter.
	OutputKeyframeRequest
)

// ConnectionState is the engine's connection lifecycle as the driver
// observes it.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateHandshaking
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChannelKind distinguishes the primary text data channel from the
// transient binary upload channel.
type ChannelKind int

const (
	ChannelPrimary ChannelKind = iota
	ChannelAuxiliary
)

// Output is one item the driver's drain loop pulls from
// Poll.
type Output struct {
	Kind OutputKind

	// Populated for OutputTransmit: the exact bytes to wrap in one RFC
	// 4571 frame and write to the peer's TCP socket.
	Bytes []byte

	// Populated for OutputDataChannel*.
	Channel ChannelKind
	Label   string
	Data    []byte

	// Populated for OutputConnectionStateChange.
	State ConnectionState

	// NextTimeout, when non-zero, replaces the driver's timer source.
	// Every Output may carry an updated deadline since any engine
	// activity can change it.
	NextTimeout time.Time
}
