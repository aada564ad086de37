// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

// Packet is the pipeline's internal representation of one outbound RTP
// packet. SSRC is per peer: the session registry assigns it and the RTC
// engine fills it in when writing to a session, so it is intentionally
// absent here.
type Packet struct {
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	Marker         bool
	Payload        []byte
	IsKeyframePart bool
}

// Frame is one fully-packetized frame: every packet shares Timestamp,
// and the last one (by arrival order) has Marker set. IsKeyframe is true
// iff any constituent packet is IsKeyframePart.
type Frame struct {
	Timestamp  uint32
	Packets    []Packet
	IsKeyframe bool
}

// Clone returns a deep copy of the frame's packets, since the keyframe
// cache is "cloned on read" to avoid aliasing the cache's
// backing arrays into a caller that might mutate them.
func (f Frame) Clone() Frame {
	out := Frame{Timestamp: f.Timestamp, IsKeyframe: f.IsKeyframe, Packets: make([]Packet, len(f.Packets))}
	for i, p := range f.Packets {
		payload := make([]byte, len(p.Payload))
		copy(payload, p.Payload)
		p.Payload = payload
		out.Packets[i] = p
	}
	return out
}
