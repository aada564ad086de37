// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pion/sctp"
)

// DCEP (RFC 8832) message types. The browser always initiates both the
// primary text channel and the transient upload channel, so this
// engine only ever answers DATA_CHANNEL_OPEN with DATA_CHANNEL_ACK —
// it never sends OPEN itself.
const (
	dcepOpen = 0x03
	dcepAck  = 0x02
)

// SCTP payload protocol identifiers (RFC 8831 §6), used to tell DCEP
// control messages apart from the two data-channel payload kinds.
const (
	ppidDCEP        sctp.PayloadProtocolIdentifier = 50
	ppidString      sctp.PayloadProtocolIdentifier = 51
	ppidBinary      sctp.PayloadProtocolIdentifier = 53
	ppidStringEmpty sctp.PayloadProtocolIdentifier = 56
	ppidBinaryEmpty sctp.PayloadProtocolIdentifier = 57
)

// dcepOpenMessage is the wire layout of a DATA_CHANNEL_OPEN message
// (RFC 8832 §5.1): 1-byte type, 1-byte channel type, 2-byte priority,
// 4-byte reliability parameter, 2-byte label length, 2-byte protocol
// length, then the label and protocol strings.
type dcepOpenMessage struct {
	channelType          byte
	priority             uint16
	reliabilityParameter uint32
	label, protocol      string
}

func decodeDCEPOpen(b []byte) (dcepOpenMessage, error) {
	if len(b) < 12 || b[0] != dcepOpen {
		return dcepOpenMessage{}, fmt.Errorf("rtcengine: not a DATA_CHANNEL_OPEN message (%d bytes)", len(b))
	}
	labelLen := binary.BigEndian.Uint16(b[8:10])
	protoLen := binary.BigEndian.Uint16(b[10:12])
	want := 12 + int(labelLen) + int(protoLen)
	if len(b) < want {
		return dcepOpenMessage{}, fmt.Errorf("rtcengine: truncated DATA_CHANNEL_OPEN (%d bytes, want %d)", len(b), want)
	}
	return dcepOpenMessage{
		channelType:          b[1],
		priority:             binary.BigEndian.Uint16(b[2:4]),
		reliabilityParameter: binary.BigEndian.Uint32(b[4:8]),
		label:                string(b[12 : 12+labelLen]),
		protocol:             string(b[12+labelLen : want]),
	}, nil
}

func encodeDCEPAck() []byte {
	return []byte{dcepAck}
}

// dataChannel tracks one accepted SCTP stream and its classification
// (primary text vs. auxiliary upload). A session carries one primary
// text channel and at most one transient auxiliary binary channel for
// uploads.
type dataChannel struct {
	stream *sctp.Stream
	label  string
	kind   ChannelKind
}

// acceptDataChannels runs on its own goroutine for the lifetime of the
// SCTP association: it accepts every new stream the browser opens,
// completes the DCEP open/ack handshake, classifies the channel by
// label, and then relays every subsequent message as an
// OutputDataChannelData event into the engine's output queue.
func (e *Engine) acceptDataChannels(assoc *sctp.Association) {
	for {
		stream, err := assoc.AcceptStream()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.cfg.Logger.Debug("sctp accept stream stopped", "error", err)
			}
			return
		}
		go e.serveDataChannelStream(stream)
	}
}

func (e *Engine) serveDataChannelStream(stream *sctp.Stream) {
	header := make([]byte, 4096)
	n, err := stream.Read(header)
	if err != nil {
		e.cfg.Logger.Debug("reading DCEP open failed", "error", err)
		return
	}
	open, err := decodeDCEPOpen(header[:n])
	if err != nil {
		e.cfg.Logger.Warn("malformed DCEP open", "error", err)
		return
	}

	if _, err := stream.WriteSCTP(encodeDCEPAck(), ppidDCEP); err != nil {
		e.cfg.Logger.Debug("writing DCEP ack failed", "error", err)
		return
	}

	kind := ChannelPrimary
	if open.label != primaryChannelLabel {
		kind = ChannelAuxiliary
	}

	dc := &dataChannel{stream: stream, label: open.label, kind: kind}
	e.mu.Lock()
	if kind == ChannelPrimary {
		e.primaryChannel = dc
	} else {
		e.auxChannel = dc
	}
	e.mu.Unlock()

	e.pushOutput(Output{Kind: OutputDataChannelOpen, Channel: kind, Label: open.label})

	buf := make([]byte, 64*1024)
	for {
		n, err := stream.Read(buf)
		if err != nil {
			e.pushOutput(Output{Kind: OutputDataChannelClose, Channel: kind, Label: open.label})
			e.mu.Lock()
			if kind == ChannelPrimary && e.primaryChannel == dc {
				e.primaryChannel = nil
			} else if kind == ChannelAuxiliary && e.auxChannel == dc {
				e.auxChannel = nil
			}
			e.mu.Unlock()
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.pushOutput(Output{Kind: OutputDataChannelData, Channel: kind, Label: open.label, Data: data})
	}
}

// primaryChannelLabel is the label the browser client is expected to
// use for the main input/control channel; anything else is
// treated as the transient upload channel.
const primaryChannelLabel = "control"

// WriteDataChannel sends data on the primary text channel. It is a
// no-op, not an error, if the channel hasn't opened yet — the caller
// (session driver) only calls this after observing an
// OutputDataChannelOpen event.
func (e *Engine) WriteDataChannel(data []byte) error {
	e.mu.Lock()
	dc := e.primaryChannel
	e.mu.Unlock()
	if dc == nil {
		return nil
	}
	_, err := dc.stream.WriteSCTP(data, ppidString)
	return err
}
