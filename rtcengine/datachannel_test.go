// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import (
	"encoding/binary"
	"testing"
)

func encodeDCEPOpenForTest(label, protocol string) []byte {
	b := make([]byte, 12+len(label)+len(protocol))
	b[0] = dcepOpen
	b[1] = 0 // channel type: reliable, ordered
	binary.BigEndian.PutUint16(b[8:10], uint16(len(label)))
	binary.BigEndian.PutUint16(b[10:12], uint16(len(protocol)))
	copy(b[12:], label)
	copy(b[12+len(label):], protocol)
	return b
}

func TestDecodeDCEPOpen(t *testing.T) {
	raw := encodeDCEPOpenForTest("control", "")
	msg, err := decodeDCEPOpen(raw)
	if err != nil {
		t.Fatalf("decodeDCEPOpen: %v", err)
	}
	if msg.label != "control" {
		t.Errorf("label = %q, want control", msg.label)
	}
}

func TestDecodeDCEPOpenRejectsTruncated(t *testing.T) {
	raw := encodeDCEPOpenForTest("upload", "")
	_, err := decodeDCEPOpen(raw[:len(raw)-2])
	if err == nil {
		t.Fatal("decodeDCEPOpen on truncated input = nil error, want error")
	}
}

func TestDecodeDCEPOpenRejectsWrongType(t *testing.T) {
	raw := encodeDCEPOpenForTest("control", "")
	raw[0] = dcepAck
	if _, err := decodeDCEPOpen(raw); err == nil {
		t.Fatal("decodeDCEPOpen on ACK-typed input = nil error, want error")
	}
}

func TestEncodeDCEPAck(t *testing.T) {
	ack := encodeDCEPAck()
	if len(ack) != 1 || ack[0] != dcepAck {
		t.Errorf("encodeDCEPAck() = %v, want [%d]", ack, dcepAck)
	}
}
