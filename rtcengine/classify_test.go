// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		want datagramClass
	}{
		{"stun binding request", []byte{0x00, 0x01, 0x00, 0x00}, classSTUN},
		{"stun low boundary", []byte{0x01}, classSTUN},
		{"dtls low boundary", []byte{20}, classDTLS},
		{"dtls high boundary", []byte{63}, classDTLS},
		{"rtp low boundary", []byte{128}, classRTP},
		{"rtp high boundary", []byte{191}, classRTP},
		{"unknown gap", []byte{64}, classUnknown},
		{"empty", []byte{}, classUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classify(c.b); got != c.want {
				t.Errorf("classify(%v) = %v, want %v", c.b, got, c.want)
			}
		})
	}
}
