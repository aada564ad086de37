// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import "github.com/pion/rtcp"

// isRTCP distinguishes RTCP from RTP within the 128-191 first-byte
// range, per RFC 5761 §4: RTCP packet types occupy 192-223, which maps
// to the second byte (packet type) rather than a valid RTP payload
// type.
func isRTCP(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return b[1] >= 192 && b[1] <= 223
}

// containsKeyframeRequest reports whether a decrypted RTCP compound
// packet carries a Picture Loss Indication or Full Intra Request — the
// two feedback messages browsers use to ask for a fresh keyframe.
func containsKeyframeRequest(plain []byte) bool {
	packets, err := rtcp.Unmarshal(plain)
	if err != nil {
		return false
	}
	for _, pkt := range packets {
		switch pkt.(type) {
		case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
			return true
		}
	}
	return false
}
