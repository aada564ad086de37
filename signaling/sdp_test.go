// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"errors"
	"strings"
	"testing"
)

// minimalOffer is a typical browser recvonly offer: one video m-line
// offering H.264 at PT 96, one Opus audio m-line at PT 111, one
// application m-line, ICE ufrag "abcd".
const minimalOffer = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0 1 2\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=recvonly\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:p12345678901234567890123\r\n" +
	"a=setup:actpass\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=rtpmap:97 VP8/90000\r\n" +
	"a=rtcp-mux\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:1\r\n" +
	"a=recvonly\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=rtcp-mux\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:2\r\n" +
	"a=sctp-port:5000\r\n"

func TestParseOffer(t *testing.T) {
	offer, err := ParseOffer(minimalOffer, "h264")
	if err != nil {
		t.Fatalf("ParseOffer: %v", err)
	}
	if offer.RemoteUfrag != "abcd" {
		t.Errorf("remote ufrag = %q, want abcd", offer.RemoteUfrag)
	}
	if offer.RemotePwd != "p12345678901234567890123" {
		t.Errorf("remote pwd = %q", offer.RemotePwd)
	}
	if offer.VideoPayloadType != 96 {
		t.Errorf("video PT = %d, want 96", offer.VideoPayloadType)
	}
	if offer.AudioPayloadType != 111 {
		t.Errorf("audio PT = %d, want 111", offer.AudioPayloadType)
	}
}

func TestParseOfferSelectsConfiguredCodec(t *testing.T) {
	offer, err := ParseOffer(minimalOffer, "vp8")
	if err != nil {
		t.Fatalf("ParseOffer: %v", err)
	}
	if offer.VideoPayloadType != 97 {
		t.Errorf("video PT = %d, want 97 (the offer's VP8 PT)", offer.VideoPayloadType)
	}
}

func TestParseOfferRejectsMissingMedia(t *testing.T) {
	noAudio := strings.Replace(minimalOffer, "m=audio", "m=text", 1)
	_, err := ParseOffer(noAudio, "h264")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("ParseOffer = %v, want *ParseError", err)
	}
}

func TestParseOfferRejectsGarbage(t *testing.T) {
	_, err := ParseOffer("not sdp at all", "h264")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("ParseOffer = %v, want *ParseError", err)
	}
}

func buildTestAnswer(t *testing.T) string {
	t.Helper()
	offer, err := ParseOffer(minimalOffer, "h264")
	if err != nil {
		t.Fatalf("ParseOffer: %v", err)
	}
	answer, err := BuildAnswer(offer, AnswerParams{
		SessionID:     "0123456789abcdef0123456789abcdef",
		LocalUfrag:    "localfrg",
		LocalPwd:      "localpwd901234567890123",
		Fingerprint:   "AA:BB:CC:DD",
		CandidateHost: "10.0.0.1",
		CandidatePort: 8008,
		VideoCodec:    "h264",
		VideoSSRC:     1111,
		AudioSSRC:     2222,
	})
	if err != nil {
		t.Fatalf("BuildAnswer: %v", err)
	}
	return answer
}

func TestBuildAnswerConstraints(t *testing.T) {
	answer := buildTestAnswer(t)

	if !strings.Contains(answer, "a=ice-lite") {
		t.Error("answer does not advertise ice-lite")
	}
	if got := strings.Count(answer, "a=candidate:"); got != 3 {
		t.Errorf("answer has %d candidate lines, want one per media section (3)", got)
	}
	wantCandidate := "a=candidate:1 1 tcp 2130706431 10.0.0.1 8008 typ host tcptype passive"
	if !strings.Contains(answer, wantCandidate) {
		t.Errorf("answer missing candidate %q:\n%s", wantCandidate, answer)
	}
	if !strings.Contains(answer, "a=setup:passive") {
		t.Error("answer does not declare setup:passive")
	}
	for _, mline := range []string{
		"m=video 8008 UDP/TLS/RTP/SAVPF 96",
		"m=audio 8008 UDP/TLS/RTP/SAVPF 111",
		"m=application 8008 UDP/DTLS/SCTP webrtc-datachannel",
	} {
		if !strings.Contains(answer, mline) {
			t.Errorf("answer missing m-line %q:\n%s", mline, answer)
		}
	}
	if !strings.Contains(answer, "a=rtpmap:96 H264/90000") {
		t.Error("answer video rtpmap missing or wrong PT")
	}
	if !strings.Contains(answer, "a=rtpmap:111 opus/48000/2") {
		t.Error("answer audio rtpmap missing or wrong PT")
	}
	if !strings.Contains(answer, "a=sendonly") {
		t.Error("answer media sections are not sendonly")
	}
}

func TestBuildAnswerEchoesMids(t *testing.T) {
	answer := buildTestAnswer(t)
	for _, mid := range []string{"a=mid:0", "a=mid:1", "a=mid:2"} {
		if !strings.Contains(answer, mid) {
			t.Errorf("answer missing %q", mid)
		}
	}
	if !strings.Contains(answer, "a=group:BUNDLE 0 1 2") {
		t.Error("answer does not echo the offer's BUNDLE group")
	}
}

func TestBuildAnswerHostnameCandidate(t *testing.T) {
	offer, err := ParseOffer(minimalOffer, "h264")
	if err != nil {
		t.Fatalf("ParseOffer: %v", err)
	}
	answer, err := BuildAnswer(offer, AnswerParams{
		SessionID:     "0123456789abcdef0123456789abcdef",
		LocalUfrag:    "localfrg",
		LocalPwd:      "localpwd901234567890123",
		Fingerprint:   "AA:BB",
		CandidateHost: "desk.example.com",
		CandidatePort: 8008,
		VideoCodec:    "h264",
	})
	if err != nil {
		t.Fatalf("BuildAnswer: %v", err)
	}
	if !strings.Contains(answer, "desk.example.com 8008 typ host tcptype passive") {
		t.Error("FQDN candidate not carried through")
	}
	if !strings.Contains(answer, "c=IN IP4 0.0.0.0") {
		t.Error("c= line should fall back to 0.0.0.0 for FQDN candidates")
	}
}
