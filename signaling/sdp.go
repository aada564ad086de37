// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// ParseError reports a malformed offer:
// the signaling endpoint answers with an error and creates no session.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signaling: %s: %v", e.Reason, e.Err)
	}
	return "signaling: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// candidatePriority is the fixed priority of the answer's single TCP
// passive host candidate. With exactly one candidate there is nothing
// to rank, so the value only needs to be a well-formed host-candidate
// priority.
const candidatePriority = 2130706431

// sctpPort is the SCTP port advertised on the application m-line.
const sctpPort = 5000

// Offer is the parsed form of a browser's SDP offer: the remote ICE
// credentials and the payload types negotiated for this server's codecs.
type Offer struct {
	RemoteUfrag string
	RemotePwd   string

	// VideoPayloadType is the offer's payload type for the configured
	// video codec; AudioPayloadType is the offer's Opus payload type.
	VideoPayloadType uint8
	AudioPayloadType uint8

	parsed *sdp.SessionDescription
}

// rtpCodecName maps a configured codec to its SDP rtpmap encoding name.
func rtpCodecName(codec string) (string, error) {
	switch strings.ToLower(codec) {
	case "h264":
		return "H264", nil
	case "vp8":
		return "VP8", nil
	case "vp9":
		return "VP9", nil
	case "av1":
		return "AV1", nil
	default:
		return "", fmt.Errorf("signaling: unknown video codec %q", codec)
	}
}

// ParseOffer validates a browser SDP offer and extracts the remote
// credentials and payload types. videoCodec is the configured codec
// name ("h264", "vp8", "vp9", "av1"); the offer must contain a video, an
// audio, and an application m-line.
func ParseOffer(raw string, videoCodec string) (*Offer, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return nil, &ParseError{Reason: "unmarshaling SDP offer", Err: err}
	}

	codecName, err := rtpCodecName(videoCodec)
	if err != nil {
		return nil, err
	}

	offer := &Offer{
		VideoPayloadType: 96,
		AudioPayloadType: 111,
		parsed:           parsed,
	}

	offer.RemoteUfrag = findAttribute(parsed, "ice-ufrag")
	offer.RemotePwd = findAttribute(parsed, "ice-pwd")
	if offer.RemoteUfrag == "" || offer.RemotePwd == "" {
		return nil, &ParseError{Reason: "offer has no ice-ufrag/ice-pwd"}
	}

	var haveVideo, haveAudio, haveApplication bool
	for _, media := range parsed.MediaDescriptions {
		switch media.MediaName.Media {
		case "video":
			haveVideo = true
			if pt, ok := payloadTypeFor(media, codecName); ok {
				offer.VideoPayloadType = pt
			}
		case "audio":
			haveAudio = true
			if pt, ok := payloadTypeFor(media, "opus"); ok {
				offer.AudioPayloadType = pt
			}
		case "application":
			haveApplication = true
		}
	}
	if !haveVideo || !haveAudio || !haveApplication {
		return nil, &ParseError{Reason: fmt.Sprintf(
			"offer must have video, audio, and application m-lines (video=%t audio=%t application=%t)",
			haveVideo, haveAudio, haveApplication)}
	}

	return offer, nil
}

// findAttribute returns the first value of key at the session level or
// on any media section; ICE credentials may legally appear at either.
func findAttribute(parsed *sdp.SessionDescription, key string) string {
	for _, attr := range parsed.Attributes {
		if attr.Key == key {
			return attr.Value
		}
	}
	for _, media := range parsed.MediaDescriptions {
		for _, attr := range media.Attributes {
			if attr.Key == key {
				return attr.Value
			}
		}
	}
	return ""
}

// payloadTypeFor scans a media section's rtpmap attributes for the
// given encoding name (case-insensitive) and returns its payload type.
func payloadTypeFor(media *sdp.MediaDescription, codecName string) (uint8, bool) {
	for _, attr := range media.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		ptStr, encoding, ok := strings.Cut(attr.Value, " ")
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(encoding, "/")
		if !strings.EqualFold(name, codecName) {
			continue
		}
		pt, err := strconv.ParseUint(ptStr, 10, 8)
		if err != nil {
			continue
		}
		return uint8(pt), true
	}
	return 0, false
}

// AnswerParams carries everything BuildAnswer needs beyond the offer
// itself.
type AnswerParams struct {
	SessionID  string
	LocalUfrag string
	LocalPwd   string

	// Fingerprint is the DTLS certificate's SHA-256 fingerprint in SDP
	// colon-hex form.
	Fingerprint string

	// CandidateHost/CandidatePort form the answer's single TCP passive
	// candidate, resolved per the configured address policy.
	CandidateHost string
	CandidatePort int

	VideoCodec string
	VideoSSRC  uint32
	AudioSSRC  uint32
}

// BuildAnswer produces the SDP answer for offer: ICE-lite, setup
// passive, one TCP passive host candidate per media section, m-lines
// echoing the offer's order, mids, and protocols with this server's
// payload types.
func BuildAnswer(offer *Offer, p AnswerParams) (string, error) {
	codecName, err := rtpCodecName(p.VideoCodec)
	if err != nil {
		return "", err
	}

	answer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(candidatePriority),
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName:      "-",
		TimeDescriptions: []sdp.TimeDescription{{}},
		Attributes: []sdp.Attribute{
			sdp.NewPropertyAttribute("ice-lite"),
			sdp.NewAttribute("msid-semantic", " WMS deskstream"),
		},
	}

	if group := findAttribute(offer.parsed, "group"); group != "" {
		answer.Attributes = append(answer.Attributes, sdp.NewAttribute("group", group))
	}

	candidate := fmt.Sprintf("1 1 tcp %d %s %d typ host tcptype passive",
		candidatePriority, p.CandidateHost, p.CandidatePort)
	connectionAddress := p.CandidateHost
	if net.ParseIP(connectionAddress) == nil {
		// The candidate may carry an FQDN, but c= requires an address.
		connectionAddress = "0.0.0.0"
	}

	for _, offered := range offer.parsed.MediaDescriptions {
		mid := mediaAttribute(offered, "mid")
		media := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:  offered.MediaName.Media,
				Port:   sdp.RangedPort{Value: p.CandidatePort},
				Protos: offered.MediaName.Protos,
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: connectionAddress},
			},
		}
		addShared := func() {
			media.Attributes = append(media.Attributes,
				sdp.NewAttribute("mid", mid),
				sdp.NewAttribute("ice-ufrag", p.LocalUfrag),
				sdp.NewAttribute("ice-pwd", p.LocalPwd),
				sdp.NewAttribute("fingerprint", "sha-256 "+p.Fingerprint),
				sdp.NewAttribute("setup", "passive"),
				sdp.NewAttribute("candidate", candidate),
			)
		}

		switch offered.MediaName.Media {
		case "video":
			pt := int(offer.VideoPayloadType)
			media.MediaName.Formats = []string{strconv.Itoa(pt)}
			addShared()
			media.Attributes = append(media.Attributes,
				sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/90000", pt, codecName)),
				sdp.NewPropertyAttribute("sendonly"),
				sdp.NewPropertyAttribute("rtcp-mux"),
				sdp.NewAttribute("ssrc", fmt.Sprintf("%d cname:deskstream", p.VideoSSRC)),
			)
			if codecName == "H264" {
				media.Attributes = append(media.Attributes,
					sdp.NewAttribute("fmtp", fmt.Sprintf("%d level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", pt)))
			}
		case "audio":
			pt := int(offer.AudioPayloadType)
			media.MediaName.Formats = []string{strconv.Itoa(pt)}
			addShared()
			media.Attributes = append(media.Attributes,
				sdp.NewAttribute("rtpmap", fmt.Sprintf("%d opus/48000/2", pt)),
				sdp.NewAttribute("fmtp", fmt.Sprintf("%d minptime=10;useinbandfec=1", pt)),
				sdp.NewPropertyAttribute("sendonly"),
				sdp.NewPropertyAttribute("rtcp-mux"),
				sdp.NewAttribute("ssrc", fmt.Sprintf("%d cname:deskstream", p.AudioSSRC)),
			)
		case "application":
			media.MediaName.Formats = offered.MediaName.Formats
			addShared()
			media.Attributes = append(media.Attributes,
				sdp.NewAttribute("sctp-port", strconv.Itoa(sctpPort)),
				sdp.NewAttribute("max-message-size", "262144"),
			)
		default:
			// Echo unknown media sections rejected (port 0), per the
			// answerer rules of RFC 3264 §6.
			media.MediaName.Port = sdp.RangedPort{Value: 0}
			media.MediaName.Formats = offered.MediaName.Formats
			media.Attributes = append(media.Attributes, sdp.NewAttribute("mid", mid))
		}

		answer.MediaDescriptions = append(answer.MediaDescriptions, media)
	}

	out, err := answer.Marshal()
	if err != nil {
		return "", fmt.Errorf("signaling: marshaling SDP answer: %w", err)
	}
	return string(out), nil
}

func mediaAttribute(media *sdp.MediaDescription, key string) string {
	for _, attr := range media.Attributes {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}
