// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import (
	"crypto/tls"
	"log/slog"
	"net"
)

// MediaID distinguishes the video and audio RTP streams a session
// engine multiplexes.
type MediaID int

const (
	MediaVideo MediaID = iota
	MediaAudio
)

// Config configures one Engine instance, created fresh per session by
// the session registry on signaling offer.
type Config struct {
	// Certificate is the process-wide self-signed DTLS certificate
	// (rtcengine.GenerateCertificate), shared across sessions: WebRTC
	// authenticates peers by fingerprint, not by a per-session identity.
	Certificate tls.Certificate

	LocalUfrag, LocalPwd   string
	RemoteUfrag, RemotePwd string

	// VideoSSRC/AudioSSRC are this engine's outbound SSRCs, assigned by
	// the session registry at session creation and advertised in the
	// SDP answer's m-lines.
	VideoSSRC, AudioSSRC uint32

	// LocalAddr/RemoteAddr label the bridge's net.Addr only; no socket
	// is opened against them.
	LocalAddr, RemoteAddr net.Addr

	Logger *slog.Logger
}
