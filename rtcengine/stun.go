// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import (
	"fmt"
	"net"
	"strings"

	"github.com/pion/stun/v3"
)

// parseUsername extracts the ICE USERNAME attribute ("local_ufrag:
// remote_ufrag") from a decoded STUN message.
func parseUsername(m *stun.Message) (string, error) {
	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return "", fmt.Errorf("rtcengine: STUN message has no USERNAME attribute: %w", err)
	}
	return string(username), nil
}

// UsernameFromDatagram decodes datagram as a STUN binding request and
// returns its USERNAME attribute. The session registry uses this on the
// first frame of every unmatched ICE-TCP connection.
func UsernameFromDatagram(datagram []byte) (string, error) {
	m := &stun.Message{Raw: append([]byte{}, datagram...)}
	if err := m.Decode(); err != nil {
		return "", fmt.Errorf("rtcengine: decoding STUN message: %w", err)
	}
	if m.Type != stun.BindingRequest {
		return "", fmt.Errorf("rtcengine: first frame is %s, not a binding request", m.Type)
	}
	return parseUsername(m)
}

// LocalUfragFromUsername splits the ICE USERNAME attribute into its
// local and remote ufrag halves.
func LocalUfragFromUsername(username string) (local, remote string, ok bool) {
	local, remote, found := strings.Cut(username, ":")
	return local, remote, found
}

// handleSTUN decodes an inbound STUN binding request and, if it
// matches this engine's credentials, returns the encoded success
// response to transmit. ICE-lite never issues its own binding requests
//: it only ever answers.
func (e *Engine) handleSTUN(datagram []byte) ([]byte, error) {
	m := &stun.Message{Raw: append([]byte{}, datagram...)}
	if err := m.Decode(); err != nil {
		return nil, fmt.Errorf("rtcengine: decoding STUN message: %w", err)
	}
	if m.Type != stun.BindingRequest {
		// Not a binding request (e.g. an indication); ICE-lite has
		// nothing useful to reply with, so it is simply ignored.
		return nil, nil
	}
	username, err := parseUsername(m)
	if err != nil {
		return nil, err
	}
	if local, _, ok := LocalUfragFromUsername(username); !ok || local != e.cfg.LocalUfrag {
		return nil, fmt.Errorf("rtcengine: STUN username %q does not name local ufrag %q", username, e.cfg.LocalUfrag)
	}
	if err := stun.NewShortTermIntegrity(e.cfg.LocalPwd).Check(m); err != nil {
		return nil, fmt.Errorf("rtcengine: STUN message integrity check failed: %w", err)
	}

	remoteAddr, _ := e.cfg.RemoteAddr.(*net.TCPAddr)
	if remoteAddr == nil {
		remoteAddr = &net.TCPAddr{IP: net.IPv4zero, Port: 0}
	}

	response, err := stun.Build(
		stun.BindingSuccess,
		stun.NewTransactionIDSetter(m.TransactionID),
		&stun.XORMappedAddress{IP: remoteAddr.IP, Port: remoteAddr.Port},
		stun.NewShortTermIntegrity(e.cfg.LocalPwd),
		stun.Fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("rtcengine: building STUN response: %w", err)
	}
	return response.Raw, nil
}
