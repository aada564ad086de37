// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package rtcengine implements the per-peer Sans-I/O WebRTC session
// engine: one Engine owns the ICE-lite STUN responder, the DTLS server
// handshake, SRTP/SRTCP encrypt-per-packet, and the SCTP association
// carrying the data channel for a single peer.
//
// The host loop (the session driver) feeds inbound network datagrams
// to Feed, writes outbound RTP with WriteRTP, writes outbound
// data-channel messages with WriteDataChannel, and drains Poll in a
// tight loop after each write so encryption and transmission stay in
// arrival order.
//
// None of pion/dtls, pion/sctp, or pion/srtp expose a true poll-based
// Sans-I/O state machine on their own — dtls.Conn and sctp.Association
// are connection-oriented and block on Read. Engine bridges that
// surface to the poll-based contract the driver expects via an internal
// in-memory net.Conn (bridge.go) that channels feed instead of a
// socket: the DTLS and SCTP goroutines block on that bridge, never on
// real I/O, so Feed/Poll remain non-blocking from the driver's point of
// view.
package rtcengine
