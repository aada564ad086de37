// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling implements the WebSocket signaling endpoint: it
// accepts exactly one SDP offer per connection, creates a
// session in the registry, and answers with an ICE-lite SDP carrying a
// single TCP passive host candidate pointed at the multiplexer port.
//
// No trickle ICE: every candidate is in the answer, so the WebSocket
// can close immediately after the answer and the session survives.
package signaling
