// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport implements the single-listening-socket TCP front door:
// a first-byte classifier that dispatches each accepted connection to
// either the HTTP router or the ICE-TCP session matcher, and the RFC 4571
// length-prefixed framing used by every ICE-TCP byte stream.
//
// Classification is deterministic and requires no TLS inspection: HTTP
// request lines begin with an ASCII method letter ('G', 'P', 'H', 'D',
// 'O', 'C', 'T'); RFC 4571 frames begin with a two-byte big-endian length
// whose high byte is never in that range for the frame sizes this server
// produces, and STUN binding requests begin with 0x00 or 0x01.
package transport
