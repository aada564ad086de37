// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the session registry and the per-peer RTC
// session driver.
//
// The registry maps remote ufrag → live session and session id → live
// session, matches inbound ICE-TCP connections to sessions by the STUN
// USERNAME attribute of their first RFC 4571 frame, and garbage-collects
// sessions whose peers have gone silent.
//
// Each attached connection gets one driver goroutine that multiplexes
// TCP input, the three broadcast fabrics, the keepalive ping timer, and
// the engine's timeout deadline through a single select loop — and
// drains the engine's outputs after every write so each RTP packet is
// encrypted and transmitted in arrival order.
package session
