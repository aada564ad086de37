// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package dcproto implements the data-channel control protocol:
// parsing the comma-separated inbound text messages a browser peer sends
// on its primary channel, routing the binary chunks of the auxiliary
// upload channel, and naming the outbound message formats the rest of
// the process publishes.
//
// Parsing is total: an unknown message is logged and ignored, and a
// malformed field fails that one message without affecting the channel
// or the session.
package dcproto
