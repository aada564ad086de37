// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline adapts raw RGBA frames from the compositor into RTP
// packets, and owns the keyframe cache that serves late
// joiners and lagged receivers.
//
// The adapter is encoder-agnostic: a Backend implementation does the
// actual bitstream compression, and the adapter is responsible only for
// the packet-level contract — one RTP timestamp per
// frame, marker bit on the last packet, monotonic gap-free sequence
// numbers, keyframe tagging and caching. Resolution changes and forced
// keyframes flow through the same Backend interface.
package pipeline
