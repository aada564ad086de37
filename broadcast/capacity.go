// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import "math"

// VideoCapacity returns the per-receiver video queue capacity for a
// given target frame rate: ceil(fps * 1.5) packets, about a second and
// a half of frames.
// The caller multiplies by the average packets-per-frame if it wants a
// packet-accurate bound; callers in this codebase size the hub in units
// of RTP packets directly, consistent with the pipeline adapter pushing
// one packet at a time.
func VideoCapacity(targetFPS float64) int {
	return int(math.Ceil(targetFPS * 1.5))
}

// AudioCapacity is the audio broadcast queue size: 200 packets, about
// 4 seconds of 50 packets/s Opus.
const AudioCapacity = 200

// TextCapacity is the text broadcast queue size: 256 messages.
const TextCapacity = 256
