// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import "sync"

// KeyframeCache holds the most recently completed keyframe's packets.
// It is exclusively owned by the pipeline adapter; readers get a cloned
// snapshot under a short exclusive lock.
type KeyframeCache struct {
	mu    sync.Mutex
	frame Frame
	set   bool
}

// NewKeyframeCache creates an empty cache.
func NewKeyframeCache() *KeyframeCache {
	return &KeyframeCache{}
}

// Store atomically replaces the cached keyframe.
func (c *KeyframeCache) Store(frame Frame) {
	c.mu.Lock()
	c.frame = frame
	c.set = true
	c.mu.Unlock()
}

// Snapshot returns a cloned copy of the cached keyframe and whether one
// is present. Callers (session drivers replaying to a late joiner) own
// the returned copy outright.
func (c *KeyframeCache) Snapshot() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return Frame{}, false
	}
	return c.frame.Clone(), true
}
