// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package broadcast implements the bounded multi-producer/multi-consumer
// fan-out fabric that sits between the compositor/pipeline/audio
// producers and the per-peer session drivers.
//
// Producers never block: Publish drops the oldest buffered item when a
// receiver's queue is full rather than apply backpressure. Each receiver
// is told how many items it missed so the caller can request a fresh
// keyframe.
package broadcast

import "sync"

// Lagged carries the number of items a Receiver dropped since its last
// successful receive because its queue was full.
type Lagged struct {
	Missed uint64
}

// Hub fans out values of type T to any number of receivers. Each
// receiver has its own bounded queue; a full queue drops its oldest
// entry to admit the new one.
type Hub[T any] struct {
	mu        sync.Mutex
	capacity  int
	receivers map[*Receiver[T]]struct{}
}

// NewHub creates a fan-out hub with the given per-receiver queue capacity.
func NewHub[T any](capacity int) *Hub[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Hub[T]{
		capacity:  capacity,
		receivers: make(map[*Receiver[T]]struct{}),
	}
}

// Subscribe creates a new receiver. The caller must call Close when done
// to release the receiver's slot in the hub.
func (h *Hub[T]) Subscribe() *Receiver[T] {
	r := &Receiver[T]{
		hub: h,
		ch:  make(chan T, h.capacity),
	}
	h.mu.Lock()
	h.receivers[r] = struct{}{}
	h.mu.Unlock()
	return r
}

// Publish fans value out to every live receiver. Each receiver whose
// queue is full has its oldest entry dropped and its missed counter
// incremented; Publish itself never blocks.
func (h *Hub[T]) Publish(value T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for r := range h.receivers {
		select {
		case r.ch <- value:
		default:
			// Queue full: drop the oldest entry to make room, matching
			// "last-N" semantics for video and "drop-oldest" for text.
			select {
			case <-r.ch:
				r.missed.add(1)
			default:
			}
			select {
			case r.ch <- value:
			default:
				// Still full (h.mu keeps other publishers out, so this
				// is not expected); count this one as dropped too
				// rather than block.
				r.missed.add(1)
			}
		}
	}
}

// Len returns the number of live receivers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.receivers)
}

// Receiver is one consumer's view of a Hub.
type Receiver[T any] struct {
	hub     *Hub[T]
	ch      chan T
	missed  missedCounter
	closed  bool
	closeMu sync.Mutex
}

// Recv blocks until a value is available or ctxDone is closed. ok is
// false when ctxDone is closed; Close does not close the underlying
// channel, so a closed receiver's Recv returns only values already
// queued or, after that, waits for ctxDone. lagged is non-zero when
// one or more values were dropped before this call because the queue
// was full; the caller should treat that as receiver lag and request a
// fresh keyframe.
func (r *Receiver[T]) Recv(ctxDone <-chan struct{}) (value T, lagged Lagged, ok bool) {
	select {
	case v, chOk := <-r.ch:
		if !chOk {
			return value, Lagged{}, false
		}
		return v, Lagged{Missed: r.missed.swap(0)}, true
	case <-ctxDone:
		return value, Lagged{}, false
	}
}

// C exposes the receiver's underlying channel for use in a select
// statement alongside other event sources.
func (r *Receiver[T]) C() <-chan T {
	return r.ch
}

// TakeMissed returns and resets the number of items dropped since the
// last call. Call this after reading from C() directly via select.
func (r *Receiver[T]) TakeMissed() uint64 {
	return r.missed.swap(0)
}

// Close removes the receiver from its hub. Safe to call more than once.
func (r *Receiver[T]) Close() {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	r.hub.mu.Lock()
	delete(r.hub.receivers, r)
	r.hub.mu.Unlock()
}

// missedCounter is a tiny mutex-guarded counter; contention is limited
// to one publisher goroutine and one consumer goroutine per receiver.
type missedCounter struct {
	mu sync.Mutex
	n  uint64
}

func (c *missedCounter) add(delta uint64) {
	c.mu.Lock()
	c.n += delta
	c.mu.Unlock()
}

func (c *missedCounter) swap(newValue uint64) uint64 {
	c.mu.Lock()
	old := c.n
	c.n = newValue
	c.mu.Unlock()
	return old
}
