// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"testing"
	"time"
)

func TestHubDeliversInOrder(t *testing.T) {
	h := NewHub[int](10)
	r := h.Subscribe()
	defer r.Close()

	for i := 0; i < 5; i++ {
		h.Publish(i)
	}

	for i := 0; i < 5; i++ {
		v, lagged, ok := r.Recv(nil)
		if !ok || v != i || lagged.Missed != 0 {
			t.Fatalf("item %d: v=%d ok=%v lagged=%v", i, v, ok, lagged)
		}
	}
}

func TestHubDropsOldestOnOverflow(t *testing.T) {
	h := NewHub[int](2)
	r := h.Subscribe()
	defer r.Close()

	h.Publish(1)
	h.Publish(2)
	h.Publish(3) // queue full at {1,2}; drop 1, admit 3 -> {2,3}

	v, lagged, ok := r.Recv(nil)
	if !ok || v != 2 {
		t.Fatalf("expected oldest surviving value 2, got %d ok=%v", v, ok)
	}
	if lagged.Missed != 1 {
		t.Fatalf("expected 1 missed item, got %d", lagged.Missed)
	}

	v, _, ok = r.Recv(nil)
	if !ok || v != 3 {
		t.Fatalf("expected 3, got %d ok=%v", v, ok)
	}
}

func TestHubMultipleReceiversIndependent(t *testing.T) {
	h := NewHub[string](4)
	a := h.Subscribe()
	b := h.Subscribe()
	defer a.Close()
	defer b.Close()

	h.Publish("x")

	for _, r := range []*Receiver[string]{a, b} {
		v, _, ok := r.Recv(nil)
		if !ok || v != "x" {
			t.Fatalf("receiver missed broadcast: v=%q ok=%v", v, ok)
		}
	}
}

func TestReceiverCloseRemovesFromHub(t *testing.T) {
	h := NewHub[int](4)
	r := h.Subscribe()
	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}
	r.Close()
	r.Close() // idempotent
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after close", h.Len())
	}
	// Publishing after all receivers close must not panic or block.
	h.Publish(1)
}

func TestReceiverRecvUnblocksOnDone(t *testing.T) {
	h := NewHub[int](4)
	r := h.Subscribe()
	defer r.Close()

	done := make(chan struct{})
	close(done)

	select {
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not honor closed done channel")
	default:
	}
	_, _, ok := r.Recv(done)
	if ok {
		t.Fatal("expected ok=false when done is already closed")
	}
}
