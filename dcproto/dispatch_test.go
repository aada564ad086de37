// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package dcproto

import (
	"log/slog"
	"testing"

	"github.com/deskstream/deskstream/compositor"
)

func drainQueue(t *testing.T, q *compositor.Queue) []compositor.InputEvent {
	t.Helper()
	return q.DrainInto(nil)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *compositor.Queue) {
	t.Helper()
	q := compositor.NewQueue(64)
	d := NewDispatcher(Config{Input: q, Logger: slog.Default()})
	return d, q
}

func TestHandleTextPointerMove(t *testing.T) {
	d, q := newTestDispatcher(t)

	d.HandleText("m,100,200,0,_")

	events := drainQueue(t, q)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != compositor.InputPointerMove || events[0].X != 100 || events[0].Y != 200 {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestHandleTextButtonMaskSynthesis(t *testing.T) {
	d, q := newTestDispatcher(t)

	// Press left (bit 0), then move with left still held, then release
	// left and press right (bit 2) in one message.
	d.HandleText("m,10,10,1,_")
	d.HandleText("m,20,20,1,_")
	d.HandleText("m,30,30,4,_")

	events := drainQueue(t, q)
	var buttons []compositor.InputEvent
	for _, e := range events {
		if e.Kind == compositor.InputPointerButton {
			buttons = append(buttons, e)
		}
	}
	if len(buttons) != 3 {
		t.Fatalf("got %d button events, want 3: %+v", len(buttons), buttons)
	}
	if !buttons[0].Pressed || buttons[0].Button != 0 {
		t.Errorf("first button event should press left: %+v", buttons[0])
	}
	if buttons[1].Pressed || buttons[1].Button != 0 {
		t.Errorf("second button event should release left: %+v", buttons[1])
	}
	if !buttons[2].Pressed || buttons[2].Button != 2 {
		t.Errorf("third button event should press right: %+v", buttons[2])
	}
}

func TestHandleTextKeyHexAndDecimal(t *testing.T) {
	d, q := newTestDispatcher(t)

	d.HandleText("k,0xff0d,1")
	d.HandleText("k,97,0")

	events := drainQueue(t, q)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Keysym != 0xff0d || !events[0].Pressed {
		t.Errorf("hex keysym parsed wrong: %+v", events[0])
	}
	if events[1].Keysym != 97 || events[1].Pressed {
		t.Errorf("decimal keysym parsed wrong: %+v", events[1])
	}
}

func TestHandleTextInsertPreservesCommas(t *testing.T) {
	d, q := newTestDispatcher(t)

	d.HandleText("t,hello, world")

	events := drainQueue(t, q)
	if len(events) != 1 || events[0].Text != "hello, world" {
		t.Fatalf("text with commas mangled: %+v", events)
	}
}

func TestHandleTextClipboardWriteRoundTrip(t *testing.T) {
	d, q := newTestDispatcher(t)

	d.HandleText("cw,SGVsbG8=")

	events := drainQueue(t, q)
	if len(events) != 1 || events[0].ClipboardText != "Hello" {
		t.Fatalf("clipboard write decoded wrong: %+v", events)
	}
}

func TestHandleTextResizeBounds(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want int // events expected
	}{
		{"valid", "r,1920x1080", 1},
		{"zero width", "r,0x1080", 0},
		{"oversized", "r,9000x1080", 0},
		{"malformed", "r,1920", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, q := newTestDispatcher(t)
			d.HandleText(tt.msg)
			if got := len(drainQueue(t, q)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestHandleTextPingReplies(t *testing.T) {
	var sent []string
	q := compositor.NewQueue(4)
	d := NewDispatcher(Config{
		Input:    q,
		SendText: func(m string) { sent = append(sent, m) },
		Logger:   slog.Default(),
	})

	d.HandleText("ping")

	if len(sent) != 1 || sent[0] != Pong {
		t.Fatalf("ping not answered with pong: %v", sent)
	}
}

func TestHandleTextPong(t *testing.T) {
	ponged := false
	d := NewDispatcher(Config{OnPong: func() { ponged = true }, Logger: slog.Default()})

	d.HandleText("pong")

	if !ponged {
		t.Fatal("OnPong not invoked")
	}
}

func TestHandleTextTelemetry(t *testing.T) {
	var kinds, payloads []string
	d := NewDispatcher(Config{
		OnTelemetry: func(kind, payload string) {
			kinds = append(kinds, kind)
			payloads = append(payloads, payload)
		},
		Logger: slog.Default(),
	})

	d.HandleText("_f,60")
	d.HandleText("_l,23")
	d.HandleText("_stats_video,{\"bitrate\":1200}")

	if len(kinds) != 3 || kinds[0] != "fps" || kinds[1] != "latency" || kinds[2] != "stats_video" {
		t.Fatalf("telemetry kinds wrong: %v", kinds)
	}
	if payloads[0] != "60" || payloads[1] != "23" {
		t.Fatalf("telemetry payloads wrong: %v", payloads)
	}
}

func TestHandleTextUnknownIsIgnored(t *testing.T) {
	d, q := newTestDispatcher(t)

	d.HandleText("bogus,1,2,3")
	d.HandleText("")

	if got := len(drainQueue(t, q)); got != 0 {
		t.Fatalf("unknown messages produced %d events, want 0", got)
	}
}

func TestKeyboardResetIdempotent(t *testing.T) {
	d, q := newTestDispatcher(t)

	d.HandleText("kr")
	d.HandleText("kr")

	events := drainQueue(t, q)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, e := range events {
		if e.Kind != compositor.InputKeyboardReset {
			t.Errorf("unexpected event kind: %+v", e)
		}
	}
}
