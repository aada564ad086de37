// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import (
	"context"
	"encoding/json"
	"image/color"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/deskstream/deskstream/broadcast"
	"github.com/deskstream/deskstream/pipeline"
)

// testDesktop wires a Compositor to a HeadlessBackend and runs the loop
// until the test ends.
type testDesktop struct {
	backend *HeadlessBackend
	comp    *Compositor
	input   *Queue
	textRx  *broadcast.Receiver[string]
}

func startDesktop(t *testing.T) *testDesktop {
	t.Helper()

	videoHub := broadcast.NewHub[pipeline.Packet](broadcast.VideoCapacity(60))
	textHub := broadcast.NewHub[string](broadcast.TextCapacity)
	adapter, err := pipeline.NewAdapter(pipeline.Config{
		Codec:               pipeline.CodecH264,
		TargetFPS:           60,
		Width:               64,
		Height:              48,
		KeyframeIntervalSec: 2,
	}, videoHub, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })

	backend := NewHeadlessBackend(64, 48)
	input := NewQueue(64)
	comp := New(Config{
		Backend:      backend,
		Input:        input,
		Adapter:      adapter,
		TextOut:      textHub,
		Logger:       slog.New(slog.DiscardHandler),
		TargetFPS:    60,
		Width:        64,
		Height:       48,
		LiveSessions: func() int { return 1 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go comp.Run(ctx)

	rx := textHub.Subscribe()
	t.Cleanup(rx.Close)
	return &testDesktop{backend: backend, comp: comp, input: input, textRx: rx}
}

// nextMessage waits for the next text broadcast with the given prefix.
func (d *testDesktop) nextMessage(t *testing.T, prefix string, timeout time.Duration) (string, bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-d.textRx.C():
			if strings.HasPrefix(msg, prefix) {
				return msg, true
			}
		case <-deadline:
			return "", false
		}
	}
}

type taskbarMsg struct {
	Windows []struct {
		ID          int    `json:"id"`
		Title       string `json:"title"`
		DisplayName string `json:"display_name"`
		Focused     bool   `json:"focused"`
	} `json:"windows"`
}

func parseTaskbar(t *testing.T, msg string) taskbarMsg {
	t.Helper()
	var snap taskbarMsg
	if err := json.Unmarshal([]byte(strings.TrimPrefix(msg, "taskbar,")), &snap); err != nil {
		t.Fatalf("unmarshaling taskbar message %q: %v", msg, err)
	}
	return snap
}

func TestHeadlessWindowLifecycleDrivesTaskbar(t *testing.T) {
	d := startDesktop(t)

	created := d.backend.OpenWindow("Editor", "org.example.editor", false, 0, 0, color.RGBA{R: 0x44, A: 0xff})
	var w *HeadlessWindow
	select {
	case w = <-created:
	case <-time.After(2 * time.Second):
		t.Fatal("window not created")
	}

	msg, ok := d.nextMessage(t, "taskbar,", 2*time.Second)
	if !ok {
		t.Fatal("no taskbar broadcast after window creation")
	}
	snap := parseTaskbar(t, msg)
	if len(snap.Windows) != 1 || snap.Windows[0].Title != "Editor" {
		t.Fatalf("taskbar = %+v, want the Editor window", snap.Windows)
	}
	if snap.Windows[0].ID != w.ID() {
		t.Errorf("taskbar id %d != window id %d", snap.Windows[0].ID, w.ID())
	}

	// Focus through the input queue; the next taskbar message marks
	// exactly this window focused.
	d.input.Push(InputEvent{Kind: InputFocusWindow, WindowID: w.ID()})
	msg, ok = d.nextMessage(t, "taskbar,", 2*time.Second)
	if !ok {
		t.Fatal("no taskbar broadcast after focus")
	}
	snap = parseTaskbar(t, msg)
	if !snap.Windows[0].Focused {
		t.Error("focused window not marked focused in taskbar")
	}

	d.input.Push(InputEvent{Kind: InputCloseWindow, WindowID: w.ID()})
	msg, ok = d.nextMessage(t, "taskbar,", 2*time.Second)
	if !ok {
		t.Fatal("no taskbar broadcast after close")
	}
	if snap = parseTaskbar(t, msg); len(snap.Windows) != 0 {
		t.Errorf("taskbar after close = %+v, want empty", snap.Windows)
	}
}

func TestHeadlessClipboardRemoteToBrowser(t *testing.T) {
	d := startDesktop(t)

	d.backend.CopyText("World")

	msg, ok := d.nextMessage(t, "clipboard,", 2*time.Second)
	if !ok {
		t.Fatal("no clipboard broadcast after client copy")
	}
	if msg != "clipboard,V29ybGQ=" {
		t.Errorf("clipboard message = %q, want clipboard,V29ybGQ=", msg)
	}
}

func TestHeadlessClipboardBrowserToRemoteWithSuppression(t *testing.T) {
	d := startDesktop(t)

	d.input.Push(InputEvent{Kind: InputClipboardWrite, ClipboardText: "Hello"})

	waitForCondition(t, 2*time.Second, func() bool { return d.backend.Selection() == "Hello" })

	// The focused client immediately re-asserting its own selection must
	// not produce a clipboard broadcast inside the suppression window.
	d.backend.CopyText("Hello")
	if msg, ok := d.nextMessage(t, "clipboard,", 300*time.Millisecond); ok {
		t.Errorf("clipboard echo %q published during suppression window", msg)
	}
	if d.backend.Selection() != "Hello" {
		t.Errorf("selection = %q, want Hello", d.backend.Selection())
	}
}

func TestHeadlessKeyboardReset(t *testing.T) {
	d := startDesktop(t)

	d.input.Push(InputEvent{Kind: InputKey, Keysym: 'a', Pressed: true})
	d.input.Push(InputEvent{Kind: InputKey, Keysym: 0xffe1, Pressed: true})
	waitForCondition(t, 2*time.Second, func() bool { return d.backend.PressedKeys() == 2 })

	d.input.Push(InputEvent{Kind: InputKeyboardReset})
	waitForCondition(t, 2*time.Second, func() bool { return d.backend.PressedKeys() == 0 })

	// Idempotent: another reset leaves the state empty.
	d.input.Push(InputEvent{Kind: InputKeyboardReset})
	time.Sleep(50 * time.Millisecond)
	if d.backend.PressedKeys() != 0 {
		t.Error("keyboard state not empty after repeated reset")
	}
}

func TestHeadlessTextInsert(t *testing.T) {
	d := startDesktop(t)

	d.input.Push(InputEvent{Kind: InputTextInsert, Text: "héllo, wörld"})
	waitForCondition(t, 2*time.Second, func() bool { return d.backend.InsertedText() == "héllo, wörld" })
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}
