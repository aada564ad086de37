// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package compositor implements the single-threaded headless Wayland
// compositor loop: protocol dispatch, window registry,
// input injection, the clipboard echo/ordering state machine, taskbar
// and cursor diffing, and paced framebuffer push into the video
// pipeline adapter.
package compositor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/deskstream/deskstream/broadcast"
	"github.com/deskstream/deskstream/pipeline"
)

// Backend is the seam onto the actual Wayland protocol implementation.
// The renderer and compositor backend are implementation-defined
// provided the surface tree invariants hold; this interface is the
// minimal set of calls the loop needs to drive one.
type Backend interface {
	Seat

	// Dispatch processes pending Wayland protocol events, blocking for
	// at most timeout, invoking events synchronously for any surface
	// commits, window lifecycle changes, or selection changes observed.
	Dispatch(timeout time.Duration, events BackendEvents) error

	// Surfaces returns the current back-to-front list of composited
	// surfaces for this render pass.
	Surfaces() []Surface

	// FireFrameCallbacks notifies every surface that committed since
	// the last call that it is safe to pace its next frame.
	FireFrameCallbacks()

	InjectPointerMove(x, y int)
	InjectPointerButton(button int, pressed bool)
	InjectPointerScroll(dx, dy int)
	InjectKey(keysym uint32, pressed bool)
	InjectText(text string)
	InjectKeyboardReset()
	Resize(width, height int) error
	FocusWindow(id int)
	CloseWindow(id int)
}

// BackendEvents receives Wayland protocol callbacks during Dispatch.
// The Compositor implements this itself; Dispatch must only invoke
// these from within the dispatch call, never asynchronously, so the
// deferred-read rule holds.
type BackendEvents interface {
	WindowCreated(surfaceRef any, isDialog bool) *Window
	WindowDestroyed(id int)
	TitleChanged(id int, title string)
	AppIDChanged(id int, appID string)
	NewSelection(mime string)
}

// redrawProgressInterval is the progress guarantee for late joiners:
// with a session live, a frame is pushed at least this often even when
// nothing redrew.
const redrawProgressInterval = time.Second

// Compositor runs the single-threaded desktop loop.
type Compositor struct {
	backend   Backend
	windows   *WindowRegistry
	clipboard *Clipboard
	cursor    *CursorState
	renderer  *Renderer
	input     *Queue
	adapter   *pipeline.Adapter
	textOut   *broadcast.Hub[string]
	logger    *slog.Logger

	targetFrameTime time.Duration
	liveSessions    func() int
	onFramePushed   func()

	needsRedraw   bool
	lastPush      time.Time
	width, height int

	// datachannelOpens is bumped by session drivers (network runtime
	// goroutines) and read by the compositor thread each iteration, so
	// it is the one field in this struct that crosses threads.
	datachannelOpens atomic.Int64
	lastSeenOpens    int64

	now func() time.Time
}

// Config gathers the wiring a Compositor needs from the rest of the
// process.
type Config struct {
	Backend         Backend
	Input           *Queue
	Adapter         *pipeline.Adapter
	TextOut         *broadcast.Hub[string]
	Logger          *slog.Logger
	TargetFPS       int
	Width, Height   int
	LiveSessions    func() int

	// OnFramePushed, when set, is called after each successful push
	// into the pipeline adapter (observability counter).
	OnFramePushed func()
}

// New creates a Compositor. LiveSessions reports the current number of
// connected peers, used by step 6's "at least one session is live"
// gate.
func New(cfg Config) *Compositor {
	windows := NewWindowRegistry()
	cursor := NewCursorState()
	c := &Compositor{
		backend:         cfg.Backend,
		windows:         windows,
		cursor:          cursor,
		input:           cfg.Input,
		adapter:         cfg.Adapter,
		textOut:         cfg.TextOut,
		logger:          cfg.Logger,
		targetFrameTime: time.Second / time.Duration(max(cfg.TargetFPS, 1)),
		liveSessions:    cfg.LiveSessions,
		onFramePushed:   cfg.OnFramePushed,
		width:           cfg.Width,
		height:          cfg.Height,
		now:             time.Now,
	}
	c.clipboard = NewClipboard(cfg.Backend, cfg.TextOut, cfg.Logger)
	c.renderer = NewRenderer(cfg.Width, cfg.Height, cfg.Backend.Surfaces, cursor)
	return c
}

// Windows exposes the window registry for the data-channel protocol
// layer's focus/close commands and for observability snapshots.
func (c *Compositor) Windows() *WindowRegistry { return c.windows }

// NotifyDataChannelOpen records a newly opened data channel so step 4
// rebuilds the taskbar even when the window set itself hasn't changed.
func (c *Compositor) NotifyDataChannelOpen() {
	c.datachannelOpens.Add(1)
}

// WriteClipboard applies a peer-originated clipboard write, going
// through the same suppression-window bookkeeping as any other input
// event.
func (c *Compositor) WriteClipboard(text string) {
	if err := c.clipboard.WriteFromPeer(text); err != nil {
		c.logger.Warn("clipboard write from peer failed", "error", err)
	}
}

// Run drives the loop until ctx is cancelled.
func (c *Compositor) Run(ctx context.Context) error {
	var pending []InputEvent
	for {
		if ctx.Err() != nil {
			return nil
		}

		deadline := c.nextDeadline()
		timeout := time.Until(deadline)
		if timeout < 0 {
			timeout = 0
		}

		// Step 1: protocol dispatch.
		if err := c.backend.Dispatch(timeout, c); err != nil {
			c.logger.Warn("wayland dispatch failed", "error", err)
		}

		// Step 2: drain the input queue.
		pending = c.input.DrainInto(pending[:0])
		for _, e := range pending {
			c.applyInput(e)
		}

		// Step 3: clipboard service step.
		c.clipboard.Step()

		// Step 4: taskbar diff.
		c.stepTaskbar()

		// Step 5: cursor diff.
		c.stepCursor()

		// Step 6: render.
		c.stepRender()

		// Step 7: frame callbacks.
		c.backend.FireFrameCallbacks()

		// Step 8: sleep until the next deadline happens implicitly via
		// the next iteration's Dispatch timeout.
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (c *Compositor) nextDeadline() time.Time {
	return c.now().Add(c.targetFrameTime)
}

func (c *Compositor) applyInput(e InputEvent) {
	switch e.Kind {
	case InputPointerMove:
		c.cursor.Move(e.X, e.Y)
		c.backend.InjectPointerMove(e.X, e.Y)
	case InputPointerButton:
		c.backend.InjectPointerButton(e.Button, e.Pressed)
	case InputPointerScroll:
		c.backend.InjectPointerScroll(e.ScrollDX, e.ScrollDY)
	case InputKey:
		c.backend.InjectKey(e.Keysym, e.Pressed)
	case InputTextInsert:
		c.backend.InjectText(e.Text)
	case InputClipboardWrite:
		c.WriteClipboard(e.ClipboardText)
	case InputResize:
		if err := c.backend.Resize(e.Width, e.Height); err != nil {
			c.logger.Warn("resize failed", "error", err)
			return
		}
		c.width, c.height = e.Width, e.Height
		c.renderer.Resize(e.Width, e.Height)
		if err := c.adapter.Resize(e.Width, e.Height); err != nil {
			c.logger.Warn("pipeline resize failed", "error", err)
		}
		c.needsRedraw = true
	case InputFocusWindow:
		c.windows.Focus(e.WindowID)
		c.backend.FocusWindow(e.WindowID)
	case InputCloseWindow:
		c.backend.CloseWindow(e.WindowID)
	case InputKeyboardReset:
		c.backend.InjectKeyboardReset()
	case InputPong:
		// Ping-state bookkeeping lives in the session driver; nothing
		// for the compositor to do.
	case InputSettings:
		// Runtime settings (bitrate, fps, codec params) are applied by
		// the pipeline/session layer, not the compositor loop.
	}
}

func (c *Compositor) stepTaskbar() {
	dirty := c.windows.TakeDirty()
	opens := c.datachannelOpens.Load()
	advanced := opens != c.lastSeenOpens
	if !dirty && !advanced {
		return
	}
	c.lastSeenOpens = opens

	payload, err := c.windows.TaskbarJSON()
	if err != nil {
		c.logger.Warn("taskbar marshal failed", "error", err)
		return
	}
	c.textOut.Publish("taskbar," + string(payload))
}

func (c *Compositor) stepCursor() {
	style, changed := c.cursor.TakeDiff()
	if !changed {
		return
	}
	c.textOut.Publish(`cursor,{"override":"` + style + `"}`)
}

func (c *Compositor) stepRender() {
	live := c.liveSessions() > 0
	if !live {
		return
	}

	due := c.lastPush.IsZero() || c.now().Sub(c.lastPush) >= redrawProgressInterval
	if !c.needsRedraw && !due {
		return
	}

	frame := c.renderer.Render()
	samples := pipeline.SamplesForInterval(c.now().Sub(orNow(c.lastPush, c.now)))
	if samples == 0 {
		samples = pipeline.SamplesForInterval(c.targetFrameTime)
	}
	if err := c.adapter.PushFrame(frame, samples); err != nil {
		c.logger.Warn("push frame failed", "error", err)
	} else if c.onFramePushed != nil {
		c.onFramePushed()
	}
	c.lastPush = c.now()
	c.needsRedraw = false
}

func orNow(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t
}

// WindowCreated implements BackendEvents. Auto-fullscreening non-dialog
// windows to the current display size is the backend's responsibility
// at surface-map time; this registry
// only records the resulting window.
func (c *Compositor) WindowCreated(surfaceRef any, isDialog bool) *Window {
	w := c.windows.Create(surfaceRef, isDialog)
	c.needsRedraw = true
	return w
}

// WindowDestroyed implements BackendEvents.
func (c *Compositor) WindowDestroyed(id int) {
	c.windows.Remove(id)
	c.needsRedraw = true
}

// TitleChanged implements BackendEvents.
func (c *Compositor) TitleChanged(id int, title string) {
	c.windows.SetTitle(id, title)
}

// AppIDChanged implements BackendEvents, resolving the window's display
// name from the .desktop application database.
func (c *Compositor) AppIDChanged(id int, appID string) {
	c.windows.SetAppInfo(id, appID, ResolveDisplayName(appID))
}

// NewSelection implements BackendEvents, forwarding straight to the
// clipboard state machine's callback-phase handler.
func (c *Compositor) NewSelection(mime string) {
	c.clipboard.OnNewSelection(mime)
}
