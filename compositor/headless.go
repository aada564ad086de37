// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"io"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// HeadlessBackend is an in-process Backend/Seat implementation: a
// synthetic desktop with solid-color windows, an in-memory selection,
// and tracked input state. The real renderer and
// protocol implementation open; this backend preserves the surface
// tree, selection, and input invariants the loop depends on, and is
// what deskstreamd runs when no external Wayland client stack is
// wired in.
type HeadlessBackend struct {
	mu sync.Mutex

	// ops carries synthetic client actions (window open/close, copies)
	// into Dispatch, which applies them on the compositor thread — the
	// same staging discipline a real protocol dispatch has.
	ops chan func(BackendEvents)

	width, height int

	surfaces []*HeadlessWindow
	byID     map[int]*HeadlessWindow

	selection []byte

	pointerX, pointerY int
	buttonsDown        map[int]bool
	keysDown           map[uint32]bool
	insertedText       bytes.Buffer

	// clientClipboard is what the focused synthetic client would serve
	// for the next RequestClientSelection.
	clientClipboard []byte
}

// NewHeadlessBackend creates a headless backend for a virtual display
// of the given size.
func NewHeadlessBackend(width, height int) *HeadlessBackend {
	return &HeadlessBackend{
		ops:         make(chan func(BackendEvents), 64),
		width:       width,
		height:      height,
		byID:        make(map[int]*HeadlessWindow),
		buttonsDown: make(map[int]bool),
		keysDown:    make(map[uint32]bool),
	}
}

// HeadlessWindow is one synthetic window, implementing Surface.
type HeadlessWindow struct {
	mu      sync.Mutex
	id      int
	title   string
	appID   string
	dialog  bool
	bounds  image.Rectangle
	img     *image.RGBA
	visible bool
}

// Bounds implements Surface.
func (w *HeadlessWindow) Bounds() image.Rectangle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bounds
}

// Image implements Surface.
func (w *HeadlessWindow) Image() image.Image {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.img
}

// Visible implements Surface.
func (w *HeadlessWindow) Visible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// ID returns the window-registry id assigned at creation.
func (w *HeadlessWindow) ID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

func (w *HeadlessWindow) paint(fill color.RGBA) {
	w.img = image.NewRGBA(image.Rect(0, 0, w.bounds.Dx(), w.bounds.Dy()))
	draw.Draw(w.img, w.img.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	// Title bar strip so windows are visually distinct in the stream.
	bar := image.Rect(0, 0, w.bounds.Dx(), 24)
	draw.Draw(w.img, bar, image.NewUniform(color.RGBA{R: 0x3a, G: 0x3a, B: 0x42, A: 0xff}), image.Point{}, draw.Src)
	if w.title != "" && w.bounds.Dy() >= 24 {
		drawer := &font.Drawer{
			Dst:  w.img,
			Src:  image.White,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(8, 17),
		}
		drawer.DrawString(w.title)
	}
}

// OpenWindow stages a synthetic window: the WindowCreated event fires
// during the next Dispatch, like a real client's surface map would.
// Non-dialog windows are fullscreened to the current display size;
// dialogs keep the given natural size centered.
func (b *HeadlessBackend) OpenWindow(title, appID string, isDialog bool, naturalW, naturalH int, fill color.RGBA) <-chan *HeadlessWindow {
	created := make(chan *HeadlessWindow, 1)
	b.ops <- func(events BackendEvents) {
		w := &HeadlessWindow{
			title:   title,
			appID:   appID,
			dialog:  isDialog,
			visible: true,
		}
		b.mu.Lock()
		if isDialog {
			x := (b.width - naturalW) / 2
			y := (b.height - naturalH) / 2
			w.bounds = image.Rect(x, y, x+naturalW, y+naturalH)
		} else {
			w.bounds = image.Rect(0, 0, b.width, b.height)
		}
		w.paint(fill)
		b.surfaces = append(b.surfaces, w)
		b.mu.Unlock()

		record := events.WindowCreated(w, isDialog)
		w.mu.Lock()
		w.id = record.ID
		w.mu.Unlock()

		b.mu.Lock()
		b.byID[record.ID] = w
		b.mu.Unlock()

		events.TitleChanged(record.ID, title)
		events.AppIDChanged(record.ID, appID)
		created <- w
	}
	return created
}

// CopyText stages a synthetic client copy: the NewSelection callback
// fires during the next Dispatch, and the data is served through
// RequestClientSelection afterwards, mirroring the deferred-read shape
// of a real selection transfer.
func (b *HeadlessBackend) CopyText(text string) {
	b.ops <- func(events BackendEvents) {
		b.mu.Lock()
		b.clientClipboard = []byte(text)
		b.mu.Unlock()
		events.NewSelection("text/plain;charset=utf-8")
	}
}

// Dispatch implements Backend: it blocks up to timeout for the first
// staged action, applies it and everything else pending, and returns.
func (b *HeadlessBackend) Dispatch(timeout time.Duration, events BackendEvents) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case op := <-b.ops:
		op(events)
	case <-timer:
		return nil
	default:
		if timeout > 0 {
			select {
			case op := <-b.ops:
				op(events)
			case <-timer:
				return nil
			}
		} else {
			return nil
		}
	}

	for {
		select {
		case op := <-b.ops:
			op(events)
		default:
			return nil
		}
	}
}

// Surfaces implements Backend, returning the back-to-front surface
// list.
func (b *HeadlessBackend) Surfaces() []Surface {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Surface, len(b.surfaces))
	for i, w := range b.surfaces {
		out[i] = w
	}
	return out
}

// FireFrameCallbacks implements Backend. Synthetic windows repaint
// eagerly, so there is no callback bookkeeping to flush.
func (b *HeadlessBackend) FireFrameCallbacks() {}

// InjectPointerMove implements Backend.
func (b *HeadlessBackend) InjectPointerMove(x, y int) {
	b.mu.Lock()
	b.pointerX, b.pointerY = x, y
	b.mu.Unlock()
}

// InjectPointerButton implements Backend.
func (b *HeadlessBackend) InjectPointerButton(button int, pressed bool) {
	b.mu.Lock()
	if pressed {
		b.buttonsDown[button] = true
	} else {
		delete(b.buttonsDown, button)
	}
	b.mu.Unlock()
}

// InjectPointerScroll implements Backend.
func (b *HeadlessBackend) InjectPointerScroll(dx, dy int) {}

// InjectKey implements Backend, tracking pressed keys by their xkb
// keycode (X11 keysym → evdev keycode + 8).
func (b *HeadlessBackend) InjectKey(keysym uint32, pressed bool) {
	code := xkbKeycode(keysym)
	b.mu.Lock()
	if pressed {
		b.keysDown[code] = true
	} else {
		delete(b.keysDown, code)
	}
	b.mu.Unlock()
}

// InjectText implements Backend (the text-input protocol path).
func (b *HeadlessBackend) InjectText(text string) {
	b.mu.Lock()
	b.insertedText.WriteString(text)
	b.mu.Unlock()
}

// InjectKeyboardReset implements Backend: every tracked key and button
// is released, so repeated resets leave the state empty.
func (b *HeadlessBackend) InjectKeyboardReset() {
	b.mu.Lock()
	clear(b.keysDown)
	clear(b.buttonsDown)
	b.mu.Unlock()
}

// Resize implements Backend: non-dialog windows follow the display to
// the new size.
func (b *HeadlessBackend) Resize(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width, b.height = width, height
	for _, w := range b.surfaces {
		w.mu.Lock()
		if !w.dialog {
			fill := color.RGBA{R: 0x2d, G: 0x33, B: 0x3d, A: 0xff}
			if w.img != nil && !w.img.Bounds().Empty() {
				fill = w.img.RGBAAt(w.img.Bounds().Dx()/2, w.img.Bounds().Dy()/2)
			}
			w.bounds = image.Rect(0, 0, width, height)
			w.paint(fill)
		}
		w.mu.Unlock()
	}
	return nil
}

// FocusWindow implements Backend: the focused surface is raised to the
// top of the stacking order.
func (b *HeadlessBackend) FocusWindow(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.surfaces {
		if w.ID() == id {
			b.surfaces = append(append(b.surfaces[:i:i], b.surfaces[i+1:]...), w)
			return
		}
	}
}

// CloseWindow implements Backend: the destroy is staged and the
// WindowDestroyed event fires on the next Dispatch, like a client
// acking an xdg close request.
func (b *HeadlessBackend) CloseWindow(id int) {
	b.ops <- func(events BackendEvents) {
		b.mu.Lock()
		for i, w := range b.surfaces {
			if w.ID() == id {
				b.surfaces = append(b.surfaces[:i], b.surfaces[i+1:]...)
				break
			}
		}
		delete(b.byID, id)
		b.mu.Unlock()
		events.WindowDestroyed(id)
	}
}

// RequestClientSelection implements Seat: it returns a reader over the
// focused synthetic client's clipboard data, which yields everything
// and then EOF — the same shape as a non-blocking pipe whose writer has
// finished and closed.
func (b *HeadlessBackend) RequestClientSelection(mime string) (io.Reader, error) {
	b.mu.Lock()
	data := b.clientClipboard
	b.mu.Unlock()
	return bytes.NewReader(data), nil
}

// SetSelection implements Seat.
func (b *HeadlessBackend) SetSelection(text string) error {
	b.mu.Lock()
	b.selection = []byte(text)
	b.mu.Unlock()
	return nil
}

// Selection returns the current compositor selection, as a synthetic
// client reading via the standard protocol would see it.
func (b *HeadlessBackend) Selection() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.selection)
}

// PressedKeys returns the number of tracked held keys, for tests and
// diagnostics.
func (b *HeadlessBackend) PressedKeys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keysDown)
}

// InsertedText returns everything injected via the text-input path.
func (b *HeadlessBackend) InsertedText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertedText.String()
}

// xkbKeycode maps an X11 keysym to its xkb keycode (evdev scancode
// plus the fixed X11 offset of 8). The table covers the keys
// a browser client sends; unknown keysyms map into a private range so
// press/release still pair up.
func xkbKeycode(keysym uint32) uint32 {
	if code, ok := keysymKeycodes[keysym]; ok {
		return code + 8
	}
	// Latin letters: evdev KEY_A..KEY_Z are not contiguous with ASCII,
	// but pairing is what matters for tracked state; fold case and
	// offset into a private range.
	if keysym >= 'A' && keysym <= 'Z' {
		keysym += 'a' - 'A'
	}
	return 0x10000 + keysym
}

// keysymKeycodes maps common X11 keysyms to evdev scancodes.
var keysymKeycodes = map[uint32]uint32{
	0xff0d: 28,  // Return → KEY_ENTER
	0xff1b: 1,   // Escape → KEY_ESC
	0xff08: 14,  // BackSpace → KEY_BACKSPACE
	0xff09: 15,  // Tab → KEY_TAB
	0x0020: 57,  // space → KEY_SPACE
	0xffe1: 42,  // Shift_L → KEY_LEFTSHIFT
	0xffe2: 54,  // Shift_R → KEY_RIGHTSHIFT
	0xffe3: 29,  // Control_L → KEY_LEFTCTRL
	0xffe4: 97,  // Control_R → KEY_RIGHTCTRL
	0xffe9: 56,  // Alt_L → KEY_LEFTALT
	0xffea: 100, // Alt_R → KEY_RIGHTALT
	0xffeb: 125, // Super_L → KEY_LEFTMETA
	0xff51: 105, // Left → KEY_LEFT
	0xff52: 103, // Up → KEY_UP
	0xff53: 106, // Right → KEY_RIGHT
	0xff54: 108, // Down → KEY_DOWN
	0xff50: 102, // Home → KEY_HOME
	0xff57: 107, // End → KEY_END
	0xff55: 104, // Prior → KEY_PAGEUP
	0xff56: 109, // Next → KEY_PAGEDOWN
	0xffff: 111, // Delete → KEY_DELETE
}
