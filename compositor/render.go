// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import (
	"image"
	"image/color"
	"image/draw"
)

// Surface is the seam this package needs onto a committed Wayland
// surface's pixel contents. The exact renderer is
// implementation-defined, provided it preserves the surface tree
// invariants; this package only needs enough of a renderer to produce
// a composited RGBA buffer and feed it to the pipeline adapter.
type Surface interface {
	// Bounds returns the surface's current placement and size on the
	// virtual display.
	Bounds() image.Rectangle
	// Image returns the surface's most recently committed pixel
	// contents, in the same orientation as Bounds.
	Image() image.Image
	// Visible reports whether the surface should be composited this
	// frame (false for minimized or fully-occluded dialogs, say).
	Visible() bool
}

// Renderer composites the current surface tree into a single RGBA
// framebuffer, in the back-to-front order its surfaces function returns,
// and overlays the cursor sprite.
type Renderer struct {
	width, height int
	surfaces      func() []Surface
	cursor        *CursorState
}

// NewRenderer creates a renderer for a virtual display of the given
// size. surfacesFn returns the current surface list, back-to-front, at
// render time; the caller owns ordering (typically window-registry
// creation order, with focused windows raised).
func NewRenderer(width, height int, surfacesFn func() []Surface, cursor *CursorState) *Renderer {
	return &Renderer{width: width, height: height, surfaces: surfacesFn, cursor: cursor}
}

// Render produces one composited RGBA frame. The returned slice is in
// the tightly packed 4-byte-per-pixel RGBA layout pipeline.Adapter's
// PushFrame expects.
func (r *Renderer) Render() []byte {
	fb := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(fb, fb.Bounds(), image.NewUniform(desktopBackground), image.Point{}, draw.Src)

	for _, s := range r.surfaces() {
		if !s.Visible() {
			continue
		}
		bounds := s.Bounds().Intersect(fb.Bounds())
		if bounds.Empty() {
			continue
		}
		draw.Draw(fb, bounds, s.Image(), bounds.Min, draw.Over)
	}

	if r.cursor != nil {
		r.cursor.draw(fb)
	}

	return fb.Pix
}

// Resize changes the virtual display size for subsequent renders.
func (r *Renderer) Resize(width, height int) {
	r.width, r.height = width, height
}

var desktopBackground = color.RGBA{R: 0x20, G: 0x20, B: 0x24, A: 0xff}

// CursorState tracks the effective cursor style for diffing against the
// last value broadcast and draws a small sprite into
// the composited framebuffer so peers see pointer motion inside the
// video stream itself, independent of any client-side CSS cursor.
type CursorState struct {
	X, Y  int
	Style string

	lastBroadcast string
}

// NewCursorState creates a cursor tracker with the default arrow style.
func NewCursorState() *CursorState {
	return &CursorState{Style: "default"}
}

// Move updates the tracked pointer position.
func (c *CursorState) Move(x, y int) {
	c.X, c.Y = x, y
}

// SetStyle updates the effective cursor style, typically driven by
// which surface the pointer currently hovers.
func (c *CursorState) SetStyle(style string) {
	c.Style = style
}

// TakeDiff reports the current style and whether it differs from the
// last value returned, so the loop only publishes cursor updates on
// change. Call once per compositor
// iteration.
func (c *CursorState) TakeDiff() (style string, changed bool) {
	if c.Style == c.lastBroadcast {
		return c.Style, false
	}
	c.lastBroadcast = c.Style
	return c.Style, true
}

// cursorSpriteSize is the edge length, in pixels, of the square cursor
// sprite composited at (X, Y).
const cursorSpriteSize = 12

func (c *CursorState) draw(fb *image.RGBA) {
	sprite := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	outline := color.RGBA{A: 0xff}
	rect := image.Rect(c.X, c.Y, c.X+cursorSpriteSize, c.Y+cursorSpriteSize).Intersect(fb.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if x == rect.Min.X || y == rect.Min.Y {
				fb.SetRGBA(x, y, outline)
			} else {
				fb.SetRGBA(x, y, sprite)
			}
		}
	}
}
