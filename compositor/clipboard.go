// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/deskstream/deskstream/broadcast"
)

// suppressionWindow is the absolute-deadline duration a browser-pushed
// selection is protected against echo from the focused client's
// immediate re-assertion of its own wl_data_source.
const suppressionWindow = 500 * time.Millisecond

// Seat is the seam onto the Wayland selection protocol this package
// needs. A real implementation backs it with whatever Wayland
// compositor library owns the seat; the renderer behind it is
// implementation-defined, see render.go and the package doc.
type Seat interface {
	// RequestClientSelection asks the currently focused client's
	// wl_data_source for its offered mime type's data, returning a
	// non-blocking read end of a pipe the client will write into. Must
	// only be called after the event loop's dispatch following the
	// new_selection callback that reported the mime type.
	RequestClientSelection(mime string) (io.Reader, error)

	// SetSelection publishes text as the compositor's current selection,
	// so that the next client-side read via the standard protocol
	// returns exactly these bytes.
	SetSelection(text string) error
}

// Clipboard is the two-phase clipboard state machine: selection
// callbacks record only the pending mime type, the main iteration
// issues the deferred read, and an absolute-deadline window breaks the
// echo loop with the focused client.
type Clipboard struct {
	seat    Seat
	textOut *broadcast.Hub[string]
	logger  *slog.Logger

	pendingMime   string
	hasPending    bool
	pendingPipe   io.Reader
	readBuf       []byte
	suppressUntil time.Time

	now func() time.Time
}

// NewClipboard creates a clipboard service step. textOut is the text
// broadcast fabric that `clipboard,<base64>` messages are
// published onto.
func NewClipboard(seat Seat, textOut *broadcast.Hub[string], logger *slog.Logger) *Clipboard {
	return &Clipboard{seat: seat, textOut: textOut, logger: logger, now: time.Now}
}

// OnNewSelection is the Wayland new_selection callback: it records only
// pendingMime and returns immediately. No blocking read happens here —
// the seat's internal state isn't visible yet inside this callback.
//
// While suppressUntil is in the future this updates pendingMime (if
// the mime type differs) and the read it records is not issued until
// the window has closed: no RequestClientSelection call may happen
// inside the suppression window, or the focused client's echo would
// clobber the value the browser just pushed.
func (c *Clipboard) OnNewSelection(mime string) {
	if c.now().Before(c.suppressUntil) {
		if c.hasPending && c.pendingMime == mime {
			return
		}
		c.pendingMime = mime
		c.hasPending = true
		return
	}
	c.pendingMime = mime
	c.hasPending = true
}

// WriteFromPeer applies a ClipboardWrite input event
// to the compositor selection and opens the suppression window. The
// deadline is refreshed on each browser-initiated write.
func (c *Clipboard) WriteFromPeer(text string) error {
	// A peer write landing inside an active suppression window is still
	// applied and extends the deadline: it is a fresh browser-initiated
	// write, not an echo.
	if err := c.seat.SetSelection(text); err != nil {
		return err
	}
	c.suppressUntil = c.now().Add(suppressionWindow)
	return nil
}

// Step runs one compositor iteration's worth of clipboard work: issue
// the deferred read for a pending mime type, then make progress on any
// in-flight pipe read. Call this after dispatch, never from inside a
// selection callback.
func (c *Clipboard) Step() {
	now := c.now()

	if c.hasPending && !now.Before(c.suppressUntil) {
		pipe, err := c.seat.RequestClientSelection(c.pendingMime)
		if err != nil {
			c.logger.Warn("clipboard read request failed", "error", err)
		} else {
			c.pendingPipe = pipe
			c.readBuf = c.readBuf[:0]
		}
		c.hasPending = false
		c.pendingMime = ""
	}

	if c.pendingPipe == nil {
		return
	}

	buf := make([]byte, 4096)
	n, err := c.pendingPipe.Read(buf)
	if n > 0 {
		c.readBuf = append(c.readBuf, buf[:n]...)
	}
	switch {
	case err == nil:
		return // more data expected on a later iteration.
	case errors.Is(err, io.EOF):
		c.publish()
	case isWouldBlock(err):
		return
	default:
		// Abort the pending read; sessions are unaffected.
		c.logger.Warn("clipboard pipe read failed", "error", err)
		c.pendingPipe = nil
		c.readBuf = nil
	}
}

// publish validates and base64-encodes the accumulated read and
// publishes it on the text broadcast fabric.
func (c *Clipboard) publish() {
	defer func() {
		c.pendingPipe = nil
		c.readBuf = nil
	}()
	if !utf8.Valid(c.readBuf) {
		c.logger.Warn("clipboard read produced invalid UTF-8, discarding")
		return
	}
	encoded := base64.StdEncoding.EncodeToString(c.readBuf)
	c.textOut.Publish("clipboard," + encoded)
}

// isWouldBlock reports whether err represents a non-blocking read that
// simply has no data yet, as opposed to a real I/O failure.
func isWouldBlock(err error) bool {
	return errors.Is(err, io.ErrNoProgress) || errors.Is(err, errWouldBlock)
}

var errWouldBlock = errors.New("compositor: clipboard pipe read would block")
