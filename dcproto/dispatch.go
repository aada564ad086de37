// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package dcproto

import (
	"encoding/base64"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/deskstream/deskstream/compositor"
)

// Outbound message formats. Messages with a payload are
// built by string concatenation at the call site; the bare keepalive
// messages are constants so call sites and tests agree on the exact
// bytes.
const (
	Ping = "ping"
	Pong = "pong"
)

// Resize bounds, matching the largest display mode the compositor will
// configure (8K). A browser asking for more is malformed input, not a
// bigger desktop.
const (
	maxWidth  = 7680
	maxHeight = 4320
)

// Config wires a Dispatcher to the rest of the process. Every callback
// is optional; a nil callback drops the corresponding messages.
type Config struct {
	// Input is the compositor's cross-thread input queue.
	Input *compositor.Queue

	// Uploads receives the FILE_UPLOAD_* control messages and the
	// auxiliary channel's binary chunks.
	Uploads *UploadManager

	// OnPong is called for each `pong` message so the session driver can
	// reset its ping state.
	OnPong func()

	// OnSettings receives the JSON payload of a SETTINGS message.
	OnSettings func(json string)

	// OnTelemetry receives peer-reported telemetry: kind is one of
	// "fps", "latency", "stats_video", "stats_audio".
	OnTelemetry func(kind, payload string)

	// SendText writes a text message back to the peer on the primary
	// channel, used for `pong` replies and upload rejection warnings.
	SendText func(message string)

	Logger *slog.Logger
}

// Dispatcher parses one peer's inbound data-channel traffic. It is not
// safe for concurrent use: the session driver calls it from its single
// event-loop goroutine only.
type Dispatcher struct {
	cfg Config

	// buttonMask is the last button mask seen on an `m` message, diffed
	// to synthesize press/release events.
	buttonMask int
}

// NewDispatcher creates a dispatcher for one session.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{cfg: cfg}
}

// HandleText processes one inbound UTF-8 text message from the primary
// channel.
func (d *Dispatcher) HandleText(line string) {
	switch {
	case line == Pong:
		if d.cfg.OnPong != nil {
			d.cfg.OnPong()
		}
		return
	case line == Ping:
		if d.cfg.SendText != nil {
			d.cfg.SendText(Pong)
		}
		return
	case line == "kr":
		d.push(compositor.InputEvent{Kind: compositor.InputKeyboardReset})
		return
	case strings.HasPrefix(line, "FILE_UPLOAD_"):
		d.handleUploadControl(line)
		return
	case strings.HasPrefix(line, "SETTINGS,"):
		if d.cfg.OnSettings != nil {
			d.cfg.OnSettings(strings.TrimPrefix(line, "SETTINGS,"))
		}
		return
	case strings.HasPrefix(line, "_f,"):
		d.telemetry("fps", strings.TrimPrefix(line, "_f,"))
		return
	case strings.HasPrefix(line, "_l,"):
		d.telemetry("latency", strings.TrimPrefix(line, "_l,"))
		return
	case strings.HasPrefix(line, "_stats_video,"):
		d.telemetry("stats_video", strings.TrimPrefix(line, "_stats_video,"))
		return
	case strings.HasPrefix(line, "_stats_audio,"):
		d.telemetry("stats_audio", strings.TrimPrefix(line, "_stats_audio,"))
		return
	}

	prefix, rest, _ := strings.Cut(line, ",")
	switch prefix {
	case "m":
		d.handlePointerMove(rest)
	case "b":
		d.handlePointerButton(rest)
	case "w":
		d.handlePointerScroll(rest)
	case "k":
		d.handleKey(rest)
	case "t":
		// The text may itself contain commas; everything after the
		// prefix is the payload.
		d.push(compositor.InputEvent{Kind: compositor.InputTextInsert, Text: rest})
	case "cw":
		d.handleClipboardWrite(rest)
	case "r":
		d.handleResize(rest)
	case "focus":
		if id, err := strconv.Atoi(rest); err == nil {
			d.push(compositor.InputEvent{Kind: compositor.InputFocusWindow, WindowID: id})
		} else {
			d.malformed(line, err)
		}
	case "close":
		if id, err := strconv.Atoi(rest); err == nil {
			d.push(compositor.InputEvent{Kind: compositor.InputCloseWindow, WindowID: id})
		} else {
			d.malformed(line, err)
		}
	default:
		d.cfg.Logger.Debug("unknown data-channel message", "prefix", prefix)
	}
}

// HandleBinary processes one binary message from the auxiliary channel.
// The first byte is a type prefix; 0x01 is a file chunk appended to the
// currently open upload.
func (d *Dispatcher) HandleBinary(data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case 0x01:
		if d.cfg.Uploads != nil {
			if err := d.cfg.Uploads.Chunk(data[1:]); err != nil {
				d.cfg.Logger.Warn("upload chunk rejected", "error", err)
			}
		}
	default:
		d.cfg.Logger.Debug("unknown binary message type", "type", data[0], "bytes", len(data))
	}
}

// handlePointerMove parses `x,y,buttonMask,_` and synthesizes button
// press/release events for any mask bits that changed.
func (d *Dispatcher) handlePointerMove(rest string) {
	parts := strings.Split(rest, ",")
	if len(parts) < 2 {
		d.malformed("m,"+rest, nil)
		return
	}
	x, errX := strconv.Atoi(parts[0])
	y, errY := strconv.Atoi(parts[1])
	if errX != nil || errY != nil {
		d.malformed("m,"+rest, nil)
		return
	}
	d.push(compositor.InputEvent{Kind: compositor.InputPointerMove, X: x, Y: y})

	if len(parts) < 3 {
		return
	}
	mask, err := strconv.Atoi(parts[2])
	if err != nil {
		return
	}
	changed := mask ^ d.buttonMask
	for button := 0; button < 3; button++ {
		bit := 1 << button
		if changed&bit == 0 {
			continue
		}
		d.push(compositor.InputEvent{
			Kind:    compositor.InputPointerButton,
			Button:  button,
			Pressed: mask&bit != 0,
		})
	}
	d.buttonMask = mask
}

func (d *Dispatcher) handlePointerButton(rest string) {
	buttonStr, pressedStr, ok := strings.Cut(rest, ",")
	if !ok {
		d.malformed("b,"+rest, nil)
		return
	}
	button, err := strconv.Atoi(buttonStr)
	if err != nil || button < 0 || button > 2 {
		d.malformed("b,"+rest, err)
		return
	}
	d.push(compositor.InputEvent{
		Kind:    compositor.InputPointerButton,
		Button:  button,
		Pressed: pressedStr == "1",
	})
}

func (d *Dispatcher) handlePointerScroll(rest string) {
	dxStr, dyStr, ok := strings.Cut(rest, ",")
	if !ok {
		d.malformed("w,"+rest, nil)
		return
	}
	dx, errX := strconv.Atoi(dxStr)
	dy, errY := strconv.Atoi(dyStr)
	if errX != nil || errY != nil {
		d.malformed("w,"+rest, nil)
		return
	}
	d.push(compositor.InputEvent{Kind: compositor.InputPointerScroll, ScrollDX: dx, ScrollDY: dy})
}

// handleKey parses `keysym,pressed`. The keysym may be decimal or
// 0x-prefixed hex, matching what browser keysym tables emit.
func (d *Dispatcher) handleKey(rest string) {
	keysymStr, pressedStr, ok := strings.Cut(rest, ",")
	if !ok {
		d.malformed("k,"+rest, nil)
		return
	}
	var keysym uint64
	var err error
	if strings.HasPrefix(keysymStr, "0x") || strings.HasPrefix(keysymStr, "0X") {
		keysym, err = strconv.ParseUint(keysymStr[2:], 16, 32)
	} else {
		keysym, err = strconv.ParseUint(keysymStr, 10, 32)
	}
	if err != nil {
		d.malformed("k,"+rest, err)
		return
	}
	d.push(compositor.InputEvent{
		Kind:    compositor.InputKey,
		Keysym:  uint32(keysym),
		Pressed: pressedStr == "1",
	})
}

func (d *Dispatcher) handleClipboardWrite(rest string) {
	decoded, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		d.malformed("cw,<base64>", err)
		return
	}
	if !utf8.Valid(decoded) {
		d.cfg.Logger.Debug("clipboard write is not valid UTF-8, dropping")
		return
	}
	d.push(compositor.InputEvent{Kind: compositor.InputClipboardWrite, ClipboardText: string(decoded)})
}

func (d *Dispatcher) handleResize(rest string) {
	wStr, hStr, ok := strings.Cut(rest, "x")
	if !ok {
		d.malformed("r,"+rest, nil)
		return
	}
	w, errW := strconv.Atoi(wStr)
	h, errH := strconv.Atoi(hStr)
	if errW != nil || errH != nil || w <= 0 || h <= 0 || w > maxWidth || h > maxHeight {
		d.malformed("r,"+rest, nil)
		return
	}
	d.push(compositor.InputEvent{Kind: compositor.InputResize, Width: w, Height: h})
}

// handleUploadControl routes FILE_UPLOAD_START/END/ERROR. These use
// colon-separated fields, unlike the rest of the protocol, because the
// path may contain commas.
func (d *Dispatcher) handleUploadControl(line string) {
	if d.cfg.Uploads == nil {
		d.cfg.Logger.Debug("upload control message with no upload manager", "message", line)
		return
	}
	switch {
	case strings.HasPrefix(line, "FILE_UPLOAD_START:"):
		payload := strings.TrimPrefix(line, "FILE_UPLOAD_START:")
		path, sizeStr, ok := strings.Cut(payload, ":")
		if !ok {
			d.malformed(line, nil)
			return
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || size < 0 {
			d.malformed(line, err)
			return
		}
		if err := d.cfg.Uploads.Start(path, size); err != nil {
			d.cfg.Logger.Warn("upload start rejected", "path", path, "error", err)
			if d.cfg.SendText != nil {
				d.cfg.SendText("system," + `{"upload_error":` + strconv.Quote(err.Error()) + `}`)
			}
		}
	case strings.HasPrefix(line, "FILE_UPLOAD_END:"):
		path := strings.TrimPrefix(line, "FILE_UPLOAD_END:")
		if err := d.cfg.Uploads.Finish(path); err != nil {
			d.cfg.Logger.Warn("upload finish failed", "path", path, "error", err)
		}
	case strings.HasPrefix(line, "FILE_UPLOAD_ERROR:"):
		payload := strings.TrimPrefix(line, "FILE_UPLOAD_ERROR:")
		path, msg, _ := strings.Cut(payload, ":")
		d.cfg.Logger.Warn("peer reported upload error", "path", path, "message", msg)
		d.cfg.Uploads.Abort()
	default:
		d.cfg.Logger.Debug("unknown upload control message", "message", line)
	}
}

func (d *Dispatcher) push(e compositor.InputEvent) {
	if d.cfg.Input != nil {
		d.cfg.Input.Push(e)
	}
}

func (d *Dispatcher) telemetry(kind, payload string) {
	if d.cfg.OnTelemetry != nil {
		d.cfg.OnTelemetry(kind, payload)
	}
}

func (d *Dispatcher) malformed(line string, err error) {
	d.cfg.Logger.Debug("malformed data-channel message", "message", line, "error", err)
}
