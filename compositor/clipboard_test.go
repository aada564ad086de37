// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/deskstream/deskstream/broadcast"
)

type fakeSeat struct {
	requested     []string
	pipe          io.Reader
	requestErr    error
	setSelections []string
}

func (s *fakeSeat) RequestClientSelection(mime string) (io.Reader, error) {
	s.requested = append(s.requested, mime)
	if s.requestErr != nil {
		return nil, s.requestErr
	}
	return s.pipe, nil
}

func (s *fakeSeat) SetSelection(text string) error {
	s.setSelections = append(s.setSelections, text)
	return nil
}

func newTestClipboard(seat Seat) (*Clipboard, *broadcast.Receiver[string]) {
	hub := broadcast.NewHub[string](8)
	rx := hub.Subscribe()
	c := NewClipboard(seat, hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c, rx
}

func TestClipboardDeferredRead(t *testing.T) {
	seat := &fakeSeat{pipe: strings.NewReader("hello")}
	c, rx := newTestClipboard(seat)

	c.OnNewSelection("text/plain")
	if len(seat.requested) != 0 {
		t.Fatalf("OnNewSelection issued a read request before Step: %v", seat.requested)
	}

	c.Step()
	if len(seat.requested) != 1 || seat.requested[0] != "text/plain" {
		t.Fatalf("requested = %v, want one request for text/plain", seat.requested)
	}
	c.Step() // drains the reader to EOF and publishes.

	select {
	case msg := <-rx.C():
		want := "clipboard," + base64.StdEncoding.EncodeToString([]byte("hello"))
		if msg != want {
			t.Errorf("published %q, want %q", msg, want)
		}
	default:
		t.Fatal("expected a published clipboard message")
	}
}

func TestClipboardSuppressedDuringWindow(t *testing.T) {
	seat := &fakeSeat{pipe: strings.NewReader("ignored")}
	c, _ := newTestClipboard(seat)

	now := time.Now()
	c.now = func() time.Time { return now }

	if err := c.WriteFromPeer("from browser"); err != nil {
		t.Fatalf("WriteFromPeer: %v", err)
	}
	if len(seat.setSelections) != 1 || seat.setSelections[0] != "from browser" {
		t.Fatalf("setSelections = %v", seat.setSelections)
	}

	// The focused client's own selection callback fires inside the
	// suppression window: must not schedule a read.
	c.OnNewSelection("text/plain")
	c.Step()
	if len(seat.requested) != 0 {
		t.Fatalf("requested a read during suppression window: %v", seat.requested)
	}

	now = now.Add(suppressionWindow + time.Millisecond)
	c.Step()
	if len(seat.requested) != 1 {
		t.Fatalf("expected exactly one deferred read after window closed, got %v", seat.requested)
	}
}

func TestClipboardDiscardsInvalidUTF8(t *testing.T) {
	seat := &fakeSeat{pipe: strings.NewReader("\xff\xfe\xfd")}
	c, rx := newTestClipboard(seat)

	c.OnNewSelection("text/plain")
	c.Step()
	c.Step()

	select {
	case msg := <-rx.C():
		t.Fatalf("expected no publish for invalid UTF-8, got %q", msg)
	default:
	}
}

func TestClipboardAbortsOnReadError(t *testing.T) {
	seat := &fakeSeat{pipe: errReader{errors.New("pipe broke")}}
	c, rx := newTestClipboard(seat)

	c.OnNewSelection("text/plain")
	c.Step()
	c.Step()

	select {
	case msg := <-rx.C():
		t.Fatalf("expected no publish on read error, got %q", msg)
	default:
	}
	if c.pendingPipe != nil {
		t.Error("pendingPipe should be cleared after a read error")
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
