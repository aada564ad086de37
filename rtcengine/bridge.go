// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import (
	"net"
	"sync"
	"time"
)

// bridgeConn implements net.Conn over two in-memory queues instead of a
// socket, so that connection-oriented libraries (pion/dtls, pion/sctp)
// can run their handshake and framing logic against it from a
// background goroutine while Engine's own Feed/Poll methods stay
// non-blocking, per doc.go's Sans-I/O adapter note.
//
// Feed (called by Engine.Feed, on the driver's goroutine) enqueues one
// inbound datagram for the library's next Read. Every Write the library
// performs is captured into an outbound queue that Engine.Poll drains
// as TransmitBytes outputs.
type bridgeConn struct {
	local, remote net.Addr

	inbound  chan []byte
	readBuf  []byte
	outbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newBridgeConn(local, remote net.Addr) *bridgeConn {
	return &bridgeConn{
		local:    local,
		remote:   remote,
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

// Feed enqueues data for the next Read call(s). It never blocks: when
// the inbound queue is full the datagram is dropped, as a datagram lost
// on the wire would be, and DTLS and SCTP recover by retransmission.
func (c *bridgeConn) Feed(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case c.inbound <- cp:
	case <-c.closed:
	default:
	}
}

// NextOutbound blocks until the library performs its next Write or the
// bridge closes. The engine's pump goroutine calls this in a loop and
// republishes each datagram as a transmit output.
func (c *bridgeConn) NextOutbound() ([]byte, bool) {
	select {
	case b := <-c.outbound:
		return b, true
	case <-c.closed:
		return nil, false
	}
}

func (c *bridgeConn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		select {
		case b, ok := <-c.inbound:
			if !ok {
				return 0, net.ErrClosed
			}
			c.readBuf = b
		case <-c.closed:
			return 0, net.ErrClosed
		}
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *bridgeConn) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case c.outbound <- cp:
		return len(p), nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *bridgeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *bridgeConn) LocalAddr() net.Addr  { return c.local }
func (c *bridgeConn) RemoteAddr() net.Addr { return c.remote }

// Deadlines are unused: the bridge never performs real I/O, so there is
// nothing for a deadline to bound. No handshake or read timeout applies
// here: the handshake runs until it completes or Engine.Close cancels
// it, and the driver's ping timeout bounds session liveness.
func (c *bridgeConn) SetDeadline(time.Time) error      { return nil }
func (c *bridgeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *bridgeConn) SetWriteDeadline(time.Time) error { return nil }
