// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// httpMethodLetters is the set of first bytes that can only begin an
// HTTP/1.1 request line: GET, POST, PUT, PATCH, HEAD, DELETE, OPTIONS,
// CONNECT, TRACE. No RFC 4571 frame length and no STUN method-type byte
// can collide with this set for the traffic this server emits, so a
// single peeked byte is sufficient to classify the connection.
var httpMethodLetters = map[byte]bool{
	'G': true, // GET
	'P': true, // POST, PUT, PATCH
	'H': true, // HEAD
	'D': true, // DELETE
	'O': true, // OPTIONS
	'C': true, // CONNECT
	'T': true, // TRACE
}

// SessionMatcher receives TCP connections that were not classified as
// HTTP. It owns demultiplexing the connection to the right session by
// reading the first RFC 4571 frame and its STUN USERNAME attribute.
type SessionMatcher interface {
	MatchConnection(ctx context.Context, conn net.Conn)
}

// Multiplexer accepts TCP connections on a single listening socket and
// dispatches each one to either the HTTP handler or the session matcher
// based on its first byte.
type Multiplexer struct {
	listener net.Listener
	matcher  SessionMatcher
	logger   *slog.Logger

	httpConns chan net.Conn
	server    *http.Server

	closed    chan struct{}
	closeOnce sync.Once
}

// NewMultiplexer creates a port multiplexer bound to address (e.g.
// ":8008"). Use ":0" for a random available port.
func NewMultiplexer(address string, handler http.Handler, matcher SessionMatcher, logger *slog.Logger) (*Multiplexer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	m := &Multiplexer{
		listener:  listener,
		matcher:   matcher,
		logger:    logger,
		httpConns: make(chan net.Conn, 64),
		closed:    make(chan struct{}),
	}
	m.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return m, nil
}

// Address returns the bound TCP address in "host:port" form.
func (m *Multiplexer) Address() string {
	return m.listener.Addr().String()
}

// Serve runs the accept loop until ctx is cancelled or Close is called.
// Per-connection classification failures never stop the loop.
func (m *Multiplexer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		m.Close()
	}()

	go func() {
		err := m.server.Serve(&chanListener{conns: m.httpConns, closed: m.closed})
		if err != nil && err != http.ErrServerClosed {
			m.logger.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.closed:
				return nil
			default:
			}
			var netErr net.Error
			if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
				continue
			}
			return err
		}
		go m.dispatch(ctx, conn)
	}
}

// Close shuts down the listener and the HTTP server.
func (m *Multiplexer) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.server.Close()
	})
	return m.listener.Close()
}

// dispatch peeks the first byte of conn without losing it, classifies the
// connection, and hands it to the HTTP router or the session matcher.
func (m *Multiplexer) dispatch(ctx context.Context, conn net.Conn) {
	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	if err != nil {
		m.logger.Debug("peek first byte failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	peeked := &peekedConn{Conn: conn, br: br}

	if httpMethodLetters[first[0]] {
		select {
		case m.httpConns <- peeked:
		case <-m.closed:
			conn.Close()
		}
		return
	}

	m.matcher.MatchConnection(ctx, peeked)
}

// peekedConn restores the byte consumed by Peek to the front of every
// subsequent Read, via the buffered reader wrapping the raw connection.
type peekedConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *peekedConn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

// chanListener implements net.Listener by reading already-classified
// connections from a channel, so the HTTP router can be served with the
// standard http.Server.Serve loop instead of a bespoke connection handler.
type chanListener struct {
	conns  <-chan net.Conn
	closed <-chan struct{}
}

func (l *chanListener) Accept() (net.Conn, error) {
	select {
	case conn, ok := <-l.conns:
		if !ok {
			return nil, net.ErrClosed
		}
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error   { return nil }
func (l *chanListener) Addr() net.Addr { return &net.TCPAddr{} }

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}
