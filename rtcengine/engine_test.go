// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
	"github.com/pion/sctp"
	"github.com/pion/stun/v3"
)

// newHandshakeEngine builds an engine and primes it with an ICE binding
// request, returning the engine after consuming the STUN response.
func newHandshakeEngine(t *testing.T) *Engine {
	t.Helper()
	cert, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("GenerateCertificate: %v", err)
	}
	e := NewEngine(Config{
		Certificate: cert,
		LocalUfrag:  "localfrg",
		LocalPwd:    "localpwd901234567890123",
		RemoteUfrag: "abcd",
		RemotePwd:   "remotepwd",
		LocalAddr:   &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8008},
		RemoteAddr:  &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000},
		Logger:      slog.New(slog.DiscardHandler),
	})
	t.Cleanup(func() { e.Close() })

	req, err := stun.Build(
		stun.BindingRequest,
		stun.TransactionID,
		stun.NewUsername("localfrg:abcd"),
		stun.NewShortTermIntegrity("localpwd901234567890123"),
		stun.Fingerprint,
	)
	if err != nil {
		t.Fatalf("building STUN request: %v", err)
	}
	if err := e.Feed(req.Raw); err != nil {
		t.Fatalf("Feed(STUN): %v", err)
	}

	out, ok := e.Poll()
	if !ok || out.Kind != OutputTransmit {
		t.Fatalf("no transmit output after STUN binding request: %+v ok=%t", out, ok)
	}
	response := &stun.Message{Raw: out.Bytes}
	if err := response.Decode(); err != nil {
		t.Fatalf("decoding STUN response: %v", err)
	}
	if response.Type != stun.BindingSuccess {
		t.Fatalf("STUN response type = %s, want binding success", response.Type)
	}
	return e
}

// shuttle wires the engine's Feed/Poll surface to one end of a
// net.Pipe so real pion client stacks can handshake against it. Every
// transmit output is written to the wire; every event is forwarded on
// the returned channel.
func shuttle(t *testing.T, e *Engine, wire net.Conn) <-chan Output {
	t.Helper()
	events := make(chan Output, 32)
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	go func() {
		for {
			select {
			case <-e.Ready():
				for {
					out, ok := e.Poll()
					if !ok {
						break
					}
					if out.Kind == OutputTransmit {
						if _, err := wire.Write(out.Bytes); err != nil {
							return
						}
						continue
					}
					select {
					case events <- out:
					case <-stop:
						return
					}
				}
			case <-stop:
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := wire.Read(buf)
			if n > 0 {
				datagram := make([]byte, n)
				copy(datagram, buf[:n])
				if feedErr := e.Feed(datagram); feedErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return events
}

// encodeDCEPOpenMessage builds a DATA_CHANNEL_OPEN for the given label,
// as a browser would send on its first stream.
func encodeDCEPOpenMessage(label string) []byte {
	msg := make([]byte, 12+len(label))
	msg[0] = dcepOpen
	binary.BigEndian.PutUint16(msg[8:10], uint16(len(label)))
	copy(msg[12:], label)
	return msg
}

func waitForEvent(t *testing.T, events <-chan Output, kind OutputKind, timeout time.Duration) Output {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case out := <-events:
			if out.Kind == kind {
				return out
			}
		case <-deadline:
			t.Fatalf("no %v event before timeout", kind)
		}
	}
}

// TestEngineHandshakeAndDataChannel drives a real pion DTLS client and
// SCTP association against the engine over an in-memory wire: every
// handshake flight the engine's DTLS/SCTP stack writes must surface
// through Poll as transmit outputs, the engine must reach the connected
// state, and a DCEP open for the control channel must produce a
// data-channel-open event and a working outbound write path.
func TestEngineHandshakeAndDataChannel(t *testing.T) {
	e := newHandshakeEngine(t)

	clientWire, engineWire := net.Pipe()
	t.Cleanup(func() {
		clientWire.Close()
		engineWire.Close()
	})
	events := shuttle(t, e, engineWire)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dtlsConn, err := dtls.ClientWithContext(ctx, clientWire, &dtls.Config{
		InsecureSkipVerify:     true,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{dtls.SRTP_AES128_CM_HMAC_SHA1_80},
	})
	if err != nil {
		t.Fatalf("DTLS client handshake: %v", err)
	}
	defer dtlsConn.Close()

	assoc, err := sctp.Client(sctp.Config{
		NetConn:       dtlsConn,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("SCTP client association: %v", err)
	}
	defer assoc.Close()

	deadline := time.Now().Add(5 * time.Second)
	for e.State() != StateConnected {
		if time.Now().After(deadline) {
			t.Fatalf("engine state = %s, never reached connected", e.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	stream, err := assoc.OpenStream(1, ppidDCEP)
	if err != nil {
		t.Fatalf("opening SCTP stream: %v", err)
	}
	if _, err := stream.WriteSCTP(encodeDCEPOpenMessage("control"), ppidDCEP); err != nil {
		t.Fatalf("writing DCEP open: %v", err)
	}

	open := waitForEvent(t, events, OutputDataChannelOpen, 5*time.Second)
	if open.Channel != ChannelPrimary || open.Label != "control" {
		t.Fatalf("data channel open = %+v, want primary 'control'", open)
	}

	// The DCEP ack comes back on the same stream.
	buf := make([]byte, 256)
	stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := stream.Read(buf)
	if err != nil {
		t.Fatalf("reading DCEP ack: %v", err)
	}
	if n != 1 || buf[0] != dcepAck {
		t.Fatalf("DCEP ack = %#v, want single 0x02 byte", buf[:n])
	}

	// Outbound data-channel writes reach the peer.
	if err := e.WriteDataChannel([]byte("taskbar,{\"windows\":[]}")); err != nil {
		t.Fatalf("WriteDataChannel: %v", err)
	}
	stream.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err = stream.Read(buf)
	if err != nil {
		t.Fatalf("reading data-channel message: %v", err)
	}
	if got := string(buf[:n]); got != "taskbar,{\"windows\":[]}" {
		t.Fatalf("data-channel message = %q", got)
	}
}
