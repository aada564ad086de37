// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/deskstream/deskstream/audio"
	"github.com/deskstream/deskstream/broadcast"
	"github.com/deskstream/deskstream/dcproto"
	"github.com/deskstream/deskstream/pipeline"
	"github.com/deskstream/deskstream/rtcengine"
	"github.com/deskstream/deskstream/transport"
)

// ErrPeerTimeout is the termination reason when a peer leaves pings
// unanswered past the configured timeout.
var ErrPeerTimeout = errors.New("session: peer ping timeout")

// driver runs one attached connection's event loop. Every field is
// owned by the single run goroutine; the dispatcher's callbacks
// execute inside drain, on that same goroutine.
type driver struct {
	registry *Registry
	session  *Session
	engine   *rtcengine.Engine
	conn     net.Conn
	logger   *slog.Logger

	videoRx *broadcast.Receiver[pipeline.Packet]
	audioRx *broadcast.Receiver[audio.Packet]
	textRx  *broadcast.Receiver[string]

	dispatcher *dcproto.Dispatcher
	uploads    *dcproto.UploadManager

	pingState  PingState
	pingSentAt time.Time
	lastPong   time.Time

	// sentInitialKeyframe is false until this peer has been delivered a
	// complete keyframe, and is reset on broadcast lag so the next
	// keyframe is replayed.
	sentInitialKeyframe bool

	// audioSeq/audioTimestamp are this session's outbound audio RTP
	// counters; the audio thread emits raw Opus packets and each driver
	// stamps its own sequence/timestamp progression.
	audioSeq       uint16
	audioTimestamp uint32

	// engineTimer fires when the engine's next-deadline elapses; the
	// channel is nil while the engine reports no deadline.
	engineTimer *time.Timer
}

func newDriver(r *Registry, s *Session, engine *rtcengine.Engine, conn net.Conn) *driver {
	d := &driver{
		registry: r,
		session:  s,
		engine:   engine,
		conn:     conn,
		logger:   r.cfg.Logger.With("session", s.ID),
		videoRx:  r.deps.VideoHub.Subscribe(),
		audioRx:  r.deps.AudioHub.Subscribe(),
		textRx:   r.deps.TextHub.Subscribe(),
		uploads:  dcproto.NewUploadManager(r.deps.UploadDir),
		lastPong: time.Now(),
	}
	d.dispatcher = dcproto.NewDispatcher(dcproto.Config{
		Input:   r.deps.Input,
		Uploads: d.uploads,
		Logger:  d.logger,
		OnPong: func() {
			d.pingState = PingIdle
			d.lastPong = time.Now()
			d.session.Touch()
		},
		OnSettings: d.applySettings,
		OnTelemetry: func(kind, payload string) {
			if r.deps.Telemetry != nil {
				r.deps.Telemetry.ClientTelemetry(s.ID, kind, payload)
			}
		},
		SendText: func(message string) {
			if err := d.engine.WriteDataChannel([]byte(message)); err != nil {
				d.logger.Debug("data channel write failed", "error", err)
			}
		},
	})
	return d
}

// run is the session driver loop, multiplexing every event source
// until teardown. firstFrame is the STUN-carrying frame the registry
// already read during matching, replayed into the engine before the
// loop starts.
func (d *driver) run(ctx context.Context, firstFrame []byte) {
	terminal := true
	defer func() {
		d.teardown(ctx, terminal)
	}()

	if err := d.engine.Feed(firstFrame); err != nil {
		d.logger.Warn("replaying first frame failed", "error", err)
		return
	}
	if err := d.drain(); err != nil {
		d.logger.Warn("initial drain failed", "error", err)
		return
	}

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	stopped := make(chan struct{})
	defer close(stopped)
	go d.readLoop(stopped, frames, readErr)

	pingTicker := time.NewTicker(d.registry.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Cancelled from outside: connection replaced or process
			// shutdown. The registry entry stays (or is being cleaned up
			// by the caller); this goroutine only releases its own
			// resources.
			terminal = false
			return

		// Source A: bytes from the TCP socket.
		case frame := <-frames:
			d.session.Touch()
			if err := d.engine.Feed(frame); err != nil {
				d.logger.Warn("engine rejected inbound frame", "error", err)
				return
			}
			if err := d.drain(); err != nil {
				d.logger.Warn("drain after inbound frame failed", "error", err)
				return
			}

		case err := <-readErr:
			if !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				d.logger.Info("tcp connection ended", "error", err)
			}
			return

		// Source B: one video RTP packet from the broadcast fabric.
		case pkt := <-d.videoRx.C():
			if missed := d.videoRx.TakeMissed(); missed > 0 {
				// ReceiverLag: request a fresh keyframe and
				// reset the replay flag so the peer recovers a decodable
				// stream.
				d.logger.Debug("video receiver lagged", "missed", missed)
				d.registry.deps.Adapter.RequestKeyframe()
				d.sentInitialKeyframe = false
			}
			if pkt.IsKeyframePart {
				d.sentInitialKeyframe = true
			}
			if err := d.writeVideo(pkt); err != nil {
				d.logger.Warn("forwarding video packet failed", "error", err)
				return
			}

		// Source C: one Opus packet from the audio broadcast fabric.
		case pkt := <-d.audioRx.C():
			d.audioRx.TakeMissed()
			if err := d.writeAudio(pkt); err != nil {
				d.logger.Warn("forwarding audio packet failed", "error", err)
				return
			}

		// Source D: one outbound text message.
		case msg := <-d.textRx.C():
			d.textRx.TakeMissed()
			if err := d.engine.WriteDataChannel([]byte(msg)); err != nil {
				d.logger.Debug("text broadcast write failed", "error", err)
			}
			if err := d.drain(); err != nil {
				d.logger.Warn("drain after text write failed", "error", err)
				return
			}

		// Engine readiness: the engine's own goroutines (DTLS
		// handshake, SCTP accept loop, outbound pump) queued output
		// while this loop was idle on its other sources.
		case <-d.engine.Ready():
			if err := d.drain(); err != nil {
				d.logger.Warn("drain after engine readiness failed", "error", err)
				return
			}

		// Source E: engine timeout deadline.
		case <-d.engineTimerC():
			d.engine.HandleTimeout(time.Now())
			if err := d.drain(); err != nil {
				d.logger.Warn("drain after engine timeout failed", "error", err)
				return
			}

		// Source F: keepalive ping timer.
		case <-pingTicker.C:
			if time.Since(d.lastPong) >= d.registry.cfg.PingTimeout {
				d.logger.Warn("terminating session", "error", ErrPeerTimeout)
				return
			}
			if err := d.engine.WriteDataChannel([]byte(dcproto.Ping)); err != nil {
				d.logger.Debug("ping write failed", "error", err)
			}
			if d.pingState == PingIdle {
				d.pingState = PingWaitingPong
				d.pingSentAt = time.Now()
			}
			if err := d.drain(); err != nil {
				d.logger.Warn("drain after ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop runs on its own goroutine: it reads the TCP socket, decodes
// RFC 4571 frames, and hands complete frames to the driver loop.
// Framer errors terminate the session. stopped is closed when the
// driver loop exits, so a blocked hand-off never outlives the driver.
func (d *driver) readLoop(stopped <-chan struct{}, frames chan<- []byte, readErr chan<- error) {
	decoder := transport.NewFrameDecoder()
	buf := make([]byte, 32*1024)
	for {
		n, err := d.conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			for {
				payload, ok, derr := decoder.Next()
				if derr != nil {
					readErr <- fmt.Errorf("session: framing error: %w", derr)
					return
				}
				if !ok {
					break
				}
				select {
				case frames <- payload:
				case <-stopped:
					return
				}
			}
		}
		if err != nil {
			select {
			case readErr <- err:
			case <-stopped:
			}
			return
		}
	}
}

// writeVideo forwards one broadcast packet to the engine, preserving
// payload type, sequence number, timestamp, and marker, then drains
// outputs before the loop selects another source so packets hit the
// wire in arrival order.
func (d *driver) writeVideo(pkt pipeline.Packet) error {
	if err := d.engine.WriteRTP(rtcengine.MediaVideo, pkt.PayloadType, pkt.SequenceNumber, pkt.Timestamp, pkt.Marker, pkt.Payload); err != nil {
		return err
	}
	if t := d.registry.deps.Telemetry; t != nil {
		t.RTPForwarded("video", 1)
	}
	return d.drain()
}

// writeAudio stamps the driver's own audio sequence/timestamp
// progression onto one Opus packet.
func (d *driver) writeAudio(pkt audio.Packet) error {
	err := d.engine.WriteRTP(rtcengine.MediaAudio, d.session.AudioPayloadType, d.audioSeq, d.audioTimestamp, false, pkt.Payload)
	if err != nil {
		return err
	}
	d.audioSeq++
	d.audioTimestamp += pkt.Samples
	if t := d.registry.deps.Telemetry; t != nil {
		t.RTPForwarded("audio", 1)
	}
	return d.drain()
}

// drain repeatedly polls the engine for outputs until it has none,
// writing transmit outputs as single RFC 4571 frames and dispatching
// events. A write error or terminal engine
// state is returned to terminate the session.
func (d *driver) drain() error {
	for {
		out, ok := d.engine.Poll()
		if !ok {
			return nil
		}
		switch out.Kind {
		case rtcengine.OutputTransmit:
			if err := transport.WriteFrame(d.conn, out.Bytes); err != nil {
				return fmt.Errorf("session: writing to peer: %w", err)
			}

		case rtcengine.OutputDataChannelOpen:
			d.logger.Info("data channel opened", "label", out.Label, "channel", out.Channel)
			if out.Channel == rtcengine.ChannelPrimary {
				if d.registry.deps.NotifyDataChannelOpen != nil {
					d.registry.deps.NotifyDataChannelOpen()
				}
				if err := d.replayKeyframe(); err != nil {
					return err
				}
			}

		case rtcengine.OutputDataChannelData:
			if out.Channel == rtcengine.ChannelPrimary {
				d.dispatcher.HandleText(string(out.Data))
			} else {
				d.dispatcher.HandleBinary(out.Data)
			}

		case rtcengine.OutputDataChannelClose:
			d.logger.Info("data channel closed", "label", out.Label)
			if out.Channel == rtcengine.ChannelAuxiliary {
				d.uploads.Abort()
			}

		case rtcengine.OutputConnectionStateChange:
			d.logger.Info("connection state changed", "state", out.State)
			if out.State == rtcengine.StateFailed {
				return fmt.Errorf("session: engine failed")
			}

		case rtcengine.OutputKeyframeRequest:
			d.registry.deps.Adapter.RequestKeyframe()
		}
		if !out.NextTimeout.IsZero() {
			d.resetEngineTimer(out.NextTimeout)
		}
	}
}

// replayKeyframe delivers the cached keyframe to a freshly opened data
// channel: cached packets are written in stored order
// before any further broadcast packet reaches this peer (the calling
// drain loop runs to completion before the driver selects another
// source). Outputs are drained after each write so the replay of a
// large keyframe cannot overflow the engine's output queue. With no
// cache yet, the pipeline is asked to emit one and the flag stays false
// so the next broadcast keyframe completes delivery.
func (d *driver) replayKeyframe() error {
	if d.sentInitialKeyframe {
		return nil
	}
	frame, ok := d.registry.deps.Adapter.KeyframeCache().Snapshot()
	if !ok {
		d.registry.deps.Adapter.RequestKeyframe()
		return nil
	}
	// Set before writing: the nested drains below would otherwise
	// re-enter on a queued duplicate open event.
	d.sentInitialKeyframe = true
	for _, pkt := range frame.Packets {
		if err := d.engine.WriteRTP(rtcengine.MediaVideo, pkt.PayloadType, pkt.SequenceNumber, pkt.Timestamp, pkt.Marker, pkt.Payload); err != nil {
			return fmt.Errorf("session: keyframe replay: %w", err)
		}
		if err := d.drain(); err != nil {
			return err
		}
	}
	d.logger.Info("replayed cached keyframe", "packets", len(frame.Packets), "timestamp", frame.Timestamp)
	return nil
}

// applySettings handles a SETTINGS message: it logs the parsed fields
// and requests a keyframe when bitrate, fps or codec is present. The
// encoder's bitrate, frame rate and codec are not changed.
func (d *driver) applySettings(payload string) {
	var settings map[string]any
	if err := json.Unmarshal([]byte(payload), &settings); err != nil {
		d.logger.Debug("malformed SETTINGS payload", "error", err)
		return
	}
	d.logger.Info("runtime settings update", "settings", settings)
	for _, key := range []string{"bitrate", "fps", "codec"} {
		if _, ok := settings[key]; ok {
			d.registry.deps.Adapter.RequestKeyframe()
			return
		}
	}
}

// engineTimerC returns the engine timer's channel, or nil (blocking
// forever in select) when no deadline is pending.
func (d *driver) engineTimerC() <-chan time.Time {
	if d.engineTimer == nil {
		return nil
	}
	return d.engineTimer.C
}

func (d *driver) resetEngineTimer(deadline time.Time) {
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	if d.engineTimer == nil {
		d.engineTimer = time.NewTimer(wait)
		return
	}
	if !d.engineTimer.Stop() {
		select {
		case <-d.engineTimer.C:
		default:
		}
	}
	d.engineTimer.Reset(wait)
}

// teardown releases the driver's resources. When the exit was terminal
// (anything but external cancellation), the session itself is removed
// from the registry.
func (d *driver) teardown(ctx context.Context, terminal bool) {
	d.videoRx.Close()
	d.audioRx.Close()
	d.textRx.Close()
	d.uploads.Abort()
	if d.engineTimer != nil {
		d.engineTimer.Stop()
	}
	d.conn.Close()
	if terminal && ctx.Err() == nil {
		d.registry.Remove(d.session)
	}
}
