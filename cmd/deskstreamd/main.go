// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Deskstreamd is the headless remote-desktop streaming server: one
// process owning the in-process compositor, the video pipeline, the
// Sans-I/O WebRTC session engines, and the port-multiplexed
// HTTP/WebSocket/ICE-TCP transport.
//
// On startup:
//  1. Loads configuration (file, then DESKSTREAM_* environment
//     overrides).
//  2. Generates the process-wide DTLS certificate.
//  3. Builds the broadcast fabrics, the video pipeline adapter, and the
//     session registry.
//  4. Starts the compositor thread, the audio thread, the session GC,
//     and the stats publisher.
//  5. Serves HTTP, signaling, and ICE-TCP on the single multiplexed
//     port until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/deskstream/deskstream/audio"
	"github.com/deskstream/deskstream/broadcast"
	"github.com/deskstream/deskstream/compositor"
	"github.com/deskstream/deskstream/config"
	"github.com/deskstream/deskstream/observe"
	"github.com/deskstream/deskstream/pipeline"
	"github.com/deskstream/deskstream/rtcengine"
	"github.com/deskstream/deskstream/session"
	"github.com/deskstream/deskstream/signaling"
	"github.com/deskstream/deskstream/transport"
	"github.com/deskstream/deskstream/webui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the YAML configuration file (or DESKSTREAM_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Runtime.XDGRuntimeDir != "" {
		os.Setenv("XDG_RUNTIME_DIR", cfg.Runtime.XDGRuntimeDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cert, err := rtcengine.GenerateCertificate()
	if err != nil {
		return err
	}

	host, port, err := splitListenAddress(cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("parsing listen address %q: %w", cfg.Listen.Address, err)
	}
	if cfg.Listen.TLSCert != "" {
		// TLS termination is delegated to a fronting proxy: the
		// first-byte multiplexer cannot share a port with a TLS
		// handshake (a ClientHello's 0x16 collides with the DTLS range).
		logger.Warn("listen.tls_cert is set but TLS is not terminated on the multiplexed port; front with a TLS proxy")
	}

	videoHub := broadcast.NewHub[pipeline.Packet](broadcast.VideoCapacity(float64(cfg.Video.TargetFPS)))
	audioHub := broadcast.NewHub[audio.Packet](cfg.Session.AudioCapacity)
	textHub := broadcast.NewHub[string](cfg.Session.TextCapacity)

	adapter, err := pipeline.NewAdapter(pipeline.Config{
		Codec:               pipeline.Codec(cfg.Video.Codec),
		TargetFPS:           cfg.Video.TargetFPS,
		Width:               cfg.Video.Width,
		Height:              cfg.Video.Height,
		HardwareEncoder:     cfg.Video.HardwareEncoder,
		PipelineLatencyMS:   cfg.Video.PipelineLatencyMS,
		KeyframeIntervalSec: cfg.Video.KeyframeIntervalSec,
	}, videoHub, logger.With("component", "pipeline"))
	if err != nil {
		return err
	}
	defer adapter.Close()

	metrics := observe.NewMetrics()
	input := compositor.NewQueue(256)
	backend := compositor.NewHeadlessBackend(cfg.Video.Width, cfg.Video.Height)

	var comp *compositor.Compositor
	registry := session.NewRegistry(session.Config{
		PingInterval: secondsOf(cfg.Session.PingIntervalSec),
		PingTimeout:  secondsOf(cfg.Session.PingTimeoutSec),
		GCInterval:   secondsOf(cfg.Session.GCIntervalSec),
		Logger:       logger.With("component", "session"),
	}, session.Deps{
		VideoHub:              videoHub,
		AudioHub:              audioHub,
		TextHub:               textHub,
		Adapter:               adapter,
		Input:                 input,
		NotifyDataChannelOpen: func() { comp.NotifyDataChannelOpen() },
		Certificate:           cert,
		UploadDir:             uploadDir(),
		Telemetry:             metrics,
	})
	defer registry.CloseAll()

	comp = compositor.New(compositor.Config{
		Backend:       backend,
		Input:         input,
		Adapter:       adapter,
		TextOut:       textHub,
		Logger:        logger.With("component", "compositor"),
		TargetFPS:     cfg.Video.TargetFPS,
		Width:         cfg.Video.Width,
		Height:        cfg.Video.Height,
		LiveSessions:  registry.LiveCount,
		OnFramePushed: metrics.FramePushed,
	})

	signalingHandler, err := signaling.NewHandler(signaling.Config{
		PublicCandidate:         cfg.PublicCandidate,
		CandidateFromHostHeader: cfg.CandidateFromHostHeader,
		FallbackHost:            host,
		Port:                    port,
		VideoCodec:              cfg.Video.Codec,
	}, registry, cert, logger.With("component", "signaling"))
	if err != nil {
		return err
	}

	router := observe.NewRouter(cfg, observe.RouterDeps{
		Signaling: signalingHandler,
		UI:        webui.Handler(),
		Sessions:  registry,
		Metrics:   metrics,
		Port:      port,
	})

	mux, err := transport.NewMultiplexer(cfg.Listen.Address, router, registry, logger.With("component", "mux"))
	if err != nil {
		return fmt.Errorf("binding %s: %w", cfg.Listen.Address, err)
	}
	defer mux.Close()

	// Compositor thread.
	go func() {
		if err := comp.Run(ctx); err != nil {
			logger.Error("compositor loop exited", "error", err)
			stop()
		}
	}()

	// Audio thread. PULSE_SOURCE capture requires a PulseAudio client
	// stack; without one the silence source keeps the Opus stream
	// continuous.
	source := newAudioSource(cfg, logger)
	capture, err := audio.NewCapture(audio.Config{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		FrameMS:    cfg.Audio.FrameMS,
	}, source, audioHub, logger.With("component", "audio"))
	if err != nil {
		return err
	}
	defer capture.Close()
	go func() {
		if err := capture.Run(ctx); err != nil {
			logger.Error("audio thread exited", "error", err)
		}
	}()

	go registry.RunGC(ctx)
	go observe.NewStatsPublisher(textHub, registry, logger.With("component", "stats")).Run(ctx)

	logger.Info("deskstreamd listening", "address", mux.Address(), "codec", cfg.Video.Codec,
		"display", fmt.Sprintf("%dx%d", cfg.Video.Width, cfg.Video.Height))
	return mux.Serve(ctx)
}

// newLogger picks the log handler. Production always emits JSON. In
// development, a terminal stderr gets human-readable text output;
// piped or redirected stderr (CI, systemd, integration tests) gets
// JSON so the output stays machine-parseable.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.Environment == config.Production {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	options := &slog.HandlerOptions{Level: slog.LevelDebug}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}

func splitListenAddress(address string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}

func secondsOf(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func uploadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Desktop")
}

// newAudioSource picks the capture source. A configured PULSE_SOURCE is
// honored by exec-ing the PulseAudio stack's parec against it; with no
// source configured (or no parec on PATH) the silence source keeps the
// Opus stream alive.
func newAudioSource(cfg *config.Config, logger *slog.Logger) audio.Source {
	if cfg.Audio.Source != "" {
		source, err := audio.NewParecSource(cfg.Audio.Source, cfg.Audio.SampleRate, cfg.Audio.Channels)
		if err == nil {
			return source
		}
		logger.Warn("pulse capture unavailable, falling back to silence", "source", cfg.Audio.Source, "error", err)
	}
	return audio.NewSilenceSource(cfg.Audio.FrameMS)
}
