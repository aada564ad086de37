// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide metrics registry, implementing
// session.Telemetry so drivers can report without importing this
// package.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	rtpForwarded   *prometheus.CounterVec
	framesPushed   prometheus.Counter
	clientFPS      *prometheus.GaugeVec
	clientLatency  *prometheus.GaugeVec
	clientReports  *prometheus.CounterVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deskstream_sessions_active",
			Help: "Currently registered streaming sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskstream_sessions_total",
			Help: "Sessions created since process start.",
		}),
		rtpForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskstream_rtp_packets_forwarded_total",
			Help: "RTP packets written to session engines, by media.",
		}, []string{"media"}),
		framesPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskstream_frames_pushed_total",
			Help: "Raw frames the compositor pushed into the video pipeline.",
		}),
		clientFPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deskstream_client_reported_fps",
			Help: "Most recent frame rate each peer reported over its data channel.",
		}, []string{"session"}),
		clientLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deskstream_client_reported_latency_ms",
			Help: "Most recent latency each peer reported over its data channel.",
		}, []string{"session"}),
		clientReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskstream_client_reports_total",
			Help: "Peer telemetry messages received, by kind.",
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.rtpForwarded,
		m.framesPushed,
		m.clientFPS,
		m.clientLatency,
		m.clientReports,
	)
	return m
}

// Handler serves the Prometheus text exposition for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FramePushed counts one compositor frame entering the pipeline.
func (m *Metrics) FramePushed() {
	m.framesPushed.Inc()
}

// SessionStarted implements session.Telemetry.
func (m *Metrics) SessionStarted(id string) {
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

// SessionEnded implements session.Telemetry.
func (m *Metrics) SessionEnded(id string) {
	m.sessionsActive.Dec()
	m.clientFPS.DeleteLabelValues(id)
	m.clientLatency.DeleteLabelValues(id)
}

// ClientTelemetry implements session.Telemetry, surfacing the `_f`,
// `_l`, and `_stats_*` data-channel messages.
func (m *Metrics) ClientTelemetry(id, kind, payload string) {
	m.clientReports.WithLabelValues(kind).Inc()
	switch kind {
	case "fps":
		if v, err := strconv.ParseFloat(payload, 64); err == nil {
			m.clientFPS.WithLabelValues(id).Set(v)
		}
	case "latency":
		if v, err := strconv.ParseFloat(payload, 64); err == nil {
			m.clientLatency.WithLabelValues(id).Set(v)
		}
	}
}

// RTPForwarded implements session.Telemetry.
func (m *Metrics) RTPForwarded(media string, packets int) {
	m.rtpForwarded.WithLabelValues(media).Add(float64(packets))
}
