// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/deskstream/deskstream/broadcast"
	"github.com/deskstream/deskstream/session"
)

// statsInterval paces the `stats,<json>` broadcast.
const statsInterval = 5 * time.Second

// StatsPublisher periodically publishes a `stats,<json>` snapshot of
// the process's performance counters onto the text broadcast fabric so
// every connected peer's UI can render them.
type StatsPublisher struct {
	hub      *broadcast.Hub[string]
	registry *session.Registry
	logger   *slog.Logger
	started  time.Time
}

// NewStatsPublisher creates a stats publisher.
func NewStatsPublisher(hub *broadcast.Hub[string], registry *session.Registry, logger *slog.Logger) *StatsPublisher {
	return &StatsPublisher{hub: hub, registry: registry, logger: logger, started: time.Now()}
}

type statsSnapshot struct {
	Sessions      int   `json:"sessions"`
	UptimeSeconds int64 `json:"uptime_seconds"`
	TimestampMS   int64 `json:"timestamp_ms"`
}

// Run publishes snapshots until ctx is cancelled.
func (p *StatsPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := statsSnapshot{
				Sessions:      p.registry.LiveCount(),
				UptimeSeconds: int64(now.Sub(p.started).Seconds()),
				TimestampMS:   now.UnixMilli(),
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				p.logger.Warn("marshaling stats snapshot failed", "error", err)
				continue
			}
			p.hub.Publish("stats," + string(payload))
		}
	}
}
