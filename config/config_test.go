// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deskstream.yaml")
	yaml := "listen:\n  address: \":9090\"\nvideo:\n  codec: vp8\n  target_fps: 60\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Address != ":9090" {
		t.Errorf("Listen.Address = %q, want :9090", cfg.Listen.Address)
	}
	if cfg.Video.Codec != "vp8" {
		t.Errorf("Video.Codec = %q, want vp8", cfg.Video.Codec)
	}
	if cfg.Video.TargetFPS != 60 {
		t.Errorf("Video.TargetFPS = %d, want 60", cfg.Video.TargetFPS)
	}
	// Untouched field keeps its Default() value.
	if cfg.Session.PingIntervalSec != 15 {
		t.Errorf("Session.PingIntervalSec = %d, want 15 (unchanged default)", cfg.Session.PingIntervalSec)
	}
}

func TestEnvOverrideLocksField(t *testing.T) {
	t.Setenv("DESKSTREAM_TARGET_FPS", "24|locked")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Video.TargetFPS != 24 {
		t.Errorf("Video.TargetFPS = %d, want 24", cfg.Video.TargetFPS)
	}
	if !cfg.Locked("TARGET_FPS") {
		t.Error("Locked(\"TARGET_FPS\") = false, want true")
	}
	if cfg.Locked("VIDEO_CODEC") {
		t.Error("Locked(\"VIDEO_CODEC\") = true, want false")
	}
}

func TestValidateRejectsBadPingTimeout(t *testing.T) {
	cfg := Default()
	cfg.Session.PingTimeoutSec = cfg.Session.PingIntervalSec
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for ping_timeout_sec <= ping_interval_sec")
	}
}
