// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads deskstreamd's configuration from a single YAML
// file: a Default baseline, then a file unmarshal on top of it, then an
// environment-override pass. There are no silent fallbacks — a missing
// required field is a startup error, not a guess.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment selects which ambient defaults (the log handler) apply.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete runtime configuration for deskstreamd.
type Config struct {
	Environment Environment `yaml:"environment"`

	Listen ListenConfig `yaml:"listen"`
	Auth   AuthConfig   `yaml:"auth"`

	PublicCandidate         string `yaml:"public_candidate"`
	CandidateFromHostHeader bool   `yaml:"candidate_from_host_header"`

	Video VideoConfig `yaml:"video"`
	Audio AudioConfig `yaml:"audio"`

	Session SessionConfig `yaml:"session"`

	Runtime RuntimeConfig `yaml:"runtime"`

	UI UIConfig `yaml:"ui"`

	// locked records which dotted field names were set via a
	// DESKSTREAM_<FIELD>|locked environment override, so the /ui-config
	// endpoint can tell the browser UI not to offer them.
	locked map[string]bool
}

// ListenConfig configures the single multiplexed TCP listener.
type ListenConfig struct {
	Address string `yaml:"address"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// AuthConfig configures optional HTTP Basic Auth.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// VideoConfig configures the pipeline adapter.
type VideoConfig struct {
	Codec               string `yaml:"codec"`
	TargetFPS           int    `yaml:"target_fps"`
	Width               int    `yaml:"width"`
	Height              int    `yaml:"height"`
	HardwareEncoder     string `yaml:"hardware_encoder"`
	PipelineLatencyMS   int    `yaml:"pipeline_latency_ms"`
	KeyframeIntervalSec int    `yaml:"keyframe_interval_sec"`
}

// AudioConfig configures the audio capture thread.
type AudioConfig struct {
	Source     string `yaml:"source"` // PULSE_SOURCE override
	Channels   int    `yaml:"channels"`
	SampleRate int    `yaml:"sample_rate"`
	FrameMS    int    `yaml:"frame_ms"`
}

// SessionConfig configures session lifecycle timing.
type SessionConfig struct {
	PingIntervalSec  int `yaml:"ping_interval_sec"`
	PingTimeoutSec   int `yaml:"ping_timeout_sec"`
	KeyframeCacheCap int `yaml:"keyframe_cache_capacity"`
	TextCapacity     int `yaml:"text_capacity"`
	AudioCapacity    int `yaml:"audio_capacity"`
	GCIntervalSec    int `yaml:"gc_interval_sec"`
}

// RuntimeConfig carries XDG_RUNTIME_DIR/PULSE_SOURCE passthrough and the
// process-level feature toggles.
type RuntimeConfig struct {
	XDGRuntimeDir string `yaml:"xdg_runtime_dir"`
	EnableMetrics bool   `yaml:"enable_metrics"`
	EnableMCP     bool   `yaml:"enable_mcp"`
}

// UIConfig controls the embedded static web UI and its lockable
// toggles.
type UIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// override pairs a field's current value with whether an environment
// variable locked it against UI override. Nothing populates it:
// applyEnvOverrides records locks in Config.locked, which the
// /ui-config handler reads through Locked.
type override struct {
	Value  string
	Locked bool
}

// Default returns the baseline configuration. These defaults exist to
// give every field a sane zero value before a config file and
// environment overrides are layered on top — not as a substitute for
// them.
func Default() *Config {
	return &Config{
		Environment: Development,
		Listen: ListenConfig{
			Address: ":8008",
		},
		Video: VideoConfig{
			Codec:               "h264",
			TargetFPS:           30,
			Width:               1280,
			Height:              720,
			HardwareEncoder:     "auto",
			PipelineLatencyMS:   100,
			KeyframeIntervalSec: 2,
		},
		Audio: AudioConfig{
			Channels:   2,
			SampleRate: 48000,
			FrameMS:    20,
		},
		Session: SessionConfig{
			PingIntervalSec:  15,
			PingTimeoutSec:   45,
			KeyframeCacheCap: 256,
			TextCapacity:     256,
			AudioCapacity:    200,
			GCIntervalSec:    5,
		},
		Runtime: RuntimeConfig{
			EnableMetrics: true,
		},
		UI: UIConfig{
			Enabled: true,
		},
	}
}

// Load resolves the config file path from --config (flagPath, empty if
// unset) or DESKSTREAM_CONFIG, then loads it. A missing path is not an
// error: deskstreamd runs on Default() plus environment overrides alone,
// since the environment overrides alone are a complete configuration
// mechanism.
func Load(flagPath string) (*Config, error) {
	cfg := Default()

	path := flagPath
	if path == "" {
		path = os.Getenv("DESKSTREAM_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runtimeOverride is one DESKSTREAM_<FIELD> environment variable this
// process understands, and the setter that applies its raw string value.
type runtimeOverride struct {
	field string
	apply func(c *Config, raw string) bool
}

// runtimeOverrides lists every runtime-override environment variable
// this process understands, each optionally suffixed "|locked" in its
// value to keep the UI from offering it as user-editable.
var runtimeOverrides = []runtimeOverride{
	{"LISTEN_ADDRESS", func(c *Config, v string) bool { c.Listen.Address = v; return true }},
	{"PUBLIC_CANDIDATE", func(c *Config, v string) bool { c.PublicCandidate = v; return true }},
	{"CANDIDATE_FROM_HOST_HEADER", func(c *Config, v string) bool { return bindBool(&c.CandidateFromHostHeader, v) }},
	{"VIDEO_CODEC", func(c *Config, v string) bool { c.Video.Codec = v; return true }},
	{"TARGET_FPS", func(c *Config, v string) bool { return bindInt(&c.Video.TargetFPS, v) }},
	{"HARDWARE_ENCODER", func(c *Config, v string) bool { c.Video.HardwareEncoder = v; return true }},
	{"PIPELINE_LATENCY_MS", func(c *Config, v string) bool { return bindInt(&c.Video.PipelineLatencyMS, v) }},
	{"AUTH_ENABLED", func(c *Config, v string) bool { return bindBool(&c.Auth.Enabled, v) }},
	{"AUTH_USERNAME", func(c *Config, v string) bool { c.Auth.Username = v; return true }},
	{"AUTH_PASSWORD", func(c *Config, v string) bool { c.Auth.Password = v; return true }},
	{"XDG_RUNTIME_DIR", func(c *Config, v string) bool { c.Runtime.XDGRuntimeDir = v; return true }},
	{"PULSE_SOURCE", func(c *Config, v string) bool { c.Audio.Source = v; return true }},
	{"ENABLE_METRICS", func(c *Config, v string) bool { return bindBool(&c.Runtime.EnableMetrics, v) }},
	{"ENABLE_MCP", func(c *Config, v string) bool { return bindBool(&c.Runtime.EnableMCP, v) }},
}

// applyEnvOverrides walks runtimeOverrides, applying any
// DESKSTREAM_<FIELD> environment variable that is set. A value ending in
// "|locked" has the suffix stripped before parsing and marks the field
// locked for the /ui-config response.
func (c *Config) applyEnvOverrides() {
	if c.locked == nil {
		c.locked = make(map[string]bool)
	}
	for _, ov := range runtimeOverrides {
		raw, ok := os.LookupEnv("DESKSTREAM_" + ov.field)
		if !ok {
			continue
		}
		locked := false
		if rest, found := strings.CutSuffix(raw, "|locked"); found {
			raw, locked = rest, true
		}
		if ov.apply(c, raw) && locked {
			c.locked[ov.field] = true
		}
	}
}

// Locked reports whether the named runtime override field (e.g.
// "TARGET_FPS") was pinned by a "|locked" environment override.
func (c *Config) Locked(field string) bool {
	return c.locked[field]
}

// loadFile unmarshals path onto c, which must already hold Default()'s
// values so unset YAML fields keep their defaults.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Validate checks the configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Listen.Address == "" {
		errs = append(errs, "listen.address is required")
	}
	if c.Video.TargetFPS <= 0 {
		errs = append(errs, "video.target_fps must be positive")
	}
	switch c.Video.Codec {
	case "h264", "vp8", "vp9", "av1":
	default:
		errs = append(errs, fmt.Sprintf("video.codec %q is not one of h264/vp8/vp9/av1", c.Video.Codec))
	}
	if c.Session.PingTimeoutSec <= c.Session.PingIntervalSec {
		errs = append(errs, "session.ping_timeout_sec must exceed session.ping_interval_sec")
	}
	if (c.Listen.TLSCert == "") != (c.Listen.TLSKey == "") {
		errs = append(errs, "listen.tls_cert and listen.tls_key must both be set or both be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// expandVars expands ${VAR} and ${VAR:-default} patterns against the
// process environment, for path-valued fields like tls_cert and
// xdg_runtime_dir.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name, def := parts[1], ""
		if len(parts) >= 3 {
			def = parts[2]
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		return def
	})
}

func (c *Config) expandVariables() {
	c.Runtime.XDGRuntimeDir = expandVars(c.Runtime.XDGRuntimeDir)
	c.Audio.Source = expandVars(c.Audio.Source)
	c.Listen.TLSCert = expandVars(c.Listen.TLSCert)
	c.Listen.TLSKey = expandVars(c.Listen.TLSKey)
}

// bindInt parses an override string into *field, returning false (and
// leaving *field untouched) if it doesn't parse.
func bindInt(field *int, raw string) bool {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return false
	}
	*field = n
	return true
}

func bindBool(field *bool, raw string) bool {
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	*field = b
	return true
}
