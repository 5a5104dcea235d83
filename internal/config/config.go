// Package config holds the tunable defaults for the viewer core. It exists
// so the numeric constants scattered through spec.md (grace periods, history
// caps, debounce windows) have one documented home, loadable from YAML the
// way the teacher repo loads its own settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ViewerConfig bundles every timing/size knob the core components need.
// Field names match the quantities named in spec.md so the mapping from
// spec to code is obvious at a glance.
type ViewerConfig struct {
	// MaxHistory is the soft row cap on the grid cache (spec.md §3, default 5000).
	MaxHistory int `yaml:"max_history"`

	// AckGraceMillis is the predictive-echo ack grace window (spec.md §4.1, default 90ms).
	AckGraceMillis int `yaml:"ack_grace_millis"`

	// SRTTAlpha is the EWMA smoothing factor for round-trip time (spec.md §4.2, default 0.125).
	SRTTAlpha float64 `yaml:"srtt_alpha"`

	// BackfillLookaheadRows bounds a single backfill request (spec.md §4.3, default 64).
	BackfillLookaheadRows int `yaml:"backfill_lookahead_rows"`

	// InputFlushMillis is the micro-batching delay for outbound input frames (spec.md §4.4, default 2ms).
	InputFlushMillis int `yaml:"input_flush_millis"`

	// InputFrameCapBytes bounds a single outbound input frame (spec.md §4.4, default 32 KiB).
	InputFrameCapBytes int `yaml:"input_frame_cap_bytes"`

	// ViewportCommitDebounceMillis debounces viewport-size proposals (spec.md §4.5, default 120ms).
	ViewportCommitDebounceMillis int `yaml:"viewport_commit_debounce_millis"`

	// ViewportRowTolerance is the row-count noise tolerance for viewport commits (spec.md §4.5, default 1).
	ViewportRowTolerance int `yaml:"viewport_row_tolerance"`

	// AutoResizeHostOnViewportChange gates the implicit resize-frame send
	// (spec.md §9 "ENABLE_IMPLICIT_HOST_RESIZE"); opt-in only, default false.
	AutoResizeHostOnViewportChange bool `yaml:"auto_resize_host_on_viewport_change"`
}

// Default returns the documented defaults from spec.md.
func Default() ViewerConfig {
	return ViewerConfig{
		MaxHistory:                     5000,
		AckGraceMillis:                 90,
		SRTTAlpha:                      0.125,
		BackfillLookaheadRows:          64,
		InputFlushMillis:               2,
		InputFrameCapBytes:             32 * 1024,
		ViewportCommitDebounceMillis:   120,
		ViewportRowTolerance:           1,
		AutoResizeHostOnViewportChange: false,
	}
}

// AckGrace returns AckGraceMillis as a time.Duration.
func (c ViewerConfig) AckGrace() time.Duration {
	return time.Duration(c.AckGraceMillis) * time.Millisecond
}

// InputFlushInterval returns InputFlushMillis as a time.Duration.
func (c ViewerConfig) InputFlushInterval() time.Duration {
	return time.Duration(c.InputFlushMillis) * time.Millisecond
}

// ViewportCommitDebounce returns ViewportCommitDebounceMillis as a time.Duration.
func (c ViewerConfig) ViewportCommitDebounce() time.Duration {
	return time.Duration(c.ViewportCommitDebounceMillis) * time.Millisecond
}

// LoadFile reads a YAML file of overrides on top of Default. Missing fields
// keep their default value.
func LoadFile(path string) (ViewerConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}
