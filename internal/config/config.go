// Package config provides an optional TOML file loader that builds a
// session.Config. It is deliberately separate from internal/dist/session:
// the Session API itself takes an explicit Config value and never reads
// ambient configuration (SPEC_FULL.md §6), so this package exists purely
// for callers who want to keep tunables in a file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/erldist/internal/dist/session"
)

// FileConfig is the on-disk shape, in seconds/counts for the duration
// fields so the TOML stays plain numbers rather than duration strings.
type FileConfig struct {
	ConnectTimeoutSeconds   float64 `toml:"connect_timeout_seconds"`
	HandshakeTimeoutSeconds float64 `toml:"handshake_timeout_seconds"`
	TickIntervalSeconds     float64 `toml:"tick_interval_seconds"`

	OutboundQueueDepth   int `toml:"outbound_queue_depth"`
	FragmentThreshold    int `toml:"fragment_threshold_bytes"`
	MaxInFlightFragments int `toml:"max_in_flight_fragments"`

	ShutdownFlushDeadlineSeconds float64 `toml:"shutdown_flush_deadline_seconds"`

	Backoff BackoffFileConfig `toml:"backoff"`
}

type BackoffFileConfig struct {
	InitialSeconds float64 `toml:"initial_seconds"`
	Multiplier     float64 `toml:"multiplier"`
	MaxSeconds     float64 `toml:"max_seconds"`
}

// LoadConfig reads path as TOML and overlays any fields it sets onto
// session.DefaultConfig(), grounded on the teacher's
// LoadGhostConfig/loadToml pattern of defaulting then validating.
func LoadConfig(path string) (session.Config, error) {
	var file FileConfig
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return session.Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	cfg := session.DefaultConfig()
	applyDuration(&cfg.ConnectTimeout, file.ConnectTimeoutSeconds)
	applyDuration(&cfg.HandshakeTimeout, file.HandshakeTimeoutSeconds)
	applyDuration(&cfg.TickInterval, file.TickIntervalSeconds)
	applyDuration(&cfg.ShutdownFlushDeadline, file.ShutdownFlushDeadlineSeconds)
	if file.OutboundQueueDepth > 0 {
		cfg.OutboundQueueDepth = file.OutboundQueueDepth
	}
	if file.FragmentThreshold > 0 {
		cfg.FragmentThreshold = file.FragmentThreshold
	}
	if file.MaxInFlightFragments > 0 {
		cfg.MaxInFlightFragments = file.MaxInFlightFragments
	}
	applyDuration(&cfg.Backoff.Initial, file.Backoff.InitialSeconds)
	applyDuration(&cfg.Backoff.Max, file.Backoff.MaxSeconds)
	if file.Backoff.Multiplier > 0 {
		cfg.Backoff.Multiplier = file.Backoff.Multiplier
	}

	if err := cfg.Validate(); err != nil {
		return session.Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func applyDuration(field *time.Duration, seconds float64) {
	if seconds > 0 {
		*field = time.Duration(seconds * float64(time.Second))
	}
}
