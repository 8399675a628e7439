// Package session implements C11 (and C10's in-process defaults): the
// Session API of SPEC_FULL.md §6 over the two-goroutine concurrency
// model of §5.
package session

import "time"

// BackoffConfig configures the optional reconnect-backoff helper
// (SPEC_FULL.md §4.11), grounded on
// internal/protocol/session/backoff.go's exponential-backoff-with-jitter
// shape. Connect itself never retries; this is a caller-side
// convenience used between separate Connect attempts.
type BackoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Config is the session's explicit tunable set. SPEC_FULL.md §6 requires
// the core to read no ambient configuration, so every field here must be
// supplied by the caller (optionally built from internal/config's TOML
// loader, which lives in a separate package precisely so it is never
// consulted internally).
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	TickInterval     time.Duration

	OutboundQueueDepth int
	FragmentThreshold  int
	MaxInFlightFragments int

	ShutdownFlushDeadline time.Duration

	Backoff BackoffConfig

	// DisplaceExistingConnection answers the handshake's recv_status
	// "alive" case (spec.md §4.5): true sends "true" and displaces a
	// still-live prior connection under this node's name, continuing the
	// handshake; false sends "false" and defers to the existing
	// connection, aborting this Connect attempt.
	DisplaceExistingConnection bool
}

// DefaultConfig returns the tunables named in SPEC_FULL.md §4.10: a
// 5-second connect/handshake timeout, OTP's default 60-second tick
// interval, a 1024-deep outbound queue, a 64 KiB fragment threshold, a
// 32-sequence fragment reassembly bound, and a 5-second shutdown flush
// deadline.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:        5 * time.Second,
		HandshakeTimeout:      5 * time.Second,
		TickInterval:          60 * time.Second,
		OutboundQueueDepth:    1024,
		FragmentThreshold:     64 * 1024,
		MaxInFlightFragments:  32,
		ShutdownFlushDeadline: 5 * time.Second,
		Backoff: BackoffConfig{
			Initial:    250 * time.Millisecond,
			Multiplier: 2.0,
			Max:        5 * time.Second,
		},
		DisplaceExistingConnection: true,
	}
}

// Validate checks the tunables for the fields this config contract
// actually requires to make progress.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return errInvalidConfig("ConnectTimeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errInvalidConfig("HandshakeTimeout must be positive")
	}
	if c.TickInterval <= 0 {
		return errInvalidConfig("TickInterval must be positive")
	}
	if c.OutboundQueueDepth <= 0 {
		return errInvalidConfig("OutboundQueueDepth must be positive")
	}
	if c.FragmentThreshold <= 0 {
		return errInvalidConfig("FragmentThreshold must be positive")
	}
	if c.MaxInFlightFragments <= 0 {
		return errInvalidConfig("MaxInFlightFragments must be positive")
	}
	if c.ShutdownFlushDeadline <= 0 {
		return errInvalidConfig("ShutdownFlushDeadline must be positive")
	}
	return nil
}
