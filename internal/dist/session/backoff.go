package session

import (
	"math/rand"
	"time"
)

// NextBackoffDelay computes the delay before reconnect attempt number
// attempt (0-indexed), exponential with full jitter, grounded on
// internal/protocol/session/backoff.go's NextBackoffDelay.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.Initial <= 0 {
		return 0
	}
	mult := cfg.Multiplier
	if mult <= 1 {
		mult = 2.0
	}
	delay := float64(cfg.Initial)
	for i := 0; i < attempt; i++ {
		delay *= mult
		if cfg.Max > 0 && delay >= float64(cfg.Max) {
			delay = float64(cfg.Max)
			break
		}
	}
	if cfg.Max > 0 && delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}
	if rng != nil {
		delay = rng.Float64() * delay
	}
	return time.Duration(delay)
}
