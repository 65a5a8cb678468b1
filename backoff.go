package brainrot

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	Base time.Duration
	Cap  time.Duration
	// MaxAttempts bounds consecutive failed attempts; 0 retries forever.
	MaxAttempts int
	Jitter      bool
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        time.Second,
		Cap:         2 * time.Minute,
		MaxAttempts: 10,
		Jitter:      true,
	}
}

// BackoffState is the supervisor's retry position. Attempt counts consecutive
// failures since the last Ready session.
type BackoffState struct {
	Attempt   int           `json:"attempt"`
	NextDelay time.Duration `json:"next_delay"`
}

// NextBackoffDelay returns min(Base*2^attempt, Cap) plus, when enabled, a
// jitter in [0, delay/2). attempt is 0-based.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := cfg.Base
	for i := 0; i < attempt; i++ {
		if cfg.Cap > 0 && delay >= cfg.Cap {
			break
		}
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if cfg.Cap > 0 && delay > cfg.Cap {
		delay = cfg.Cap
	}
	if cfg.Jitter {
		if half := int64(delay / 2); half > 0 && int64(delay) <= math.MaxInt64-half {
			if rng != nil {
				delay += time.Duration(rng.Int63n(half))
			} else {
				delay += time.Duration(rand.Int63n(half))
			}
		}
	}
	return delay
}
