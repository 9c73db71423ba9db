// Package retry implements the resilient invocation layer: a sequential
// attempt loop with exponential backoff, jitter, and classification-aware
// short-circuiting for failures that retrying cannot fix.
package retry

import (
	"time"

	"github.com/goliatone/go-mailauth/core"
)

const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitterFactor = 0.1

	// Wait applied to a 429 that carried no Retry-After header.
	DefaultRateLimitFallbackDelay = 60 * time.Second
)

// Policy bounds the attempt loop. Construct through PolicyFromConfig or
// DefaultPolicy so zero fields are normalized.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		JitterFactor: DefaultJitterFactor,
	}
}

func PolicyFromConfig(cfg core.RetryConfig) Policy {
	policy := Policy{
		MaxAttempts:  cfg.MaxAttempts,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		JitterFactor: cfg.JitterFactor,
	}
	return policy.normalize()
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	// Zero means unset; callers that want deterministic delays pass a
	// random source that always yields zero.
	if p.JitterFactor <= 0 || p.JitterFactor > 1 {
		p.JitterFactor = DefaultJitterFactor
	}
	return p
}

// Delay computes the wait before attempt attemptIndex+2: exponential
// growth scaled by random jitter, clamped to MaxDelay. random must return
// values in [0, 1).
func (p Policy) Delay(attemptIndex int, random float64) time.Duration {
	policy := p.normalize()
	if attemptIndex < 0 {
		attemptIndex = 0
	}

	raw := float64(policy.BaseDelay)
	for i := 0; i < attemptIndex; i++ {
		raw *= policy.Multiplier
		if time.Duration(raw) >= policy.MaxDelay {
			raw = float64(policy.MaxDelay)
			break
		}
	}

	if random < 0 {
		random = 0
	} else if random >= 1 {
		random = 1
	}
	jittered := raw * (1 + random*policy.JitterFactor)

	delay := time.Duration(jittered)
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if delay < 0 {
		delay = policy.MaxDelay
	}
	return delay
}
