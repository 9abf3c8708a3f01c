package resilience

import (
	"strings"
	"time"
)

// Retry bounds the attempt loop for one backend call.
type Retry struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Breaker configures the per-operation circuit breaker.
type Breaker struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

type Policy struct {
	Retry   Retry
	Breaker Breaker
}

// Config holds the default policy plus overrides keyed by operation
// prefix ("ollama.chat", "nats."). The longest matching prefix wins.
type Config struct {
	Default  Policy
	Profiles map[string]Policy
}

// DefaultConfig tunes each backend separately: generation calls are
// expensive so they retry once and trip a patient breaker, embedding
// and queue publishes are cheap and retried harder, web search quota
// failures keep the breaker open longest.
func DefaultConfig() Config {
	return Config{
		Default: Policy{
			Retry: Retry{
				MaxAttempts:    3,
				InitialBackoff: 100 * time.Millisecond,
				MaxBackoff:     400 * time.Millisecond,
				Multiplier:     2.0,
			},
			Breaker: Breaker{
				Enabled:          true,
				MinRequests:      10,
				FailureRatio:     0.5,
				OpenTimeout:      30 * time.Second,
				HalfOpenMaxCalls: 2,
			},
		},
		Profiles: map[string]Policy{
			"ollama.chat": {
				Retry: Retry{
					MaxAttempts:    2,
					InitialBackoff: 200 * time.Millisecond,
					MaxBackoff:     800 * time.Millisecond,
					Multiplier:     2.0,
				},
				Breaker: Breaker{
					Enabled:          true,
					MinRequests:      6,
					FailureRatio:     0.5,
					OpenTimeout:      45 * time.Second,
					HalfOpenMaxCalls: 1,
				},
			},
			"ollama.embed": {
				Retry: Retry{
					MaxAttempts:    4,
					InitialBackoff: 100 * time.Millisecond,
					MaxBackoff:     800 * time.Millisecond,
					Multiplier:     2.0,
				},
				Breaker: Breaker{
					Enabled:          true,
					MinRequests:      10,
					FailureRatio:     0.5,
					OpenTimeout:      30 * time.Second,
					HalfOpenMaxCalls: 2,
				},
			},
			"nats.": {
				Retry: Retry{
					MaxAttempts:    4,
					InitialBackoff: 50 * time.Millisecond,
					MaxBackoff:     400 * time.Millisecond,
					Multiplier:     2.0,
				},
				Breaker: Breaker{
					Enabled:          true,
					MinRequests:      12,
					FailureRatio:     0.6,
					OpenTimeout:      15 * time.Second,
					HalfOpenMaxCalls: 2,
				},
			},
			"websearch.": {
				Retry: Retry{
					MaxAttempts:    2,
					InitialBackoff: 150 * time.Millisecond,
					MaxBackoff:     600 * time.Millisecond,
					Multiplier:     2.0,
				},
				Breaker: Breaker{
					Enabled:          true,
					MinRequests:      8,
					FailureRatio:     0.5,
					OpenTimeout:      time.Minute,
					HalfOpenMaxCalls: 1,
				},
			},
		},
	}
}

func (c Config) policyFor(operation string) Policy {
	best := ""
	policy := c.Default
	for prefix, p := range c.Profiles {
		if strings.HasPrefix(operation, prefix) && len(prefix) > len(best) {
			best = prefix
			policy = p
		}
	}
	return policy.normalize()
}

func (p Policy) normalize() Policy {
	def := DefaultConfig().Default
	out := p

	if out.Retry.MaxAttempts <= 0 {
		out.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if out.Retry.InitialBackoff <= 0 {
		out.Retry.InitialBackoff = def.Retry.InitialBackoff
	}
	if out.Retry.MaxBackoff <= 0 {
		out.Retry.MaxBackoff = def.Retry.MaxBackoff
	}
	if out.Retry.MaxBackoff < out.Retry.InitialBackoff {
		out.Retry.MaxBackoff = out.Retry.InitialBackoff
	}
	if out.Retry.Multiplier < 1.0 {
		out.Retry.Multiplier = def.Retry.Multiplier
	}

	if out.Breaker.MinRequests == 0 {
		out.Breaker.MinRequests = def.Breaker.MinRequests
	}
	if out.Breaker.FailureRatio <= 0 || out.Breaker.FailureRatio > 1 {
		out.Breaker.FailureRatio = def.Breaker.FailureRatio
	}
	if out.Breaker.OpenTimeout <= 0 {
		out.Breaker.OpenTimeout = def.Breaker.OpenTimeout
	}
	if out.Breaker.HalfOpenMaxCalls == 0 {
		out.Breaker.HalfOpenMaxCalls = def.Breaker.HalfOpenMaxCalls
	}

	return out
}
